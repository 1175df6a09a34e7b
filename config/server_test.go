package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths:
  - /etc/supervisor-rs/children
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeQuiet, cfg.Mode)
	assert.False(t, cfg.EncryptMode)
	assert.Equal(t, "0.0.0.0", cfg.ListenerAddr)
	assert.Nil(t, cfg.StartupList)
}

func TestLoadServerConfigIPv6Default(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths: [/etc/children]
ipv6: true
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "::", cfg.ListenerAddr)
}

func TestLoadServerConfigExplicitAddrWins(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths: [/etc/children]
ipv6: true
listener_addr: 127.0.0.1:9000
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenerAddr)
}

func TestLoadServerConfigHalfModeStartupList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths: [/etc/children]
mode: half
startup:
  - child1
  - child2
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ModeHalf, cfg.Mode)
	_, ok := cfg.StartupList["child1"]
	assert.True(t, ok)
	_, ok = cfg.StartupList["child2"]
	assert.True(t, ok)
	assert.Len(t, cfg.StartupList, 2)
}

func TestLoadServerConfigEncryptOn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths: [/etc/children]
encrypt: on
pub_keys_path:
  - /etc/supervisor-rs/keys
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.EncryptMode)
	assert.Equal(t, []string{"/etc/supervisor-rs/keys"}, cfg.KeysPath)
}

func TestLoadServerConfigRejectsUnknownMode(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths: [/etc/children]
mode: chaotic
`)
	_, err := LoadServerConfig(path)
	require.Error(t, err)
}

func TestLoadServerConfigRejectsUnknownEncrypt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yml", `
loadpaths: [/etc/children]
encrypt: maybe
`)
	_, err := LoadServerConfig(path)
	require.Error(t, err)
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig("/nonexistent/path/server.yml")
	require.Error(t, err)
}
