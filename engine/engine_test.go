package engine

import (
	"os"
	"path/filepath"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/kinderr"
	"github.com/ccqpein/supervisor-rs/registry"
)

type fakeScheduler struct {
	armed []string
}

func (f *fakeScheduler) Arm(verb, name string, pid int, repeat *config.Repeat) {
	f.armed = append(f.armed, verb+" "+name)
}

func (f *fakeScheduler) Invalidate(name string) {}

func writeChildYAML(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name+".yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func newTestEngine(t *testing.T, loadPaths []string) (*Engine, *fakeScheduler) {
	logger := hclog.NewNullLogger()
	reg := registry.New(logger)
	sched := &fakeScheduler{}

	srvCfg := &config.ServerConfig{
		Path:         "/tmp/server.yml",
		LoadPaths:    loadPaths,
		Mode:         config.ModeQuiet,
		ListenerAddr: "127.0.0.1:0",
	}

	e := &Engine{
		Registry: reg,
		ServerConfig: func() (*config.ServerConfig, error) {
			return srvCfg, nil
		},
		Scheduler:    sched,
		Logger:       logger,
		ListenerAddr: func() string { return "127.0.0.1:0" },
	}
	return e, sched
}

func TestEngineStartThenCheck(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "child1", "command: /bin/sleep 30\n")

	e, _ := newTestEngine(t, []string{dir})

	reply := e.Handle("start child1")
	assert.Contains(t, reply, "success")

	status := e.Handle("check child1")
	assert.Contains(t, status, "child1")

	_, _, err := e.doStop("child1")
	require.NoError(t, err)
}

func TestEngineDuplicateStartRejected(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "child1", "command: /bin/sleep 30\n")

	e, _ := newTestEngine(t, []string{dir})
	reply := e.Handle("start child1")
	require.Contains(t, reply, "success")
	defer e.doStop("child1")

	reply = e.Handle("start child1")
	assert.Contains(t, reply, "already exsits")
}

func TestEngineStartArmsRepeatScheduler(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "child1", "command: /bin/sleep 30\nrepeat:\n  action: restart\n  seconds: 30\n")

	e, sched := newTestEngine(t, []string{dir})
	reply := e.Handle("start child1")
	require.Contains(t, reply, "success")
	defer e.doStop("child1")

	assert.Contains(t, reply, "will restart in 30s")
	require.Len(t, sched.armed, 1)
	assert.Equal(t, "restart child1", sched.armed[0])
}

func TestEngineHookCycleRefused(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "a", "command: /bin/true\nhooks:\n  - prehook: start b\n")
	writeChildYAML(t, dir, "b", "command: /bin/true\nhooks:\n  - prehook: start a\n")

	e, _ := newTestEngine(t, []string{dir})
	reply := e.Handle("start a")
	assert.Contains(t, reply, "cannot pass recursive check")
}

func TestEngineHookMissingDependency(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "a", "command: /bin/true\nhooks:\n  - prehook: start ghost\n")

	e, _ := newTestEngine(t, []string{dir})
	reply := e.Handle("start a")
	assert.Contains(t, reply, "missing hook dependency")
}

func TestEngineStartWithValidPrehookChain(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "base", "command: /bin/sleep 30\n")
	writeChildYAML(t, dir, "top", "command: /bin/sleep 30\nhooks:\n  - prehook: start base\n")

	e, _ := newTestEngine(t, []string{dir})
	reply := e.Handle("start top")
	require.Contains(t, reply, "success")
	defer e.doStop("top")
	defer e.doStop("base")

	pid, ok := e.Registry.HasChild("base")
	assert.True(t, ok)
	assert.Greater(t, pid, 0)
}

func TestEngineIllegalChildNameRejected(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	reply := e.Handle("start all")
	assert.Contains(t, reply, "invalid command")
}

func TestEngineKillReturnsSentinel(t *testing.T) {
	dir := t.TempDir()
	writeChildYAML(t, dir, "child1", "command: /bin/sleep 30\n")

	e, _ := newTestEngine(t, []string{dir})
	reply := e.Handle("start child1")
	require.Contains(t, reply, "success")

	reply = e.Handle("kill")
	assert.Contains(t, reply, "I am dying.")

	_, ok := e.Registry.HasChild("child1")
	assert.False(t, ok)
}

func TestEngineUnknownCommandLine(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	reply := e.Handle("")
	assert.NotEmpty(t, reply)
}

func TestIsAlreadyRunningHelper(t *testing.T) {
	err := kinderr.ErrAlreadyExists
	assert.True(t, isAlreadyRunning(err))
	assert.False(t, isAlreadyRunning(kinderr.ErrNotFound))
}
