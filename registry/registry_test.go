package registry

import (
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/kinderr"
)

func newTestRegistry() *Registry {
	return New(hclog.NewNullLogger())
}

func sleeperCfg(name string) *config.ChildConfig {
	return &config.ChildConfig{Name: name, CommandLine: "/bin/sleep 30"}
}

func quickCfg(name string) *config.ChildConfig {
	return &config.ChildConfig{Name: name, CommandLine: "/bin/true"}
}

func TestLegal(t *testing.T) {
	assert.True(t, Legal("child1"))
	assert.False(t, Legal("all"))
	assert.False(t, Legal("ON"))
	assert.False(t, Legal("start"))
	assert.False(t, Legal(""))
}

func TestStartAndStop(t *testing.T) {
	r := newTestRegistry()

	live, err := r.Start("child1", sleeperCfg("child1"))
	require.NoError(t, err)
	require.NotNil(t, live.Pid)

	pid, ok := r.HasChild("child1")
	require.True(t, ok)
	assert.Equal(t, *live.Pid, pid)
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.Stop("child1"))
	_, ok = r.HasChild("child1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestStartDuplicateNameRejected(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("dup", sleeperCfg("dup"))
	require.NoError(t, err)
	defer r.Stop("dup")

	_, err = r.Start("dup", sleeperCfg("dup"))
	require.ErrorIs(t, err, kinderr.ErrAlreadyExists)
}

func TestStopUnknownChild(t *testing.T) {
	r := newTestRegistry()
	err := r.Stop("ghost")
	require.ErrorIs(t, err, kinderr.ErrNotFound)
}

func TestStopAllSweepsEverything(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("a", sleeperCfg("a"))
	require.NoError(t, err)
	_, err = r.Start("b", sleeperCfg("b"))
	require.NoError(t, err)

	require.NoError(t, r.StopAll())
	assert.Equal(t, 0, r.Len())
}

func TestRestartReplacesPid(t *testing.T) {
	r := newTestRegistry()
	first, err := r.Start("rc", sleeperCfg("rc"))
	require.NoError(t, err)
	firstPid := *first.Pid

	second, err := r.Restart("rc", sleeperCfg("rc"))
	require.NoError(t, err)
	defer r.Stop("rc")

	assert.NotEqual(t, firstPid, *second.Pid)
	assert.Equal(t, 1, r.Len())
}

func TestReapRemovesExitedChild(t *testing.T) {
	r := newTestRegistry()
	live, err := r.Start("quick", quickCfg("quick"))
	require.NoError(t, err)

	// give /bin/true time to exit.
	for i := 0; i < 50; i++ {
		if _, ok := r.byPid[*live.Pid]; !ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, r.Reap())
	}

	_, ok := r.HasChild("quick")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestStatusUnknownChild(t *testing.T) {
	r := newTestRegistry()
	out := r.Status("ghost")
	assert.Contains(t, out, "not found")
}

func TestStatusKnownChildIncludesPidAndName(t *testing.T) {
	r := newTestRegistry()
	live, err := r.Start("statuschild", sleeperCfg("statuschild"))
	require.NoError(t, err)
	defer r.Stop("statuschild")

	out := r.Status("statuschild")
	assert.Contains(t, out, "statuschild")
	assert.Contains(t, out, "/bin/sleep 30")
	_ = live
}

func TestGetConfigReturnsLiveCopy(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("cfgchild", sleeperCfg("cfgchild"))
	require.NoError(t, err)
	defer r.Stop("cfgchild")

	cfg, ok := r.GetConfig("cfgchild")
	require.True(t, ok)
	assert.Equal(t, "/bin/sleep 30", cfg.CommandLine)
}
