package scheduler

import (
	"sync"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccqpein/supervisor-rs/config"
)

func TestArmFiresAndReenters(t *testing.T) {
	var mu sync.Mutex
	var gotBody string
	done := make(chan struct{})

	reenter := func(body string) string {
		mu.Lock()
		gotBody = body
		mu.Unlock()
		close(done)
		return "ok"
	}
	hasPid := func(name string, pid int) bool { return true }

	s := New(hclog.NewNullLogger(), reenter, hasPid)
	s.Arm("restart", "child1", 42, &config.Repeat{Action: "restart", Seconds: 1})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "restart child1", gotBody)
}

func TestArmStaleTimerNoops(t *testing.T) {
	called := false
	reenter := func(body string) string {
		called = true
		return ""
	}
	hasPid := func(name string, pid int) bool { return false }

	s := New(hclog.NewNullLogger(), reenter, hasPid)
	s.Arm("restart", "child1", 42, &config.Repeat{Action: "restart", Seconds: 1})

	time.Sleep(2 * time.Second)
	assert.False(t, called)
}

func TestInvalidateRemovesTrackedTimer(t *testing.T) {
	reenter := func(body string) string { return "" }
	hasPid := func(name string, pid int) bool { return true }

	s := New(hclog.NewNullLogger(), reenter, hasPid)
	s.Arm("restart", "child1", 1, &config.Repeat{Action: "restart", Seconds: 10})

	s.mu.Lock()
	_, ok := s.timers["child1"]
	s.mu.Unlock()
	require.True(t, ok)

	s.Invalidate("child1")

	s.mu.Lock()
	_, ok = s.timers["child1"]
	s.mu.Unlock()
	assert.False(t, ok)
}
