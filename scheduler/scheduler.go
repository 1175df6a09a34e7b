// Package scheduler arms one deferred timer per repeating child. Each
// timer carries a (name, pid) snapshot validated at fire time, which is
// the correctness anchor preventing two generations of timers from racing
// for the same child.
package scheduler

import (
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/ccqpein/supervisor-rs/config"
)

// Reentry is how the scheduler re-enters the command engine when a timer
// fires: "<verb> <name>".
type Reentry func(body string) string

// HasPid reports whether name currently maps to pid in the registry; used
// to detect a stale timer at fire time.
type HasPid func(name string, pid int) bool

// Scheduler owns every armed repeat timer. Safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	reenter Reentry
	hasPid  HasPid
	logger  hclog.Logger
}

// New builds a scheduler that re-enters the engine via reenter and
// validates pid identity via hasPid.
func New(logger hclog.Logger, reenter Reentry, hasPid HasPid) *Scheduler {
	return &Scheduler{
		timers:  make(map[string]*time.Timer),
		reenter: reenter,
		hasPid:  hasPid,
		logger:  logger.Named("scheduler"),
	}
}

// Arm schedules one fire of verb against name after repeat.Seconds,
// carrying pid as the staleness anchor. Arming a new timer for a name
// that already has one replaces it (the old generation, if it still
// fires, will find the pid mismatched and no-op).
func (s *Scheduler) Arm(verb, name string, pid int, repeat *config.Repeat) {
	interval := time.Duration(repeat.Seconds) * time.Second

	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.AfterFunc(interval, func() {
		s.fire(verb, name, pid)
	})
	s.timers[name] = t
	s.logger.Debug("armed repeat timer", "child", name, "pid", pid, "verb", verb, "interval", interval)
}

func (s *Scheduler) fire(verb, name string, pid int) {
	if !s.hasPid(name, pid) {
		s.logger.Debug("stale timer, no-op", "child", name, "pid", pid)
		return
	}
	s.logger.Debug("timer fired, re-entering engine", "child", name, "verb", verb)
	s.reenter(verb + " " + name)
}

// Invalidate drops the tracked timer handle for name, if any. The timer
// itself is not cancellable; this only stops the scheduler from tracking a
// handle that a future Arm for the same name would otherwise overwrite
// silently. The real staleness defense remains the pid check in fire().
func (s *Scheduler) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, name)
}
