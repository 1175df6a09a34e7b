// Package registry implements the "kindergarten": the single mutable,
// mutex-guarded store of live child processes. It is the only mutation
// point for process lifecycle in the daemon.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/kinderr"
	"github.com/ccqpein/supervisor-rs/spawner"
)

// Reserved names may never be used as a child name.
var reservedNames = map[string]struct{}{
	"all":      {},
	"on":       {},
	"restart":  {},
	"start":    {},
	"stop":     {},
	"trystart": {},
	"kill":     {},
	"check":    {},
	"info":     {},
	"help":     {},
	"-h":       {},
}

// Legal reports whether name is usable as a child name: not "all", not
// "on", and not a verb keyword.
func Legal(name string) bool {
	if name == "" {
		return false
	}
	_, reserved := reservedNames[strings.ToLower(name)]
	return !reserved
}

type entry struct {
	handle *spawner.Handle
	config *config.ChildConfig
}

// Registry is the process-global child store. The zero value is not
// usable; construct with New.
//
// Every mutating or reading method except Len comes in two forms: a public
// one that acquires mu itself, and a "*Locked" one that assumes the caller
// already holds it. The engine uses Lock/Unlock plus the Locked forms to serialize
// an entire multi-step dispatch (hook resolution, hook execution, and the
// final mutation) under one lock acquisition; everything else (tests, the
// daemon's boot-time cohort start) uses the public forms.
type Registry struct {
	mu sync.Mutex

	byPid  map[int]*entry
	byName map[string]int

	logger hclog.Logger
}

// New builds an empty registry.
func New(logger hclog.Logger) *Registry {
	return &Registry{
		byPid:  make(map[int]*entry),
		byName: make(map[string]int),
		logger: logger.Named("registry"),
	}
}

// Lock acquires the registry's single mutex so a caller can run several
// Locked operations as one atomic step. Must be paired with Unlock.
func (r *Registry) Lock() { r.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (r *Registry) Unlock() { r.mu.Unlock() }

// Start spawns name from cfg and registers it. Fails with ErrAlreadyExists
// if name is already registered.
func (r *Registry) Start(name string, cfg *config.ChildConfig) (*config.ChildConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StartLocked(name, cfg)
}

// StartLocked is Start's body for a caller already holding the lock.
func (r *Registry) StartLocked(name string, cfg *config.ChildConfig) (*config.ChildConfig, error) {
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("%w: child %q", kinderr.ErrAlreadyExists, name)
	}

	h, live, err := spawner.Spawn(r.logger, cfg)
	if err != nil {
		return nil, err
	}

	pid := *live.Pid
	r.byPid[pid] = &entry{handle: h, config: live}
	r.byName[name] = pid
	r.logger.Debug("registered child", "child", name, "pid", pid)
	return live, nil
}

// Stop stops name. "all" delegates to StopAll. Empty names are rejected.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StopNamedOrAllLocked(name)
}

// StopNamedOrAllLocked is Stop's body for a caller already holding the lock.
func (r *Registry) StopNamedOrAllLocked(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty child name", kinderr.ErrInvalidCommand)
	}
	if strings.EqualFold(name, "all") {
		return r.StopAllLocked()
	}
	return r.StopLocked(name)
}

// StopLocked stops a single named child for a caller already holding the
// lock.
func (r *Registry) StopLocked(name string) error {
	pid, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: child %q", kinderr.ErrNotFound, name)
	}
	e, ok := r.byPid[pid]
	if !ok {
		return fmt.Errorf("%w: child %q pid %d missing from by_pid", kinderr.ErrRegistryCorrupt, name, pid)
	}

	if err := e.handle.Cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Warn("kill signal failed", "child", name, "pid", pid, "error", err)
		return fmt.Errorf("%w: %q: %v", kinderr.ErrKillFailed, name, err)
	}
	if _, err := e.handle.Cmd.Process.Wait(); err != nil {
		r.logger.Warn("wait after kill failed", "child", name, "pid", pid, "error", err)
		return fmt.Errorf("%w: %q: %v", kinderr.ErrKillFailed, name, err)
	}
	e.handle.Close()

	delete(r.byPid, pid)
	delete(r.byName, name)
	r.logger.Debug("stopped child", "child", name, "pid", pid)
	return nil
}

// StopAll stops every registered child. The first failure aborts the
// sweep; children stopped before the failure remain stopped.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StopAllLocked()
}

// StopAllLocked is StopAll's body for a caller already holding the lock.
func (r *Registry) StopAllLocked() error {
	names := r.NamesLocked()
	for _, n := range names {
		if err := r.StopLocked(n); err != nil {
			return err
		}
	}
	return nil
}

// Restart stops then starts name atomically under one lock acquisition.
func (r *Registry) Restart(name string, cfg *config.ChildConfig) (*config.ChildConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RestartLocked(name, cfg)
}

// RestartLocked is Restart's body for a caller already holding the lock.
func (r *Registry) RestartLocked(name string, cfg *config.ChildConfig) (*config.ChildConfig, error) {
	if _, exists := r.byName[name]; exists {
		if err := r.StopLocked(name); err != nil {
			return nil, err
		}
	}
	return r.StartLocked(name, cfg)
}

// Reap ("check_around") non-blockingly probes every registered pid and
// removes any that have exited. Returns ErrRegistryCorrupt if the two maps
// fall out of sync with each other, a hard invariant violation the
// registry will not attempt to auto-repair.
func (r *Registry) Reap() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ReapLocked()
}

// ReapLocked is Reap's body for a caller already holding the lock.
func (r *Registry) ReapLocked() error {
	for pid, e := range r.byPid {
		var ws unix.WaitStatus
		got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err != nil || got != pid {
			continue
		}

		var name string
		for n, p := range r.byName {
			if p == pid {
				name = n
				break
			}
		}
		e.handle.Close()
		delete(r.byPid, pid)
		if name != "" {
			delete(r.byName, name)
		}
		r.logger.Debug("reaped exited child", "child", name, "pid", pid)
	}

	if len(r.byPid) != len(r.byName) {
		r.logger.Error("registry invariant violated", "by_pid", len(r.byPid), "by_name", len(r.byName))
		return kinderr.ErrRegistryCorrupt
	}
	return nil
}

// HasChild returns the pid of name, if registered.
func (r *Registry) HasChild(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.HasChildLocked(name)
}

// HasChildLocked is HasChild's body for a caller already holding the lock.
func (r *Registry) HasChildLocked(name string) (int, bool) {
	pid, ok := r.byName[name]
	return pid, ok
}

// GetConfig returns the live config of name, if registered.
func (r *Registry) GetConfig(name string) (*config.ChildConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.GetConfigLocked(name)
}

// GetConfigLocked is GetConfig's body for a caller already holding the lock.
func (r *Registry) GetConfigLocked(name string) (*config.ChildConfig, bool) {
	pid, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byPid[pid].config, true
}

// Names returns a sorted snapshot of every registered name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.NamesLocked()
}

// NamesLocked is Names's body for a caller already holding the lock.
func (r *Registry) NamesLocked() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Status reaps, then renders a human-readable dump of one child (name) or
// every child (name == "" or "all").
func (r *Registry) Status(name string) string {
	if err := r.Reap(); err != nil {
		return err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StatusLocked(name)
}

// StatusLocked is Status's rendering step for a caller already holding the
// lock; unlike Status it does not reap first, since a caller serializing a
// whole dispatch under one lock acquisition has already reaped at the top
// of that dispatch.
func (r *Registry) StatusLocked(name string) string {
	if name == "" || strings.EqualFold(name, "all") {
		var b strings.Builder
		for _, n := range r.NamesLocked() {
			b.WriteString(r.statusOneLocked(n))
		}
		return b.String()
	}

	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%w: child %q", kinderr.ErrNotFound, name).Error()
	}
	return r.statusOneLocked(name)
}

func (r *Registry) statusOneLocked(name string) string {
	pid := r.byName[name]
	e := r.byPid[pid]
	var b strings.Builder
	fmt.Fprintf(&b, "child name: %s\n", name)
	fmt.Fprintf(&b, "processing id: %d\n", pid)
	b.WriteString(e.config.String())
	return b.String()
}

// Len returns |by_name| (== |by_pid| whenever invariant 1 holds).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}
