// Package engine implements the command engine: the single entry point
// invoked per decoded request. It validates the request, loads child
// config from disk, resolves and executes hook plans, mutates the
// registry, arms repeat timers, and builds the textual reply.
package engine

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/ccqpein/supervisor-rs/command"
	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/hooks"
	"github.com/ccqpein/supervisor-rs/kinderr"
	"github.com/ccqpein/supervisor-rs/registry"
)

// Scheduler is the subset of scheduler.Scheduler the engine needs, kept as
// an interface so tests can substitute a no-op.
type Scheduler interface {
	Arm(verb, name string, pid int, repeat *config.Repeat)
	Invalidate(name string)
}

// Engine wires a registry to disk-backed config loading and a repeat
// scheduler. One Engine is shared by every connection worker.
type Engine struct {
	Registry     *registry.Registry
	ServerConfig func() (*config.ServerConfig, error)
	Scheduler    Scheduler
	Logger       hclog.Logger

	// ListenerAddr is this daemon's own address, used to reconnect for
	// posthook execution.
	ListenerAddr func() string
}

// posthookPending is a posthook reconnection whose command has already been
// dialed and written, but whose reply has not yet been read. doStop hands
// one back to Handle so the reply read happens after the registry lock is
// released; reading it while still holding the lock would deadlock, since
// the posthook's own Handle call blocks acquiring that same lock until this
// one releases it.
type posthookPending struct {
	name     string
	posthook string
	conn     net.Conn
}

// Handle is the single entry point invoked per decoded request. It holds
// the registry lock across reap, parse, hook resolution and execution, and
// the final registry mutation, so that a concurrent connection can never
// interleave a start/stop/restart between those steps. The one exception is
// a pending posthook reconnect: its reply is read only after the lock is
// released, so the posthook's own Handle call (re-entering this same
// listener) is never blocked on a lock its caller is still holding.
func (e *Engine) Handle(body string) string {
	e.Registry.Lock()
	reply, pending, err := e.handleLocked(body)
	e.Registry.Unlock()

	if pending != nil {
		reply = e.finishPosthook(reply, pending)
	}

	if err != nil {
		if sentinel, ok := kinderr.IsSentinel(err); ok {
			return sentinel.Error()
		}
		return err.Error()
	}
	return reply
}

func (e *Engine) handleLocked(body string) (string, *posthookPending, error) {
	if err := e.Registry.ReapLocked(); err != nil {
		e.Logger.Error("reap before dispatch failed", "error", err)
		return "", nil, err
	}

	cmd, err := command.ParseLine(body)
	if err != nil {
		return "", nil, err
	}

	srvCfg, err := e.ServerConfig()
	if err != nil {
		return "", nil, fmt.Errorf("failed to load server config: %v", err)
	}

	return e.dispatch(cmd, srvCfg)
}

func (e *Engine) dispatch(cmd *command.Command, srvCfg *config.ServerConfig) (string, *posthookPending, error) {
	switch cmd.Verb {
	case command.VerbRestart:
		reply, err := e.doRestart(cmd.Name, srvCfg)
		return reply, nil, err
	case command.VerbStart:
		reply, err := e.doStart(cmd.Name, srvCfg)
		return reply, nil, err
	case command.VerbStop:
		return e.doStop(cmd.Name)
	case command.VerbTryStart:
		reply, err := e.doTryStart(cmd.Name, srvCfg)
		return reply, nil, err
	case command.VerbKill:
		reply, err := e.doKill()
		return reply, nil, err
	case command.VerbCheck:
		return e.Registry.StatusLocked(cmd.Name), nil, nil
	case command.VerbInfo:
		return e.doInfo(srvCfg), nil, nil
	case command.VerbHelp:
		// help is handled entirely client-side; the server never sees it
		// in practice, but answer harmlessly if it does.
		return "", nil, nil
	default:
		return "", nil, fmt.Errorf("%w: unhandled verb %q", kinderr.ErrInvalidCommand, cmd.Verb)
	}
}

func (e *Engine) loader(srvCfg *config.ServerConfig) hooks.Loader {
	return func(name string) (*config.ChildConfig, error) {
		return config.LoadChildByName(srvCfg.LoadPaths, name)
	}
}

// runHooks resolves and executes name's prehook chain, deepest first.
func (e *Engine) runHooks(name string, cfg *config.ChildConfig, srvCfg *config.ServerConfig) error {
	chain, err := hooks.Resolve(name, cfg, e.loader(srvCfg))
	if err != nil {
		return err
	}
	for _, step := range hooks.Reversed(chain) {
		if _, err := e.Registry.StartLocked(step.Name, step.Config); err != nil && !isAlreadyRunning(err) {
			return fmt.Errorf("prehook %s %s failed: %w", step.Verb, step.Name, err)
		}
	}
	return nil
}

func isAlreadyRunning(err error) bool {
	return errors.Is(err, kinderr.ErrAlreadyExists)
}

func (e *Engine) armIfRepeating(verb, name string, live *config.ChildConfig) string {
	if live.Repeat == nil {
		return ""
	}
	e.Scheduler.Arm(live.Repeat.Action, name, *live.Pid, live.Repeat)
	return fmt.Sprintf(", and it will %s in %ds", live.Repeat.Action, live.Repeat.Seconds)
}

func (e *Engine) doStart(name string, srvCfg *config.ServerConfig) (string, error) {
	if !command.Legal(name) {
		return "", fmt.Errorf("%w: illegal child name %q", kinderr.ErrInvalidCommand, name)
	}
	if _, exists := e.Registry.HasChildLocked(name); exists {
		return fmt.Sprintf("Cannot start this child %s, it already exsits", name), nil
	}

	cfg, err := config.LoadChildByName(srvCfg.LoadPaths, name)
	if err != nil {
		return "", err
	}
	if err := e.runHooks(name, cfg, srvCfg); err != nil {
		return "", err
	}

	live, err := e.Registry.StartLocked(name, cfg)
	if err != nil {
		return "", err
	}

	suffix := e.armIfRepeating(string(command.VerbRestart), name, live)
	return fmt.Sprintf("start %s success%s", name, suffix), nil
}

func (e *Engine) doRestart(name string, srvCfg *config.ServerConfig) (string, error) {
	if !command.Legal(name) {
		return "", fmt.Errorf("%w: illegal child name %q", kinderr.ErrInvalidCommand, name)
	}

	cfg, err := config.LoadChildByName(srvCfg.LoadPaths, name)
	if err != nil {
		return "", err
	}
	if err := e.runHooks(name, cfg, srvCfg); err != nil {
		return "", err
	}

	live, err := e.Registry.RestartLocked(name, cfg)
	if err != nil {
		return "", err
	}
	e.Scheduler.Invalidate(name)

	suffix := e.armIfRepeating(string(command.VerbRestart), name, live)
	return fmt.Sprintf("restart %s success%s", name, suffix), nil
}

func (e *Engine) doStop(name string) (string, *posthookPending, error) {
	if !command.Legal(name) && !strings.EqualFold(name, "all") {
		return "", nil, fmt.Errorf("%w: illegal child name %q", kinderr.ErrInvalidCommand, name)
	}

	var posthook string
	if cfg, ok := e.Registry.GetConfigLocked(name); ok {
		if p, ok := cfg.Posthook(); ok {
			posthook = p
		}
	}

	if err := e.Registry.StopNamedOrAllLocked(name); err != nil {
		return "", nil, err
	}
	e.Scheduler.Invalidate(name)

	reply := fmt.Sprintf("stop %s success", name)
	pending := e.dialPosthook(name, posthook)
	return reply, pending, nil
}

// dialPosthook reconnects to the local listener and writes posthook as an
// independent command, while the registry lock is still held. It does not
// wait for a reply: the posthook's own Handle call needs this same lock to
// run, so reading here would deadlock. The read happens in finishPosthook,
// after Handle has released the lock.
func (e *Engine) dialPosthook(name, posthook string) *posthookPending {
	if posthook == "" {
		return nil
	}

	addr := e.ListenerAddr()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		e.Logger.Warn("posthook dial failed", "child", name, "posthook", posthook, "error", err)
		return nil
	}
	if _, err := conn.Write([]byte(posthook)); err != nil {
		e.Logger.Warn("posthook write failed", "child", name, "posthook", posthook, "error", err)
		conn.Close()
		return nil
	}
	return &posthookPending{name: name, posthook: posthook, conn: conn}
}

// finishPosthook reads a dialed posthook's reply and, if that read fails
// before any byte arrives, folds the failure into reply. The posthook's own
// reply text is not inspected. Called only after the registry lock has been
// released.
func (e *Engine) finishPosthook(reply string, p *posthookPending) string {
	defer p.conn.Close()
	buf := make([]byte, 4096)
	n, err := p.conn.Read(buf)
	if err != nil && n == 0 {
		e.Logger.Warn("posthook failed", "child", p.name, "posthook", p.posthook, "error", err)
		return reply + fmt.Sprintf(", posthook %q failed: %v", p.posthook, err)
	}
	return reply
}

func (e *Engine) doTryStart(name string, srvCfg *config.ServerConfig) (string, error) {
	if !command.Legal(name) {
		return "", fmt.Errorf("%w: illegal child name %q", kinderr.ErrInvalidCommand, name)
	}

	if _, exists := e.Registry.HasChildLocked(name); exists {
		if _, pending, err := e.doStop(name); err != nil {
			e.Logger.Warn("trystart: stop before start failed", "child", name, "error", err)
		} else if pending != nil {
			// trystart discards stop's own reply, so there is nothing to
			// fold the posthook's result into; close without reading so
			// the lock this call still holds doesn't block the posthook's
			// own Handle call.
			pending.conn.Close()
		}
	}
	return e.doStart(name, srvCfg)
}

func (e *Engine) doKill() (string, error) {
	var failures []string
	if err := e.Registry.StopAllLocked(); err != nil {
		failures = append(failures, err.Error())
	}
	tail := "supervisor shutting down"
	if len(failures) > 0 {
		tail += "; failures: " + strings.Join(failures, "; ")
	}
	return "", kinderr.NewSentinel(tail)
}

func (e *Engine) doInfo(srvCfg *config.ServerConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "config path: %s\n", srvCfg.Path)
	fmt.Fprintf(&b, "encrypt mode: %v\n", srvCfg.EncryptMode)
	for _, lp := range srvCfg.LoadPaths {
		fmt.Fprintf(&b, "loadpath: %s\n", lp)
	}
	for _, n := range e.Registry.NamesLocked() {
		pid, _ := e.Registry.HasChildLocked(n)
		fmt.Fprintf(&b, "child: %s pid: %s\n", n, strconv.Itoa(pid))
	}
	return b.String()
}
