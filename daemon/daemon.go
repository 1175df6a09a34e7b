// Package daemon wires the registry, engine, scheduler and listener
// together and owns the process-global shutdown signal: a channel carrying
// the "I am dying" sentinel detail through to the accept loop.
package daemon

import (
	"fmt"
	"net"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/engine"
	"github.com/ccqpein/supervisor-rs/listener"
	"github.com/ccqpein/supervisor-rs/registry"
	"github.com/ccqpein/supervisor-rs/scheduler"
)

// Shell is the daemon's boot/run/shutdown lifecycle.
type Shell struct {
	ConfigPath string
	Logger     hclog.Logger

	registry *registry.Registry
	engine   *engine.Engine
	sched    *scheduler.Scheduler
	listener *listener.Listener

	shutdown chan string
	addr     string
}

// NewShell loads ServerConfig, builds an empty registry, and spawns the
// startup cohort per mode. It does not arm timers or execute hooks during
// boot: the registry is too fresh to reason about hook chains safely.
func NewShell(configPath string, logger hclog.Logger) (*Shell, error) {
	srvCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger)
	s := &Shell{
		ConfigPath: configPath,
		Logger:     logger,
		registry:   reg,
		shutdown:   make(chan string, 1),
	}

	s.sched = scheduler.New(logger, s.reenter, s.hasPid)

	s.engine = &engine.Engine{
		Registry: reg,
		ServerConfig: func() (*config.ServerConfig, error) {
			return config.LoadServerConfig(s.ConfigPath)
		},
		Scheduler:    s.sched,
		Logger:       logger.Named("engine"),
		ListenerAddr: func() string { return s.addr },
	}

	s.addr = net.JoinHostPort(srvCfg.ListenerAddr, listener.Port)

	s.listener = &listener.Listener{
		Addr:   s.addr,
		Handle: s.engine.Handle,
		ServerConfig: func() (*config.ServerConfig, error) {
			return config.LoadServerConfig(s.ConfigPath)
		},
		OnShutdown: func(tail string) { s.shutdown <- tail },
		Logger:     logger.Named("listener"),
	}

	if err := s.bootCohort(srvCfg); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Shell) reenter(body string) string {
	return s.engine.Handle(body)
}

func (s *Shell) hasPid(name string, pid int) bool {
	got, ok := s.registry.HasChild(name)
	return ok && got == pid
}

func (s *Shell) bootCohort(srvCfg *config.ServerConfig) error {
	var names []string

	switch srvCfg.Mode {
	case config.ModeQuiet:
		// empty cohort
	case config.ModeHalf:
		for name := range srvCfg.StartupList {
			if _, err := config.FindChildYAML(srvCfg.LoadPaths, name); err == nil {
				names = append(names, name)
			} else {
				s.Logger.Warn("startup list names missing child config", "child", name)
			}
		}
	case config.ModeFull:
		files, err := config.ListChildYAML(srvCfg.LoadPaths)
		if err != nil {
			return err
		}
		for _, f := range files {
			names = append(names, config.NameFromPath(f))
		}
	}

	for _, name := range names {
		cfg, err := config.LoadChildByName(srvCfg.LoadPaths, name)
		if err != nil {
			s.Logger.Error("boot: failed to load child config", "child", name, "error", err)
			continue
		}
		if _, ok := cfg.Prehook(); ok {
			s.Logger.Info("boot: child has hooks, not executed at boot", "child", name)
		}
		if cfg.Repeat != nil {
			s.Logger.Info("boot: child has repeat policy, not armed at boot", "child", name)
		}
		if _, err := s.registry.Start(name, cfg); err != nil {
			s.Logger.Error("boot: failed to start child", "child", name, "error", err)
		}
	}

	return nil
}

// Run binds the listener address and serves until a permanent listener
// error or shutdown sentinel. It returns nil on a clean sentinel-driven
// shutdown.
func (s *Shell) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.listener.Serve(ln)
	}()

	select {
	case tail := <-s.shutdown:
		s.Logger.Info("shutting down", "detail", tail)
		ln.Close()
		return nil
	case err := <-errCh:
		return err
	}
}
