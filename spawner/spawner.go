// Package spawner starts one OS process from a child config, wiring up
// stdio redirection and stamping the live pid/start_time fields back onto
// a cloned config.
package spawner

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/kinderr"
)

// Handle wraps the OS process started for one child. The registry is the
// only owner of a Handle; nothing else may kill or wait on it.
type Handle struct {
	Cmd *exec.Cmd

	stdoutFile *os.File
	stderrFile *os.File
}

// Close releases the sink file descriptors this handle opened. Safe to
// call once the process has exited and been reaped.
func (h *Handle) Close() {
	if h.stdoutFile != nil {
		h.stdoutFile.Close()
	}
	if h.stderrFile != nil && h.stderrFile != h.stdoutFile {
		h.stderrFile.Close()
	}
}

func openSink(s *config.Sink) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	switch s.Mode {
	case config.SinkCreate:
		flags |= os.O_TRUNC
	case config.SinkAppend:
		flags |= os.O_APPEND
	default:
		return nil, fmt.Errorf("%w: unknown sink mode %q", kinderr.ErrSpawnFailed, s.Mode)
	}
	f, err := os.OpenFile(s.Path, flags, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Spawn starts cfg.CommandLine as a new OS process. On success it returns
// a Handle plus a cloned ChildConfig with Pid/StartTime stamped in; the
// caller (the registry) owns both from this point on.
func Spawn(logger hclog.Logger, cfg *config.ChildConfig) (*Handle, *config.ChildConfig, error) {
	fields := strings.Fields(cfg.CommandLine)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("%w: empty command line for %q", kinderr.ErrSpawnFailed, cfg.Name)
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}

	h := &Handle{Cmd: cmd}

	if cfg.Stdout != nil {
		f, err := openSink(cfg.Stdout)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: stdout sink for %q: %v", kinderr.ErrSpawnFailed, cfg.Name, err)
		}
		h.stdoutFile = f
		cmd.Stdout = f
	}
	if cfg.Stderr != nil {
		if cfg.Stdout != nil && cfg.Stderr.Path == cfg.Stdout.Path && cfg.Stderr.Mode == cfg.Stdout.Mode {
			h.stderrFile = h.stdoutFile
			cmd.Stderr = h.stdoutFile
		} else {
			f, err := openSink(cfg.Stderr)
			if err != nil {
				h.Close()
				return nil, nil, fmt.Errorf("%w: stderr sink for %q: %v", kinderr.ErrSpawnFailed, cfg.Name, err)
			}
			h.stderrFile = f
			cmd.Stderr = f
		}
	}

	if err := cmd.Start(); err != nil {
		h.Close()
		logger.Error("spawn failed", "child", cfg.Name, "command", cfg.CommandLine, "error", err)
		return nil, nil, fmt.Errorf("%w: %q: %v", kinderr.ErrSpawnFailed, cfg.CommandLine, err)
	}

	live := cfg.Clone()
	pid := cmd.Process.Pid
	live.Pid = &pid
	now := time.Now()
	live.StartTime = &now

	logger.Debug("spawned child", "child", cfg.Name, "pid", pid)
	return h, live, nil
}
