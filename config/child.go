// Package config loads the two YAML schemas the daemon reads: per-child
// process specifications and the server's own bootstrap configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ccqpein/supervisor-rs/kinderr"
)

// SinkMode selects how an output file is opened.
type SinkMode string

const (
	// SinkCreate truncates the file on open.
	SinkCreate SinkMode = "create"
	// SinkAppend creates the file if missing and appends otherwise.
	SinkAppend SinkMode = "append"
)

// Sink describes where one stdio stream of a child is redirected.
type Sink struct {
	Path string
	Mode SinkMode
}

// Repeat is a child-local policy scheduling one deferred re-execution of
// Action against the same child, Seconds after it last started/restarted.
type Repeat struct {
	Action  string
	Seconds int
}

// rawOutputEntry mirrors one entry of the YAML "output" list, e.g.
//
//	output:
//	  - stdout:
//	      path: /var/log/child.out
//	      mode: append
//	  - stderr: /var/log/child.err
//
// The value can be a bare path string or a mapping with path/mode.
type rawOutputEntry struct {
	Stdout *rawSink `yaml:"stdout"`
	Stderr *rawSink `yaml:"stderr"`
}

type rawSink struct {
	Path string
	Mode string
}

// UnmarshalYAML accepts both "stdout: /path" and
// "stdout: {path: /path, mode: append}" shapes, the same ambiguity
// snapetech-plexTuner's DurationString resolves for durations.
func (r *rawSink) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Path)
	}
	var aux struct {
		Path string `yaml:"path"`
		Mode string `yaml:"mode"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.Path = aux.Path
	r.Mode = aux.Mode
	return nil
}

func (r *rawSink) toSink(defaultPath string) (Sink, error) {
	path := r.Path
	if path == "" {
		path = defaultPath
	}
	mode := SinkCreate
	switch strings.ToLower(r.Mode) {
	case "", "create":
		mode = SinkCreate
	case "append":
		mode = SinkAppend
	default:
		return Sink{}, fmt.Errorf("%w: unknown sink mode %q", kinderr.ErrInvalidConfig, r.Mode)
	}
	if path == "" {
		return Sink{}, fmt.Errorf("%w: sink has no path", kinderr.ErrInvalidConfig)
	}
	return Sink{Path: path, Mode: mode}, nil
}

// rawHookEntry mirrors one entry of the YAML "hooks" list: a one-entry
// mapping whose key is "prehook" or "posthook".
type rawHookEntry struct {
	Prehook  string `yaml:"prehook"`
	Posthook string `yaml:"posthook"`
}

type rawRepeat struct {
	Action  string `yaml:"action"`
	Seconds int    `yaml:"seconds"`
}

type rawChildConfig struct {
	Command    string           `yaml:"command"`
	Output     []rawOutputEntry `yaml:"output"`
	Repeat     *rawRepeat       `yaml:"repeat"`
	Hooks      []rawHookEntry   `yaml:"hooks"`
	WorkingDir string           `yaml:"working_dir"`
}

// ChildConfig is the immutable per-child specification. It is cheap to
// clone (Clone) since the spawner stamps pid/start_time into a live copy
// rather than mutating the loaded original.
type ChildConfig struct {
	Name        string
	CommandLine string
	Stdout      *Sink
	Stderr      *Sink
	Repeat      *Repeat
	// Hooks maps "prehook"/"posthook" to a "<verb> <child-name>" string.
	Hooks      map[string]string
	WorkingDir string

	// Live fields, stamped by the spawner.
	Pid       *int
	StartTime *time.Time
}

// Clone returns a deep-enough copy for the spawner to stamp without
// mutating the loader's copy.
func (c *ChildConfig) Clone() *ChildConfig {
	clone := *c
	if c.Stdout != nil {
		s := *c.Stdout
		clone.Stdout = &s
	}
	if c.Stderr != nil {
		s := *c.Stderr
		clone.Stderr = &s
	}
	if c.Repeat != nil {
		r := *c.Repeat
		clone.Repeat = &r
	}
	if c.Hooks != nil {
		clone.Hooks = make(map[string]string, len(c.Hooks))
		for k, v := range c.Hooks {
			clone.Hooks[k] = v
		}
	}
	clone.Pid = nil
	clone.StartTime = nil
	return &clone
}

// Prehook returns the "<verb> <name>" prehook string, if any.
func (c *ChildConfig) Prehook() (string, bool) {
	v, ok := c.Hooks["prehook"]
	return v, ok
}

// Posthook returns the "<verb> <name>" posthook string, if any.
func (c *ChildConfig) Posthook() (string, bool) {
	v, ok := c.Hooks["posthook"]
	return v, ok
}

// String renders a human-readable dump used by the "check" verb.
func (c *ChildConfig) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command: %s\n", c.CommandLine)
	if c.Stdout != nil {
		fmt.Fprintf(&b, "stdout: %s (%s)\n", c.Stdout.Path, c.Stdout.Mode)
	}
	if c.Stderr != nil {
		fmt.Fprintf(&b, "stderr: %s (%s)\n", c.Stderr.Path, c.Stderr.Mode)
	}
	if c.Repeat != nil {
		fmt.Fprintf(&b, "repeat: %s every %ds\n", c.Repeat.Action, c.Repeat.Seconds)
	}
	for k, v := range c.Hooks {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	if c.Pid != nil {
		fmt.Fprintf(&b, "pid: %d\n", *c.Pid)
	}
	return b.String()
}

// LoadChildConfig reads and validates one child YAML file. The child's
// name is the file's stem (base name without extension).
func LoadChildConfig(path string) (*ChildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kinderr.ErrInvalidConfig, err)
	}

	var raw rawChildConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", kinderr.ErrInvalidConfig, err)
	}
	if strings.TrimSpace(raw.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", kinderr.ErrInvalidConfig)
	}

	cfg := &ChildConfig{
		Name:        NameFromPath(path),
		CommandLine: raw.Command,
		WorkingDir:  raw.WorkingDir,
	}

	for _, entry := range raw.Output {
		if entry.Stdout != nil {
			s, err := entry.Stdout.toSink("")
			if err != nil {
				return nil, err
			}
			sink := s
			cfg.Stdout = &sink
		}
		if entry.Stderr != nil {
			s, err := entry.Stderr.toSink("")
			if err != nil {
				return nil, err
			}
			sink := s
			cfg.Stderr = &sink
		}
	}

	if raw.Repeat != nil {
		action := raw.Repeat.Action
		if action == "" {
			action = "restart"
		}
		if raw.Repeat.Seconds <= 0 {
			return nil, fmt.Errorf("%w: repeat.seconds must be > 0", kinderr.ErrInvalidConfig)
		}
		cfg.Repeat = &Repeat{Action: action, Seconds: raw.Repeat.Seconds}
	}

	if len(raw.Hooks) > 0 {
		cfg.Hooks = make(map[string]string, len(raw.Hooks))
		for _, h := range raw.Hooks {
			if h.Prehook != "" {
				cfg.Hooks["prehook"] = h.Prehook
			}
			if h.Posthook != "" {
				cfg.Hooks["posthook"] = h.Posthook
			}
		}
	}

	return cfg, nil
}

// NameFromPath returns a child's name: the file stem of a YAML path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// FindChildYAML searches loadPaths in order for "<name>.yml" or
// "<name>.yaml" and returns the first match.
func FindChildYAML(loadPaths []string, name string) (string, error) {
	for _, dir := range loadPaths {
		for _, ext := range []string{".yml", ".yaml"} {
			candidate := filepath.Join(dir, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no config for child %q in load paths", kinderr.ErrNotFound, name)
}

// LoadChildByName resolves and loads a child's config by name.
func LoadChildByName(loadPaths []string, name string) (*ChildConfig, error) {
	path, err := FindChildYAML(loadPaths, name)
	if err != nil {
		return nil, err
	}
	return LoadChildConfig(path)
}

// ListChildYAML returns every ".yml"/".yaml" file under every loadpath.
func ListChildYAML(loadPaths []string) ([]string, error) {
	var files []string
	for _, dir := range loadPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kinderr.ErrInvalidConfig, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext == ".yml" || ext == ".yaml" {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	return files, nil
}
