package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ccqpein/supervisor-rs/kinderr"
)

// Mode selects the daemon's startup cohort.
type Mode string

const (
	ModeQuiet Mode = "quiet"
	ModeHalf  Mode = "half"
	ModeFull  Mode = "full"
)

// ServerConfig is the daemon's own bootstrap configuration, reloaded from
// disk on every request so loadpaths/keys can be hot-edited without a
// restart.
type ServerConfig struct {
	Path string

	LoadPaths    []string
	Mode         Mode
	StartupList  map[string]struct{}
	EncryptMode  bool
	KeysPath     []string
	ListenerAddr string
	IPv6         bool
}

type rawServerConfig struct {
	LoadPaths    []string `yaml:"loadpaths"`
	Mode         string   `yaml:"mode"`
	Startup      []string `yaml:"startup"`
	Encrypt      string   `yaml:"encrypt"`
	PubKeysPath  []string `yaml:"pub_keys_path"`
	ListenerAddr string   `yaml:"listener_addr"`
	IPv6         bool     `yaml:"ipv6"`
}

// LoadServerConfig reads the server's YAML bootstrap file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kinderr.ErrInvalidConfig, err)
	}

	var raw rawServerConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", kinderr.ErrInvalidConfig, err)
	}

	mode := ModeQuiet
	switch strings.ToLower(raw.Mode) {
	case "", "quiet":
		mode = ModeQuiet
	case "half":
		mode = ModeHalf
	case "full":
		mode = ModeFull
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", kinderr.ErrInvalidConfig, raw.Mode)
	}

	encrypt := false
	switch strings.ToLower(raw.Encrypt) {
	case "", "off":
		encrypt = false
	case "on":
		encrypt = true
	default:
		return nil, fmt.Errorf("%w: unknown encrypt value %q", kinderr.ErrInvalidConfig, raw.Encrypt)
	}

	addr := raw.ListenerAddr
	if addr == "" {
		if raw.IPv6 {
			addr = "::"
		} else {
			addr = "0.0.0.0"
		}
	}

	var startup map[string]struct{}
	if mode == ModeHalf {
		startup = make(map[string]struct{}, len(raw.Startup))
		for _, n := range raw.Startup {
			startup[n] = struct{}{}
		}
	}

	return &ServerConfig{
		Path:         path,
		LoadPaths:    raw.LoadPaths,
		Mode:         mode,
		StartupList:  startup,
		EncryptMode:  encrypt,
		KeysPath:     raw.PubKeysPath,
		ListenerAddr: addr,
		IPv6:         raw.IPv6,
	}, nil
}
