// Package hooks resolves a child's prehook chain into an ordered plan of
// operations, with cycle detection. Planning is kept separate from
// execution (the engine executes the returned plan) so cycles are caught
// before any side effect happens.
package hooks

import (
	"fmt"
	"strings"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/kinderr"
)

// Step is one entry of a resolved hook plan: run Verb against the child
// named Name using Config.
type Step struct {
	Verb   string
	Name   string
	Config *config.ChildConfig
}

// Loader resolves a child's config from disk by name, mirroring the
// engine's own config loading so the resolver never needs the registry.
type Loader func(name string) (*config.ChildConfig, error)

// Resolve walks startCfg's prehook chain, returning the accumulated chain
// in discovery order (shallowest first): [(verb, target, cfg), ...]. The
// caller (the engine) reverses this before executing so the deepest
// prehook runs first.
func Resolve(name string, startCfg *config.ChildConfig, load Loader) ([]Step, error) {
	visited := map[string]struct{}{name: {}}
	return resolve(name, startCfg, load, visited, nil)
}

func resolve(name string, cfg *config.ChildConfig, load Loader, visited map[string]struct{}, chain []Step) ([]Step, error) {
	pre, ok := cfg.Prehook()
	if !ok {
		return chain, nil
	}

	verb, target, err := splitHook(pre)
	if err != nil {
		return nil, err
	}

	if _, seen := visited[target]; seen {
		return nil, fmt.Errorf("%w: %q already visited from %q", kinderr.ErrCycleDetected, target, name)
	}

	targetCfg, err := load(target)
	if err != nil {
		return nil, fmt.Errorf("%w: prehook target %q for %q: %v", kinderr.ErrMissingDependency, target, name, err)
	}

	visited[target] = struct{}{}
	chain = append(chain, Step{Verb: verb, Name: target, Config: targetCfg})

	return resolve(target, targetCfg, load, visited, chain)
}

// Reversed returns a copy of steps in reverse order, so that the deepest
// prehook in the chain is first, then each caller, matching the engine's
// "reverse before executing" contract.
func Reversed(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[len(steps)-1-i] = s
	}
	return out
}

func splitHook(s string) (verb, target string, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("%w: malformed hook %q, want \"<verb> <name>\"", kinderr.ErrInvalidCommand, s)
	}
	return fields[0], fields[1], nil
}
