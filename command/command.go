// Package command implements the grammar shared by the client CLI and the
// server's command engine: VERB [NAME] (PREP OBJ)*.
package command

import (
	"fmt"
	"strings"

	"github.com/ccqpein/supervisor-rs/kinderr"
)

// Verb is one of the verb-keywords of the command grammar.
type Verb string

const (
	VerbRestart  Verb = "restart"
	VerbStart    Verb = "start"
	VerbStop     Verb = "stop"
	VerbTryStart Verb = "trystart"
	VerbKill     Verb = "kill"
	VerbCheck    Verb = "check"
	VerbInfo     Verb = "info"
	VerbHelp     Verb = "help"
)

// ParseVerb maps a case-insensitive token (and "-h") to a Verb.
func ParseVerb(s string) (Verb, error) {
	switch strings.ToLower(s) {
	case "restart":
		return VerbRestart, nil
	case "start":
		return VerbStart, nil
	case "stop":
		return VerbStop, nil
	case "trystart":
		return VerbTryStart, nil
	case "kill":
		return VerbKill, nil
	case "check":
		return VerbCheck, nil
	case "info":
		return VerbInfo, nil
	case "help", "-h":
		return VerbHelp, nil
	default:
		return "", fmt.Errorf("%w: no such verb %q", kinderr.ErrInvalidCommand, s)
	}
}

// IsVerb reports whether s parses as a verb keyword.
func IsVerb(s string) bool {
	_, err := ParseVerb(s)
	return err == nil
}

// NameOptional reports whether verb permits an absent name.
func NameOptional(v Verb) bool {
	switch v {
	case VerbKill, VerbCheck, VerbInfo, VerbHelp:
		return true
	default:
		return false
	}
}

// Preposition is one of the grammar's prepositions.
type Preposition string

const (
	PrepOn   Preposition = "on"
	PrepWith Preposition = "with"
)

func parsePreposition(s string) (Preposition, error) {
	switch strings.ToLower(s) {
	case "on":
		return PrepOn, nil
	case "with":
		return PrepWith, nil
	default:
		return "", fmt.Errorf("%w: no such preposition %q", kinderr.ErrInvalidCommand, s)
	}
}

// PrepObj is one (preposition, object) pair trailing the command.
type PrepObj struct {
	Prep Preposition
	Obj  string
}

// Command is a fully parsed request: VERB [NAME] (PREP OBJ)*.
type Command struct {
	Verb  Verb
	Name  string
	Preps []PrepObj
}

// Hosts returns every object of an "on" preposition, comma/space split.
func (c *Command) Hosts() []string {
	var hosts []string
	for _, p := range c.Preps {
		if p.Prep != PrepOn {
			continue
		}
		for _, tok := range strings.FieldsFunc(p.Obj, func(r rune) bool {
			return r == ',' || r == ' '
		}) {
			if tok != "" {
				hosts = append(hosts, tok)
			}
		}
	}
	return hosts
}

// KeyPath returns the object of a "with" preposition, if any.
func (c *Command) KeyPath() (string, bool) {
	for _, p := range c.Preps {
		if p.Prep == PrepWith {
			return p.Obj, true
		}
	}
	return "", false
}

// String re-emits the command as "<verb> <name> <prep> <obj> ...",
// preserving verb/name/preposition order (used by golden round-trip
// tests and by the engine to build "<verb> <name>" hook invocations).
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(string(c.Verb))
	if c.Name != "" {
		b.WriteString(" ")
		b.WriteString(c.Name)
	}
	for _, p := range c.Preps {
		fmt.Fprintf(&b, " %s %s", p.Prep, p.Obj)
	}
	return b.String()
}

// Legal reports whether name is usable as a child name under the grammar:
// not empty, not "all", not "on", and not itself a verb keyword.
func Legal(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	if lower == "all" || lower == "on" {
		return false
	}
	return !IsVerb(name)
}

// Parse tokenizes a raw request body into a Command. Tokens are
// whitespace-separated positional words, same as the process-argument
// grammar the client CLI accepts.
func Parse(tokens []string) (*Command, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty command", kinderr.ErrInvalidCommand)
	}

	verb, err := ParseVerb(tokens[0])
	if err != nil {
		return nil, err
	}
	rest := tokens[1:]

	cmd := &Command{Verb: verb}

	if len(rest) > 0 && !isPrepositionToken(rest[0]) {
		if !Legal(rest[0]) {
			return nil, fmt.Errorf("%w: illegal child name %q", kinderr.ErrInvalidCommand, rest[0])
		}
		cmd.Name = rest[0]
		rest = rest[1:]
	}

	if cmd.Name == "" && !NameOptional(verb) {
		return nil, fmt.Errorf("%w: verb %q requires a name", kinderr.ErrInvalidCommand, verb)
	}

	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("%w: trailing preposition without object", kinderr.ErrInvalidCommand)
	}
	for i := 0; i < len(rest); i += 2 {
		prep, err := parsePreposition(rest[i])
		if err != nil {
			return nil, err
		}
		obj := rest[i+1]
		if obj == "" {
			return nil, fmt.Errorf("%w: empty object for preposition %q", kinderr.ErrInvalidCommand, prep)
		}
		cmd.Preps = append(cmd.Preps, PrepObj{Prep: prep, Obj: obj})
	}

	return cmd, nil
}

// ParseLine splits a raw request line on whitespace and parses it.
func ParseLine(line string) (*Command, error) {
	return Parse(strings.Fields(line))
}

func isPrepositionToken(s string) bool {
	_, err := parsePreposition(s)
	return err == nil
}
