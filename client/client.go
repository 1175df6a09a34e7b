// Package client implements the supervisor-rs-client CLI logic: build a
// command from process arguments, optionally sign it under a private key,
// dial one or more targets (local TCP or ssh:// fan-out), and aggregate
// replies and exit status.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/ccqpein/supervisor-rs/command"
	"github.com/ccqpein/supervisor-rs/cryptoenv"
	"github.com/ccqpein/supervisor-rs/listener"
)

// dialTimeout bounds how long a dial to one target may take before the
// fan-out gives up on it and reports a failure for that host.
const dialTimeout = 5 * time.Second

// Result is one target's outcome.
type Result struct {
	Target string
	Reply  string
	Err    error
}

// Run parses args into a Command, builds the wire body (encrypting it
// under the key named by "with <keypath>" if present), and dispatches it
// to every target named by "on <hosts>" (or "localhost" if none given).
// It returns one Result per target and an aggregate error if any target
// failed: dial every host, report per-host success/failure.
func Run(args []string) ([]Result, error) {
	cmd, err := command.Parse(args)
	if err != nil {
		return nil, err
	}
	if cmd.Verb == command.VerbHelp {
		return []Result{{Target: "local", Reply: Usage()}}, nil
	}

	body, err := buildBody(cmd)
	if err != nil {
		return nil, err
	}

	hosts := cmd.Hosts()
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}

	var results []Result
	var failed bool
	for _, h := range hosts {
		r := dispatch(h, cmd, body)
		results = append(results, r)
		if r.Err != nil {
			failed = true
		}
	}

	if failed {
		return results, fmt.Errorf("one or more targets failed")
	}
	return results, nil
}

// buildBody renders the plaintext "<verb> [<name>]" command text and, if
// "with <keypath>" is present, wraps it as "<keyname>;<ciphertext>" using
// the private key at keypath (its file stem becomes the keyname in the
// envelope). Prepositions themselves are never sent over the wire; they
// only steer the client.
func buildBody(cmd *command.Command) (string, error) {
	plain := string(cmd.Verb)
	if cmd.Name != "" {
		plain += " " + cmd.Name
	}

	keypath, ok := cmd.KeyPath()
	if !ok {
		return plain, nil
	}

	priv, err := cryptoenv.LoadPrivateKey(keypath)
	if err != nil {
		return "", fmt.Errorf("load private key %s: %w", keypath, err)
	}
	ciphertext, err := cryptoenv.Encrypt(priv, plain)
	if err != nil {
		return "", fmt.Errorf("encrypt command: %w", err)
	}
	keyname := keynameFromPath(keypath)
	return string(cryptoenv.Envelope(keyname, ciphertext)), nil
}

func keynameFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	return strings.TrimSuffix(base, ".pem")
}

// dispatch sends cmd to target. TCP targets get body verbatim — plaintext
// or, under "with <keypath>", the RSA envelope buildBody produced for it.
// SSH targets always get the plain verb/name instead: the remote host runs
// its own supervisor-rs-client, which builds its own envelope (under its
// own key) if it wants one — body's envelope, built for this machine's
// key, is meaningless there, and splicing its raw ciphertext bytes into a
// remote shell command line would corrupt or inject into it.
func dispatch(target string, cmd *command.Command, body string) Result {
	if strings.HasPrefix(target, "ssh://") {
		reply, err := dispatchSSH(target, cmd)
		return Result{Target: target, Reply: reply, Err: err}
	}
	reply, err := dispatchTCP(target, body)
	return Result{Target: target, Reply: reply, Err: err}
}

func dispatchTCP(host, body string) (string, error) {
	addr := host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, listener.Port)
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(body)); err != nil {
		return "", fmt.Errorf("write to %s: %w", addr, err)
	}

	reader := bufio.NewReader(conn)
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				return sb.String(), fmt.Errorf("read from %s: %w", addr, err)
			}
			break
		}
	}
	return sb.String(), nil
}

// Usage is printed for "help"/"-h" without contacting any server.
func Usage() string {
	return `supervisor-rs-client <verb> [<name>] [on <hosts>] [with <keypath>]

verbs: restart start stop trystart kill check info help
  restart, start, stop, trystart require <name>
  kill, check, info accept an optional <name> (absent means "all")

on <host-list>   one or more addresses, comma/space separated.
                 each address is a literal IP, host:port, or ssh://user@ip
with <keypath>   path to a private-key PEM; encrypts the command under it
`
}
