// Package kinderr collects the named error kinds shared across the
// supervisor's control core. Every exported error is a sentinel meant to be
// wrapped with context via fmt.Errorf("...: %w", err) and compared with
// errors.Is.
package kinderr

import "errors"

var (
	// ErrInvalidConfig is returned by the config loader when a child or
	// server YAML file is malformed or semantically invalid (e.g.
	// repeat.seconds <= 0).
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidCommand is returned when a request fails to tokenize, has
	// a malformed grammar, or names an illegal child.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNotFound covers a missing registry entry, a missing child YAML,
	// or a missing key file.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by start on a name already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrSpawnFailed is returned when the OS refuses to start a process.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrKillFailed is returned when signalling or waiting on a child
	// fails; the registry entry is left in place for a retry.
	ErrKillFailed = errors.New("kill failed")

	// ErrCycleDetected is returned by the hook resolver when a prehook
	// chain revisits a name already on the walk.
	ErrCycleDetected = errors.New("cannot pass recursive check")

	// ErrMissingDependency is returned by the hook resolver when a
	// prehook target's YAML cannot be loaded.
	ErrMissingDependency = errors.New("missing hook dependency")

	// ErrMalformedEnvelope is returned by the crypto envelope parser when
	// the keyname or ciphertext half is empty.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnknownKey is returned when no <keyname>.pem exists in any
	// configured keys directory.
	ErrUnknownKey = errors.New("unknown key")

	// ErrDecryptFailed is returned when an envelope's ciphertext cannot be
	// decrypted: its length differs from the key size, or it decrypts to
	// an empty plaintext. Decryption is textbook RSA with the public
	// exponent; no PKCS#1 padding is checked.
	ErrDecryptFailed = errors.New("decrypt failed")

	// ErrRegistryCorrupt signals invariant 1 (|by_pid| = |by_name|) is
	// violated. The registry does not attempt to self-repair.
	ErrRegistryCorrupt = errors.New("registry corrupt")
)

// Sentinel is the distinguished error returned by the engine's kill verb.
// Its Error() text always begins with the literal "I am dying. " prefix;
// only the daemon shell acts on it, everything else treats it like any
// other error.
type Sentinel struct {
	Tail string
}

const sentinelPrefix = "I am dying. "

func (s *Sentinel) Error() string {
	return sentinelPrefix + s.Tail
}

// NewSentinel builds the shutdown sentinel error with the given trailing
// detail (e.g. a summary of which children failed to stop).
func NewSentinel(tail string) *Sentinel {
	return &Sentinel{Tail: tail}
}

// IsSentinel reports whether err is (or wraps) the shutdown sentinel.
func IsSentinel(err error) (*Sentinel, bool) {
	var s *Sentinel
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
