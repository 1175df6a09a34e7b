// Package listener implements the TCP accept loop: one goroutine per
// connection, fixed-size trailing-NUL-padded reads, optional decryption,
// and forwarding of the shutdown sentinel to the daemon shell.
package listener

import (
	"bytes"
	"net"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/ccqpein/supervisor-rs/config"
	"github.com/ccqpein/supervisor-rs/cryptoenv"
)

// bufSize is sized for a command plus the maximum key envelope (100 bytes
// of command text + 4096 bytes for the keyname and RSA ciphertext).
const bufSize = 100 + 4096

// Port is the fixed TCP port the daemon listens on.
const Port = "33889"

// Handler is the engine's entry point: decoded command bytes in, reply
// text out.
type Handler func(body string) string

// ShutdownNotifier is invoked once when a worker observes the shutdown
// sentinel, carrying its tail detail.
type ShutdownNotifier func(tail string)

// Listener serves a net.Listener that its caller has bound (Addr records
// that address) and spawns one worker per accepted connection.
type Listener struct {
	Addr         string
	Handle       Handler
	ServerConfig func() (*config.ServerConfig, error)
	OnShutdown   ShutdownNotifier
	Logger       hclog.Logger
}

// Serve runs the accept loop until the listener is closed or ln.Accept
// returns a permanent error. Transient accept errors are logged and do not
// terminate the loop; any other accept error, including the listener
// being closed, is logged and returned.
func (l *Listener) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				l.Logger.Warn("transient accept error", "error", err)
				continue
			}
			l.Logger.Info("listener closed", "error", err)
			return err
		}
		go l.serveConn(conn)
	}
}

func (l *Listener) serveConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	logger := l.Logger.With("conn", connID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection worker panicked", "panic", r)
		}
	}()

	buf := make([]byte, bufSize)
	n, err := conn.Read(buf)
	if err != nil {
		logger.Warn("read failed", "error", err)
		return
	}
	raw := bytes.TrimRight(buf[:n], "\x00")
	if len(raw) == 0 {
		return
	}

	reply := l.route(raw, conn, logger)
	if _, err := conn.Write([]byte(reply)); err != nil {
		logger.Warn("write reply failed", "error", err)
	}
}

func (l *Listener) route(raw []byte, conn net.Conn, logger hclog.Logger) string {
	srvCfg, err := l.ServerConfig()
	if err != nil {
		return err.Error()
	}

	if !srvCfg.EncryptMode {
		body := l.Handle(string(raw))
		l.checkShutdown(body)
		return body
	}

	notice := "encrypted request received\n"
	if _, err := conn.Write([]byte(notice)); err != nil {
		logger.Warn("write encrypt notice failed", "error", err)
		return ""
	}

	keyname, ciphertext, err := cryptoenv.Split(raw)
	if err != nil {
		return err.Error()
	}
	pub, err := cryptoenv.FindPublicKey(srvCfg.KeysPath, keyname)
	if err != nil {
		return err.Error()
	}
	plain, err := cryptoenv.Decrypt(pub, ciphertext)
	if err != nil {
		return err.Error()
	}

	body := l.Handle(plain)
	l.checkShutdown(body)
	return body
}

// checkShutdown forwards the daemon-shell sentinel when a handler reply
// carries it.
func (l *Listener) checkShutdown(reply string) {
	if len(reply) == 0 {
		return
	}
	prefix := "I am dying. "
	if len(reply) >= len(prefix) && reply[:len(prefix)] == prefix {
		l.OnShutdown(reply[len(prefix):])
	}
}
