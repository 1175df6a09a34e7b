package listener

import (
	"net"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccqpein/supervisor-rs/config"
)

func plainServerConfig() (*config.ServerConfig, error) {
	return &config.ServerConfig{EncryptMode: false}, nil
}

func newTestListener(t *testing.T, handle Handler, srvCfg func() (*config.ServerConfig, error)) (*Listener, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := &Listener{
		Addr:         ln.Addr().String(),
		Handle:       handle,
		ServerConfig: srvCfg,
		OnShutdown:   func(tail string) {},
		Logger:       hclog.NewNullLogger(),
	}
	go l.Serve(ln)
	return l, ln
}

func dial(t *testing.T, addr string, body string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(body))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestServeRoutesToHandler(t *testing.T) {
	handle := func(body string) string { return "echo:" + body }
	_, ln := newTestListener(t, handle, plainServerConfig)
	defer ln.Close()

	reply := dial(t, ln.Addr().String(), "check child1")
	assert.Equal(t, "echo:check child1", reply)
}

func TestServeForwardsShutdownSentinel(t *testing.T) {
	done := make(chan string, 1)
	handle := func(body string) string { return "I am dying. bye" }

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	l := &Listener{
		Addr:         ln.Addr().String(),
		Handle:       handle,
		ServerConfig: plainServerConfig,
		OnShutdown:   func(tail string) { done <- tail },
		Logger:       hclog.NewNullLogger(),
	}
	go l.Serve(ln)

	dial(t, ln.Addr().String(), "kill")

	select {
	case tail := <-done:
		assert.Equal(t, "bye", tail)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never forwarded")
	}
}

func TestCheckShutdownIgnoresNormalReply(t *testing.T) {
	called := false
	l := &Listener{OnShutdown: func(string) { called = true }}
	l.checkShutdown("start child1 success")
	assert.False(t, called)
}
