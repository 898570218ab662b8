package network

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"

	"krill/internal/protocol"
	"krill/internal/store"
)

// startServer runs a server over a fresh store on an ephemeral port and
// returns its address plus the channel Listen's result lands on.
func startServer(t *testing.T) (*Server, string, chan error) {
	t.Helper()

	eng, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	srv, err := NewServer(zap.NewNop().Sugar(), "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(eng)
	}()
	return srv, srv.Addr().String(), done
}

// waitListen asserts Listen returns nil within a bounded time.
func waitListen(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestServerShutdownWithoutClients(t *testing.T) {
	srv, _, done := startServer(t)
	srv.Shutdown()
	waitListen(t, done)
}

func TestServerShutdownIsIdempotent(t *testing.T) {
	srv, _, done := startServer(t)
	srv.Shutdown()
	srv.Shutdown()
	waitListen(t, done)
	srv.Shutdown()
}

func TestServerHandlesRequests(t *testing.T) {
	srv, addr, done := startServer(t)

	client, err := Dial(addr)
	require.NoError(t, err)

	require.NoError(t, client.Set("key1", "value1"))

	value, ok, err := client.Get("key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value1", value)

	_, ok, err = client.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, client.Close())

	srv.Shutdown()
	waitListen(t, done)
}

func TestServerRemoveMiss(t *testing.T) {
	srv, addr, done := startServer(t)

	client, err := Dial(addr)
	require.NoError(t, err)

	require.NoError(t, client.Set("key1", "value1"))
	require.NoError(t, client.Rm("key1"))

	err = client.Rm("key1")
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "Key not found", serverErr.Message)

	require.NoError(t, client.Close())
	srv.Shutdown()
	waitListen(t, done)
}

func TestServerRecoversFromInvalidRequest(t *testing.T) {
	srv, addr, done := startServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// An intact frame whose checksum does not match its body.
	frame := protowire.AppendVarint(nil, 8)
	frame = append(frame, 0, 0, 0, 0, 'j', 'u', 'n', 'k')
	_, err = conn.Write(frame)
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	resp, ok, err := protocol.ReadResponse(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, protocol.Failure("invalid request"), resp)

	// The connection survives and serves the next, valid request.
	require.NoError(t, protocol.WriteRequest(conn, protocol.Request{Op: protocol.OpGet, Key: "nope"}))
	resp, ok, err = protocol.ReadResponse(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, protocol.SuccessNone(), resp)

	require.NoError(t, conn.Close())
	srv.Shutdown()
	waitListen(t, done)
}

func TestServerShutdownWithOpenConnection(t *testing.T) {
	srv, addr, done := startServer(t)

	// A client that connects and goes quiet must not pin the server.
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// Give the serve loop a moment to pick the connection up.
	time.Sleep(50 * time.Millisecond)

	srv.Shutdown()
	waitListen(t, done)
}

func TestServerSequentialConnections(t *testing.T) {
	srv, addr, done := startServer(t)

	first, err := Dial(addr)
	require.NoError(t, err)
	require.NoError(t, first.Set("key1", "value1"))
	require.NoError(t, first.Close())

	second, err := Dial(addr)
	require.NoError(t, err)
	value, ok, err := second.Get("key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value1", value)
	require.NoError(t, second.Close())

	srv.Shutdown()
	waitListen(t, done)
}
