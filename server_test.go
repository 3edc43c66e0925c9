package fpgaudio

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/fpgaudio/fpgaudio-demo/proto"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func encode(t *testing.T, r proto.ControlRecord) []byte {
	t.Helper()
	data, err := r.MarshalBinary()
	require.NoError(t, err)
	return data
}

func dial(t *testing.T, port int) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// begin runs the receive loop in the background and returns its result channel.
func begin(ctx context.Context, s *Server) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.Begin(ctx)
	}()
	return ch
}

func TestServerDeliversDatagrams(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []byte, 4)
	srv, err := Listen(ctx, 0, DatagramSinkFunc(func(p []byte) {
		got <- append([]byte(nil), p...)
	}))
	require.NoError(t, err)
	require.NotZero(t, srv.Port())
	require.NotEmpty(t, srv.ID())

	result := begin(ctx, srv)

	conn := dial(t, srv.Port())
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case p := <-got:
		require.Equal(t, "hello", string(p))
	case <-ctx.Done():
		t.Fatal("datagram not delivered")
	}

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-result)
	require.NoError(t, srv.Shutdown(ctx), "shutdown is idempotent")
}

func TestServerStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := Listen(ctx, 0, DatagramSinkFunc(func([]byte) {}))
	require.NoError(t, err)

	result := begin(ctx, srv)
	<-time.After(20 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	<-srv.Done()
}

func TestServerShutdownBeforeBegin(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	srv, err := Listen(ctx, 0, DatagramSinkFunc(func([]byte) {}))
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Begin(ctx), "begin after shutdown returns at once")

	// the port is released
	again, err := Listen(ctx, srv.Port(), DatagramSinkFunc(func([]byte) {}))
	require.NoError(t, err)
	require.NoError(t, again.Shutdown(ctx))
}

func TestServerBeginTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	running := make(chan struct{}, 1)
	srv, err := Listen(ctx, 0, DatagramSinkFunc(func([]byte) {
		select {
		case running <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, err)
	result := begin(ctx, srv)

	_, err = dial(t, srv.Port()).Write([]byte("ping"))
	require.NoError(t, err)
	<-running

	require.ErrorIs(t, srv.Begin(ctx), ErrServerStarted)

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-result)
}

func TestListenFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	first, err := Listen(ctx, 0, DatagramSinkFunc(func([]byte) {}))
	require.NoError(t, err)
	defer first.Shutdown(ctx)

	_, err = Listen(ctx, first.Port(), DatagramSinkFunc(func([]byte) {}))
	require.ErrorIs(t, err, ErrResourceAcquisition, "port already bound")

	_, err = Listen(ctx, 0, nil)
	require.ErrorIs(t, err, ErrResourceAcquisition)

	_, err = Listen(ctx, 0, DatagramSinkFunc(func([]byte) {}), WithReceiveBufferSize(proto.RecordSize))
	require.ErrorIs(t, err, ErrResourceAcquisition, "receive buffer too small to detect oversize datagrams")
}

func TestListenReuseAddr(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	srv, err := Listen(ctx, 0, DatagramSinkFunc(func([]byte) {}),
		WithReuseAddr(true),
		WithSocketBuffer(64*1024),
		WithServerID("ingest-1"),
	)
	require.NoError(t, err)
	require.Equal(t, "ingest-1", srv.ID())
	require.NoError(t, srv.Shutdown(ctx))
}

func TestServerOversizeDatagramKeepsLength(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan int, 1)
	srv, err := Listen(ctx, 0, DatagramSinkFunc(func(p []byte) { got <- len(p) }),
		WithReceiveBufferSize(proto.RecordSize+1))
	require.NoError(t, err)
	result := begin(ctx, srv)

	_, err = dial(t, srv.Port()).Write(make([]byte, 64))
	require.NoError(t, err)

	select {
	case n := <-got:
		require.NotEqual(t, proto.RecordSize, n)
	case <-ctx.Done():
		t.Fatal("datagram not delivered")
	}

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-result)
}

func TestServerLogsThroughLogger(t *testing.T) {
	var logs bytes.Buffer
	srv, err := Listen(context.Background(), 0, DatagramSinkFunc(func([]byte) {}),
		WithServerLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithServerID("ingest-1"),
	)
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown(context.Background()))

	require.Equal(t, "ingest-1", srv.ID())
	require.Contains(t, logs.String(), "component=ingest")
	require.Contains(t, logs.String(), "id=ingest-1")
	require.Contains(t, logs.String(), "server is set up")
}
