package fpgaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fpgaudio/fpgaudio-demo/proto"
)

const DefaultReceiveBufferSize = 1024

// DatagramSink consumes received datagrams. p is only valid during the call.
type DatagramSink interface {
	HandleDatagram(p []byte)
}

type DatagramSinkFunc func(p []byte)

func (f DatagramSinkFunc) HandleDatagram(p []byte) {
	f(p)
}

type serverOptions struct {
	id          string
	logger      *slog.Logger
	recvBufSize int
	sockBufSize int
	reuseAddr   bool
}

type ServerOption func(opts *serverOptions)

func WithServerID(id string) ServerOption {
	return func(opts *serverOptions) {
		opts.id = id
	}
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(opts *serverOptions) {
		opts.logger = logger
	}
}

// WithReceiveBufferSize sets the capacity of the buffer each datagram is copied into.
// It must exceed proto.RecordSize so that oversized datagrams keep an invalid length.
func WithReceiveBufferSize(size int) ServerOption {
	return func(opts *serverOptions) {
		opts.recvBufSize = size
	}
}

// WithSocketBuffer sets SO_RCVBUF on the socket. Zero keeps the OS default.
func WithSocketBuffer(bytes int) ServerOption {
	return func(opts *serverOptions) {
		opts.sockBufSize = bytes
	}
}

func WithReuseAddr(reuse bool) ServerOption {
	return func(opts *serverOptions) {
		opts.reuseAddr = reuse
	}
}

// Server owns a bound UDP endpoint and feeds every datagram to a DatagramSink.
type Server struct {
	id           string
	logger       *slog.Logger
	conn         *net.UDPConn
	buf          []byte
	sink         DatagramSink
	started      atomic.Bool
	shutdownOnce sync.Once
	shutdown     chan struct{}
	done         chan struct{}
}

// Listen binds the UDP port right away. Failures wrap ErrResourceAcquisition and are not retried.
func Listen(ctx context.Context, port int, sink DatagramSink, opts ...ServerOption) (*Server, error) {
	o := serverOptions{
		recvBufSize: DefaultReceiveBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = proto.ID()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if sink == nil {
		return nil, fmt.Errorf("%w: nil datagram sink", ErrResourceAcquisition)
	}
	if o.recvBufSize <= proto.RecordSize {
		return nil, fmt.Errorf("%w: receive buffer of %d bytes cannot tell a %d byte record from a longer datagram",
			ErrResourceAcquisition, o.recvBufSize, proto.RecordSize)
	}

	lc := net.ListenConfig{}
	if o.reuseAddr {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setReuseAddr(fd)
			}); err != nil {
				return err
			}
			return serr
		}
	}

	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: bind udp port %d: %w", ErrResourceAcquisition, port, err)
	}
	conn := pc.(*net.UDPConn)

	if o.sockBufSize > 0 {
		if err := conn.SetReadBuffer(o.sockBufSize); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: set socket buffer: %w", ErrResourceAcquisition, err)
		}
	}

	s := &Server{
		id: o.id,
		logger: o.logger.With(
			slog.String("component", "ingest"),
			slog.String("id", o.id),
			slog.String("addr", conn.LocalAddr().String()),
		),
		conn:     conn,
		buf:      make([]byte, o.recvBufSize),
		sink:     sink,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.logger.Info("server is set up", slog.Int("receive_buffer", len(s.buf)))

	return s, nil
}

func (s *Server) ID() string {
	return s.id
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Server) Port() int {
	if a, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// Begin runs the receive loop on the calling goroutine until Shutdown or ctx is done.
// It returns nil on a requested stop and an error if the socket breaks.
func (s *Server) Begin(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		if s.stopping() {
			return nil
		}
		return ErrServerStarted
	}
	defer close(s.done)
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("failed to close socket", slog.Any("err", err))
		}
	}()

	exit := make(chan struct{})
	defer close(exit)
	go func() {
		select {
		case <-exit:
			return
		case <-ctx.Done():
			s.signalShutdown()
		case <-s.shutdown:
		}
		// wake the blocked read
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	}()

	s.logger.Info("opening server")

	for {
		select {
		case <-s.shutdown:
			s.logger.Info("server stopped")
			return nil
		default:
		}

		n, addr, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			if s.stopping() && (errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed)) {
				continue
			}
			s.logger.Error("receive failed", slog.Any("err", err))
			return fmt.Errorf("ingest: receive: %w", err)
		}

		s.logger.Debug("received datagram", slog.Int("len", n), slog.Any("from", addr))

		s.sink.HandleDatagram(s.buf[:n])
	}
}

// Shutdown stops the receive loop, waits for it to return and releases the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.signalShutdown()

	// never started: nothing will close the socket for us
	if s.started.CompareAndSwap(false, true) {
		err := s.conn.Close()
		close(s.done)
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// Done is closed once the receive loop has returned and the socket is released.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) signalShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

func (s *Server) stopping() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}
