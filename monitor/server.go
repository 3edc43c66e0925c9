package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"

	"github.com/fpgaudio/fpgaudio-demo/proto"
)

type ServerConfig struct {
	Addr string
	// Interval between two record snapshots on /ws.
	Interval time.Duration
}

func (c *ServerConfig) Defaults() {
	if c.Addr == "" {
		c.Addr = ":9100"
	}
	if c.Interval == 0 {
		c.Interval = 50 * time.Millisecond
	}
}

// Snapshot is one frame of the /ws stream.
type Snapshot struct {
	Time   time.Time           `json:"time"`
	Record proto.ControlRecord `json:"record"`
}

// Server exposes /metrics and a /ws stream of the current control record.
type Server struct {
	logger   *slog.Logger
	config   ServerConfig
	latest   func() proto.ControlRecord
	http     *http.Server
	listener net.Listener
	port     int

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	conns   sync.WaitGroup
}

func NewServer(config ServerConfig, gatherer prometheus.Gatherer, latest func() proto.ControlRecord) *Server {
	config.Defaults()

	s := &Server{
		logger: slog.Default().With(
			slog.String("component", "monitor"),
		),
		config:  config,
		latest:  latest,
		closing: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.handleWS)

	s.http = &http.Server{
		Addr:    config.Addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Port() int {
	return s.port
}

// Run binds the listener and serves in the background. Only bind failures are returned.
func (s *Server) Run(ctx context.Context) error {
	var (
		lc  net.ListenConfig
		err error
	)
	s.listener, err = lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
		s.logger = s.logger.With(slog.String("addr", tcpAddr.String()))
	}

	s.logger.Info("listening")

	go func() {
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", slog.Any("err", err))
		}
	}()

	return nil
}

// Shutdown stops the HTTP server and closes all /ws streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.mu.Unlock()

	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{}

	logger := s.logger.With(slog.String("remote_addr", r.RemoteAddr))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	logger.Debug("snapshot stream opened")

	// the read loop only exists to notice the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
			<-gone
			return
		case <-gone:
			logger.Debug("snapshot stream closed by peer")
			return
		case now := <-ticker.C:
			data, err := sonnet.Marshal(Snapshot{Time: now, Record: s.latest()})
			if err != nil {
				logger.Error("marshal snapshot failed", slog.Any("err", err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("write snapshot failed", slog.Any("err", err))
				_ = conn.Close()
				<-gone
				return
			}
		}
	}
}
