// Package server carries device frames over a byte stream. Connections are
// served one at a time and every frame runs to completion before the next
// byte is read, so the device keeps a single owner.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"totp-token/go-device/internal/app"
	"totp-token/go-device/internal/frame"

	"github.com/google/uuid"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// FrameHandler is the device side of the channel.
type FrameHandler interface {
	Handle(hdr frame.Header, body []byte) (app.Reply, bool)
}

type faultReporter interface {
	Faulted() bool
}

type Options struct {
	Logger *slog.Logger
	// MetricsAddr enables a loopback HTTP listener serving MetricsHandler.
	MetricsAddr    string
	MetricsHandler http.Handler
}

type Server struct {
	addr    ma.Multiaddr
	handler FrameHandler
	logger  *slog.Logger

	metricsAddr    string
	metricsHandler http.Handler
	httpServer     *http.Server

	mu       sync.Mutex
	listener manet.Listener
	current  net.Conn
}

func New(listen string, handler FrameHandler, opts Options) (*Server, error) {
	addr, err := ma.NewMultiaddr(listen)
	if err != nil {
		return nil, fmt.Errorf("listen address %q: %w", listen, err)
	}
	if handler == nil {
		return nil, errors.New("frame handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:           addr,
		handler:        handler,
		logger:         logger,
		metricsAddr:    opts.MetricsAddr,
		metricsHandler: opts.MetricsHandler,
	}, nil
}

// Listen binds the channel address. Run calls it when needed; calling it first
// lets the caller learn the bound address (e.g. for tcp port 0).
func (s *Server) Listen() (ma.Multiaddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Multiaddr(), nil
	}
	l, err := manet.Listen(s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = l
	return l.Multiaddr(), nil
}

func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	bound, err := s.Listen()
	if err != nil {
		return err
	}
	s.logger.Info("channel listening", "component", "server", "addr", bound.String())

	errCh := make(chan error, 2)
	if s.metricsAddr != "" && s.metricsHandler != nil {
		s.startMetrics(errCh)
	}
	go func() {
		errCh <- s.acceptLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		s.shutdown()
		return <-errCh
	case err := <-errCh:
		s.shutdown()
		return err
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.setCurrent(conn)
		if err := s.ServeConn(ctx, conn); err != nil {
			s.logger.Warn("session ended with error", "component", "server", "error", err.Error())
		}
		s.setCurrent(nil)
		_ = conn.Close()
	}
}

// ServeConn reads frames from rw until EOF or ctx is done.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriter) error {
	sessionID := uuid.NewString()
	logger := s.logger.With("component", "server", "session_id", sessionID)
	logger.Info("session opened")
	defer logger.Info("session closed")

	for {
		if ctx.Err() != nil {
			return nil
		}
		hdr, body, err := frame.ReadFrame(rw)
		if err != nil {
			if errors.Is(err, frame.ErrBadHeader) {
				logger.Debug("skipping byte", "error", err.Error())
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		rep, ok := s.handler.Handle(hdr, body)
		clear(body)
		if !ok {
			continue
		}
		if err := frame.WriteFrame(rw, rep.Header, rep.Body); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

func (s *Server) startMetrics(errCh chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metricsHandler)
	mux.HandleFunc("/healthz", s.healthz)
	s.httpServer = &http.Server{
		Addr:              s.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()
}

// healthz answers 503 once the handler reports a latched fault.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if fr, ok := s.handler.(faultReporter); ok && fr.Faulted() {
		http.Error(w, "fault", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.current != nil {
		_ = s.current.Close()
	}
	s.mu.Unlock()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
}

func (s *Server) setCurrent(c net.Conn) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}
