package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/user/telterm/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Handlers are the endpoints mounted on the mux. API and Metrics are
// optional.
type Handlers struct {
	WebSocket http.HandlerFunc
	API       http.Handler
	Metrics   http.Handler
}

type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

func New(cfg *config.Config, handlers Handlers) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if handlers.WebSocket != nil {
		mux.HandleFunc("/ws", handlers.WebSocket)
	}
	if handlers.API != nil {
		mux.Handle("/api/", handlers.API)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:              ListenAddr(cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: slog.Default().With("component", "server"),
	}
}

// ListenAddr is the loopback address the server binds for port.
func ListenAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
