package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"deepagg/internal/domain"
	"deepagg/internal/jobs/runtime"
	"deepagg/internal/pool"
	"deepagg/internal/search"
	"deepagg/internal/sse"
)

const shutdownTimeout = 10 * time.Second

type PoolReader interface {
	PickOne() (domain.ProxyHealthResult, bool)
	Snapshot() pool.Snapshot
}

type HistoryLister interface {
	ListRefreshes(ctx context.Context, limit int) ([]domain.PoolRefresh, error)
}

type Searcher interface {
	Run(ctx context.Context, q string, emit search.Emitter) search.Outcome
	SearchWithDeadline(ctx context.Context, q string, deadline time.Duration, fallback search.FallbackSource) search.DegradeResult
}

type InstanceLister func(ctx context.Context) ([]runtime.ActiveInstance, error)

// Deps are the collaborators behind the HTTP surface. Nil members disable
// the routes that need them, which then answer with empty payloads.
type Deps struct {
	Pool             PoolReader
	History          HistoryLister
	Search           Searcher
	Fallback         search.FallbackSource
	Prometheus       http.Handler
	Instances        InstanceLister
	LocalInstanceID  string
	FallbackDeadline time.Duration
	Heartbeat        time.Duration
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	if deps.FallbackDeadline <= 0 {
		deps.FallbackDeadline = search.DefaultFallbackDeadline
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = sse.DefaultHeartbeat
	}

	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /proxies/best", s.bestProxy)
	s.mux.HandleFunc("GET /proxies/list", s.listProxies)
	s.mux.HandleFunc("GET /proxies/history", s.poolHistory)
	s.mux.HandleFunc("GET /metrics", s.poolMetrics)
	s.mux.HandleFunc("GET /metrics/prometheus", s.prometheus)
	s.mux.HandleFunc("GET /api/live/search", s.liveSearch)
	s.mux.HandleFunc("GET /api/search", s.degradedSearch)
	s.mux.HandleFunc("GET /api/instances", s.listInstances)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on port until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("api server: listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server listening", "addr", listener.Addr().String())
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("API server shutdown", "error", err)
		return err
	}
	return nil
}
