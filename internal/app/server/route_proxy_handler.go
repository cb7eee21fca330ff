package server

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"deepagg/internal/api/dto"
	"deepagg/internal/domain"
	"deepagg/internal/pool"
)

func (s *Server) bestProxy(w http.ResponseWriter, _ *http.Request) {
	response := dto.BestProxyResponse{}
	if s.deps.Pool != nil {
		if picked, ok := s.deps.Pool.PickOne(); ok {
			response.Proxy = &picked
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) listProxies(w http.ResponseWriter, _ *http.Request) {
	snapshot := pool.Snapshot{Best: []domain.ProxyHealthResult{}}
	if s.deps.Pool != nil {
		snapshot = s.deps.Pool.Snapshot()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) poolMetrics(w http.ResponseWriter, _ *http.Request) {
	// t is the pool's last refresh, 0 before the first one.
	metrics := dto.PoolMetrics{}
	if s.deps.Pool != nil {
		snapshot := s.deps.Pool.Snapshot()
		if !snapshot.LastUpdate.IsZero() {
			metrics.T = snapshot.LastUpdate.UnixMilli()
		}
		metrics.Raw = snapshot.Counts.Raw
		metrics.Tested = snapshot.Counts.Tested
		metrics.Best = snapshot.Counts.Best
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) prometheus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prometheus == nil {
		writeError(w, "Prometheus metrics are disabled", http.StatusNotFound)
		return
	}
	s.deps.Prometheus.ServeHTTP(w, r)
}

func (s *Server) poolHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	response := dto.PoolHistoryResponse{Refreshes: []domain.PoolRefresh{}}
	if s.deps.History != nil {
		refreshes, err := s.deps.History.ListRefreshes(r.Context(), limit)
		if err != nil {
			log.Warn("pool history unavailable", "error", err)
		} else {
			response.Refreshes = refreshes
		}
	}
	writeJSON(w, http.StatusOK, response)
}
