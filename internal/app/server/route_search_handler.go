package server

import (
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"deepagg/internal/search"
	"deepagg/internal/sse"
)

// liveSearch streams one search session as server-sent events. The stream
// always ends with a done or warn event.
func (s *Server) liveSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeError(w, "Search is disabled", http.StatusServiceUnavailable)
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	stop := make(chan struct{})
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		stream.Heartbeat(s.deps.Heartbeat, stop)
	}()
	defer func() {
		close(stop)
		heartbeat.Wait()
	}()

	emitter := search.NewSerialEmitter(stream.Send)
	outcome := s.deps.Search.Run(r.Context(), r.URL.Query().Get("q"), emitter)
	log.Debug("live search stream closed", "q", outcome.Query, "rows", len(outcome.Rows), "warned", outcome.Warned)
}

func (s *Server) degradedSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeError(w, "Search is disabled", http.StatusServiceUnavailable)
		return
	}

	result := s.deps.Search.SearchWithDeadline(r.Context(), r.URL.Query().Get("q"), s.deps.FallbackDeadline, s.deps.Fallback)
	writeJSON(w, http.StatusOK, result)
}
