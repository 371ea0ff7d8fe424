package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

const ssePollInterval = 250 * time.Millisecond

// handleStream serves the per-cycle event feed as server-sent events.
// The connection closes after the terminal status frame, or when the
// stream cap elapses.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	cycleID := r.PathValue("id")

	// a stream may be opened before or after the job starts; the job
	// row is the source of truth for whether the id exists at all
	if !s.bus.Has(cycleID) {
		if _, err := s.store.GetJob(r.Context(), cycleID); err != nil {
			if errors.Is(err, apperrors.ErrJobNotFound) {
				s.writeError(w, http.StatusNotFound, err)
				return
			}
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.bus.Register(cycleID)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.sendFrame(w, core.AgentEvent{
		Type:      core.EventConnection,
		Message:   fmt.Sprintf("streaming cycle %s", cycleID),
		Timestamp: time.Now().UTC(),
	})
	flusher.Flush()

	deadline := time.Now().Add(time.Duration(s.cfg.Stream.MaxStreamMinutes) * time.Minute)
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	var cursor uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		events, next, terminal := s.bus.Read(cycleID, cursor)
		cursor = next
		for _, ev := range events {
			s.sendFrame(w, ev)
		}
		if len(events) > 0 {
			flusher.Flush()
		}

		if terminal {
			s.sendFrame(w, core.AgentEvent{
				Type:      core.EventClose,
				Message:   "stream complete",
				Timestamp: time.Now().UTC(),
			})
			flusher.Flush()
			return
		}

		if time.Now().After(deadline) {
			s.sendFrame(w, core.AgentEvent{
				Type:      core.EventClose,
				Message:   "stream time limit reached",
				Timestamp: time.Now().UTC(),
			})
			flusher.Flush()
			return
		}
	}
}

func (s *Server) sendFrame(w http.ResponseWriter, ev core.AgentEvent) {
	blob, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("Event encode failed", "type", ev.Type, "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", blob)
}
