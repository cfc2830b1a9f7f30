package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleSSEEvents streams scheduler events via Server-Sent Events.
// GET /api/v1/sse/events
//
// The first message carries a snapshot of CPU and thread state; after
// that each recorded event arrives as its own message named by the
// event type, with heartbeats in between to keep the connection alive.
func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	ch, cancel := s.hub.subscribe()
	defer cancel()

	snapshot := map[string]any{
		"cpus":    s.core.CPUStatuses(),
		"threads": s.runner.Threads(),
	}
	if err := sendSSEEvent(w, flusher, "init", snapshot); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := sendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				s.logger.Debug("sse client disconnected")
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
