package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"savtogether/internal/log"
	"savtogether/internal/session"
)

// handleEvents streams view updates as server-sent events. The stream ends
// when the client goes away or the session is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		ErrorResponse(http.StatusInternalServerError, "streaming unsupported").Write(w)
		return
	}

	updates, cancel, err := s.facade.Subscribe(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := s.clock.NewTicker(eventsKeepAlive)
	defer keepAlive.Stop()

	logger := log.FromContext(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streams:
			return
		case <-keepAlive.C():
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, u); err != nil {
				logger.DebugContext(r.Context(), "Event stream closed", log.FieldError, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, u session.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Kind, data)
	return err
}
