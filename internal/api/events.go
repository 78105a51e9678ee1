package api

import (
	"fmt"
	"net/http"

	"github.com/swapisticated/Astro-Repo/internal/events"
	"github.com/swapisticated/Astro-Repo/internal/logging"
)

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.Subscribe(sess.ID)
	defer s.broadcaster.Unsubscribe(sess.ID, ch)
	logging.WithContext(r.Context()).Debug("sse subscribed",
		logging.String("session", sess.ID),
		logging.Int("session_subscribers", s.broadcaster.Count(sess.ID)),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
