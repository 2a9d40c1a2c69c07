package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// pingInterval is how often an SSE comment-level keep-alive frame is sent so
// idle connections survive proxies with short read timeouts.
const pingInterval = 15 * time.Second

// handleFeed responds to GET /api/v1/feed with a Server-Sent Events stream.
//
// Each admitted failed login is pushed as a "new_attack" event carrying the
// feed.Attack JSON payload. The stream starts at subscription time; there is
// no replay. If this consumer falls behind, the hub evicts it and the
// handler returns, prompting the client's EventSource to reconnect.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case attack, open := <-sub:
			if !open {
				// Evicted as a slow consumer; the client reconnects.
				s.logger.Warn("feed subscriber evicted",
					slog.String("remote_addr", r.RemoteAddr),
				)
				return
			}
			payload, err := json.Marshal(attack)
			if err != nil {
				s.logger.Error("feed encode failed", slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: new_attack\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
