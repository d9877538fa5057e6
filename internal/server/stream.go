package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"steward/internal/engine"
	"steward/internal/engine/auth"
)

const (
	streamPollInterval = 2 * time.Second
	streamPingInterval = 15 * time.Second
	streamBatch        = 100
)

// registerStream mounts the server-sent event feed of timeline activity.
// Clients poll-free tail an org's timeline; sinceId resumes after the last
// entry they saw.
func registerStream(router chi.Router, e engine.Engine, cfg AuthConfig) {
	router.Get("/rpc/stream", func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || p.Actor.IsZero() {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		orgID := r.URL.Query().Get("organizationId")
		if orgID == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "organizationId is required", nil))
			return
		}
		if err := e.Auth.Require(r.Context(), orgID, p.Actor.ID, auth.Perm("read", "timeline")); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}

		cursor, _ := strconv.ParseInt(r.URL.Query().Get("sinceId"), 10, 64)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, ": connected\n\n")
		flusher.Flush()

		poll := time.NewTicker(streamPollInterval)
		defer poll.Stop()
		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			case <-poll.C:
				entries, err := e.Repo.TimelineSince(r.Context(), orgID, cursor, streamBatch)
				if err != nil {
					cfg.logger().Warn("timeline stream poll failed", "org", orgID, "err", err)
					continue
				}
				for _, entry := range entries {
					data, err := json.Marshal(entry)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "id: %d\nevent: timeline\ndata: %s\n\n", entry.ID, data)
					cursor = entry.ID
				}
				if len(entries) > 0 {
					flusher.Flush()
				}
			}
		}
	})
}
