package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/realtime"
)

const streamHeartbeat = 25 * time.Second

// StreamHandler serves alert events over SSE so representative dashboards
// see panic alerts the moment they are triggered.
type StreamHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewStreamHandler creates a new handler
func NewStreamHandler(hub *realtime.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

// Routes returns the handler routes
func (h *StreamHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/users/{id}", h.streamTopic(realtime.UserTopic))
	r.Get("/reps/{id}", h.streamTopic(realtime.RepTopic))
	return r
}

func (h *StreamHandler) streamTopic(topicFor func(string) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		topic := topicFor(chi.URLParam(r, "id"))
		subID, ch := h.hub.Subscribe(topic)
		defer h.hub.Unsubscribe(subID)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		h.logger.Debug("stream opened", zap.String("topic", topic))

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg, open := <-ch:
				if !open {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
				flusher.Flush()
			}
		}
	}
}
