package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/agentsnare/snare-go/internal/sse"
)

// StreamHandler serves the live feeds over SSE.
type StreamHandler struct {
	hub *sse.Hub
}

func NewStreamHandler(hub *sse.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// HandleDetections handles GET /api/stream/detections.
// Events stream as they happen; clients wanting history hydrate from the
// REST endpoints first.
func (sh *StreamHandler) HandleDetections(w http.ResponseWriter, r *http.Request) {
	sh.stream(w, r, sse.TopicDetections)
}

// HandleStats handles GET /api/stream/stats.
func (sh *StreamHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	sh.stream(w, r, sse.TopicStats)
}

func (sh *StreamHandler) stream(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ch, cancel := sh.hub.Subscribe(topic)
	defer cancel()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
