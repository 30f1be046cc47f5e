package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StreamState streams the session's aggregated feed state over Server-Sent
// Events. Every recomputation of the aggregator arrives as a "state" event;
// failed actions and degraded live queries arrive as "notice" events.
func (h *Handler) StreamState(c *gin.Context) {
	s, ok := h.requireSession(c)
	if !ok {
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx: disable buffering

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	states, stopStates := s.Feed.Subscribe()
	defer stopStates()
	notices, stopNotices := s.Feed.Notices()
	defer stopNotices()

	ctx := c.Request.Context()

	// Keep-alive pings so proxies don't cut an idle stream.
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case state, open := <-states:
			if !open {
				return
			}
			data, _ := json.Marshal(state)
			fmt.Fprintf(c.Writer, "event: state\ndata: %s\n\n", string(data))
			flusher.Flush()

		case notice, open := <-notices:
			if !open {
				return
			}
			data, _ := json.Marshal(notice)
			fmt.Fprintf(c.Writer, "event: notice\ndata: %s\n\n", string(data))
			flusher.Flush()
		}
	}
}
