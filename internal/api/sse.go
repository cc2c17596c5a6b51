package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// proxies.
const heartbeatInterval = 15 * time.Second

// streamEvents bridges the in-process message bus onto an SSE response.
// The topics query parameter selects a subscription pattern; the default
// subscribes to everything.
func (h *handlers) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	if h.bus == nil {
		c.Status(http.StatusOK)
		return
	}

	pattern := c.DefaultQuery("topics", "#")
	sub := h.bus.Subscribe(pattern)
	defer sub.Cancel()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			writeSSE(c.Writer, "message", map[string]any{
				"topic": msg.Topic,
				"data":  msg.Payload,
			})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
