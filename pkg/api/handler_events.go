package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/events"
)

// eventsHandler streams GET /api/orders/events?topic=... as text/event-stream,
// replaying buffered events newer than the Last-Event-ID request header and
// emitting a ":ping" heartbeat comment every events.PingInterval. Client
// disconnect (request context cancellation) unregisters the subscriber.
func (s *Server) eventsHandler(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		topic = "review"
	}

	var lastEventID int64
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = n
		}
	}

	sub := s.hub.Subscribe(topic, lastEventID)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, fmt.Errorf("api: streaming unsupported by response writer"))
		return
	}

	ping := time.NewTicker(events.PingInterval)
	defer ping.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events:
			writeSSEEvent(c.Writer, ev)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(c.Writer, ":ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
}
