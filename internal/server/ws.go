package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/events"
	mw "multiapi-go/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamTopics are the hub topics mirrored onto the websocket.
var streamTopics = []string{
	events.TopicAttemptFinished,
	events.TopicCredentialsChanged,
	events.TopicUsageReset,
	events.TopicConfigReloaded,
}

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// events streams hub events to a websocket client. A slow client drops
// events instead of blocking the publishers.
func (h *handlers) events(c *gin.Context) {
	if h.deps.Hub == nil {
		apiError(c, http.StatusNotImplemented, "invalid_request_error", "event stream is not enabled")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	send := make(chan events.Event, wsSendBuffer)
	var unsubscribes []func()
	for _, topic := range streamTopics {
		unsub := h.deps.Hub.Subscribe(topic, func(_ context.Context, ev events.Event) {
			select {
			case send <- ev:
			default:
				// Slow consumer: drop rather than block the request path.
			}
		})
		unsubscribes = append(unsubscribes, unsub)
	}
	defer func() {
		for _, unsub := range unsubscribes {
			unsub()
		}
	}()

	// Reader goroutine: we never expect client messages, but reading
	// surfaces close frames and connection loss.
	done := make(chan struct{})
	mw.SafeGo("event-stream-reader", func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("event stream write failed, closing")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
