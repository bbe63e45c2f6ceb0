package notify

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ohboy/herosync/pkg/logger"
	"github.com/ohboy/herosync/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades the request to a websocket and streams one JSON Event per
// accepted set until the client disconnects or the hub closes.
func Handler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Errorf("changed: websocket upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		events, cancel := hub.Subscribe()
		defer cancel()

		metrics.ChannelSubscribers.Inc()
		defer metrics.ChannelSubscribers.Dec()
		logger.Infof("changed: subscriber connected from %s", c.ClientIP())

		// reader only detects disconnects; the client never sends payloads
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					logger.Debugf("changed: write failed, dropping subscriber: %v", err)
					return
				}
			case <-ping.C:
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				logger.Infof("changed: subscriber disconnected")
				return
			}
		}
	}
}
