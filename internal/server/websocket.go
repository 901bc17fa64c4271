package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Constants for WebSocket timeouts and limits.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer. The feed is write-only, so
	// inbound frames are control traffic and the odd stray message.
	maxMessageSize = 512
)

// eventClient is one subscriber on the websocket event feed. The writePump
// owns every write to the connection; the readPump keeps the connection
// responsive to control frames and detects the peer going away.
type eventClient struct {
	log    *zap.Logger
	conn   *websocket.Conn
	feed   <-chan schemas.Event
	cancel func()

	// done is closed by the readPump when the peer disconnects, so the
	// writePump stops without waiting for the next event or ping tick.
	done chan struct{}
}

// HandleEvents upgrades the connection and streams lifecycle events until
// either side disconnects or the hub shuts down.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.log.Warn("Event feed upgrade failed.", zap.Error(err))
		return
	}
	h.log.Debug("Event feed subscriber connected.", zap.String("remote_addr", r.RemoteAddr))

	feed, cancel := h.events.Subscribe()
	client := &eventClient{
		log:    h.log,
		conn:   conn,
		feed:   feed,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go client.writePump()
	// The read pump runs in the handler goroutine and blocks until the
	// connection dies.
	client.readPump()

	h.log.Debug("Event feed subscriber disconnected.", zap.String("remote_addr", r.RemoteAddr))
}

// readPump consumes inbound frames. Data frames are discarded; pongs reset
// the read deadline so an unresponsive peer is eventually dropped.
func (c *eventClient) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.log.Warn("Event feed closed unexpectedly.", zap.Error(err))
			}
			return
		}
	}
}

// writePump streams feed events and periodic pings to the peer. It owns the
// subscription: when the pump stops for any reason, the subscription is
// released and the connection closed.
func (c *eventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.feed:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// The hub shut down. Say goodbye properly and finish.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug("Event feed write failed.", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
