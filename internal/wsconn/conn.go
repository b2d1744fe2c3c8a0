// Package wsconn is the websocket connection layer: upgrade, read/write
// pumps, heartbeat timeout and per-socket rate limiting. It is the thing
// that calls into internal/room once a socket is authenticated, and it
// implements room.Socket so the core never imports gorilla/websocket
// directly.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/tabletop-vtt/server/internal/metrics"
	"github.com/tabletop-vtt/server/internal/room"
)

const (
	writeWait        = 10 * time.Second
	heartbeatTimeout = 35 * time.Second
	pingPeriod       = (heartbeatTimeout * 9) / 10
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one gorilla/websocket connection plus the per-socket rate
// limiters SPEC_FULL §4.9 calls for. It implements room.Socket.
type Conn struct {
	ws       *websocket.Conn
	send     chan *room.WireEvent
	roomID   string
	clientID string

	moveLimiter  *limiter.Limiter
	eraseLimiter *limiter.Limiter
}

// NewConn builds a Conn with fresh per-connection rate limiters, one
// instance per socket rather than a shared keyed store, so limits never
// leak across connections.
func NewConn(ws *websocket.Conn, roomID, clientID string, moveRate, eraseRate int) *Conn {
	return &Conn{
		ws:           ws,
		send:         make(chan *room.WireEvent, 256),
		roomID:       roomID,
		clientID:     clientID,
		moveLimiter:  newPerSecondLimiter(moveRate),
		eraseLimiter: newPerSecondLimiter(eraseRate),
	}
}

func newPerSecondLimiter(rate int) *limiter.Limiter {
	store := memory.NewStore()
	rt := limiter.Rate{Period: time.Second, Limit: int64(rate)}
	return limiter.New(store, rt)
}

// Send implements room.Socket.
func (c *Conn) Send(evt *room.WireEvent) error {
	select {
	case c.send <- evt:
		return nil
	default:
		return errSendBufferFull
	}
}

var errSendBufferFull = errors.New("send buffer full")

// RoomID and ClientID expose the identity this socket was admitted under.
func (c *Conn) RoomID() string   { return c.roomID }
func (c *Conn) ClientID() string { return c.clientID }

// WritePump drains the send channel to the socket, sending periodic pings.
// It owns the connection's close once the send channel is closed or a
// write fails.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads frames until the heartbeat timeout elapses or the socket
// errors, decoding each into a room.WireEvent and handing it to onEvent.
// An event over its per-type rate limit is not forwarded; onRateLimited is
// called for it instead.
func (c *Conn) ReadPump(onEvent func(*room.WireEvent), onRateLimited func()) {
	defer close(c.send)
	c.ws.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		return nil
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Printf("🔌 heartbeat timeout for client %s in room %s", c.clientID, c.roomID)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "heartbeat timeout")
				c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("🔌 socket error for client %s in room %s: %v", c.clientID, c.roomID, err)
			}
			return
		}
		var evt room.WireEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Printf("🔌 malformed frame from client %s: %v", c.clientID, err)
			c.Send(room.NewErrorEvent("malformed frame"))
			continue
		}
		if c.rateLimited(evt.Type) {
			onRateLimited()
			continue
		}
		onEvent(&evt)
	}
}

func (c *Conn) rateLimited(t room.EventType) bool {
	var lim *limiter.Limiter
	switch t {
	case room.EventTokenMove:
		lim = c.moveLimiter
	case room.EventEraseAt:
		lim = c.eraseLimiter
	default:
		return false
	}
	ctx, err := lim.Get(context.Background(), "socket")
	if err != nil {
		return false
	}
	if ctx.Reached {
		metrics.RateLimitRejections.WithLabelValues(string(t)).Inc()
	}
	return ctx.Reached
}
