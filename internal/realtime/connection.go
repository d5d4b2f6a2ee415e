package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	natsclient "github.com/capitalize-ai/messaging-platform/internal/nats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
	sendBufferSize = 128
)

var errConnectionClosed = errors.New("connection closed")

// Connection is one websocket client. Outbound frames go through a bounded
// buffer drained by a single writer goroutine.
type Connection struct {
	ID string

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}

	mu     sync.Mutex
	subs   map[string]natsclient.Subscription
	closed bool
}

func newConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:    uuid.NewString(),
		ws:    ws,
		send:  make(chan []byte, sendBufferSize),
		close: make(chan struct{}),
		subs:  make(map[string]natsclient.Subscription),
	}
}

func (c *Connection) start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer closes the connection.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return errConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

func (c *Connection) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close releases subscriptions and terminates the socket. Safe to call repeatedly.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		c.unsubscribeAll()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) hasSubscription(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

// addSubscription records sub for channel. Once the connection has closed
// sub is released instead and false is returned.
func (c *Connection) addSubscription(channel string, sub natsclient.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = sub.Unsubscribe()
		return false
	}
	if old, ok := c.subs[channel]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[channel] = sub
	return true
}

func (c *Connection) removeSubscription(channel string) bool {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if ok {
		_ = sub.Unsubscribe()
	}
	return ok
}

func (c *Connection) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]natsclient.Subscription)
	c.closed = true
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
