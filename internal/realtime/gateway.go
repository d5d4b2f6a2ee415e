package realtime

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	natsclient "github.com/capitalize-ai/messaging-platform/internal/nats"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// Subscriber delivers raw envelopes published on a channel.
type Subscriber interface {
	Subscribe(channel string, handler func(data []byte)) (natsclient.Subscription, error)
}

// clientFrame is a frame sent by a websocket client.
type clientFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Auth    string `json:"auth,omitempty"`
}

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
)

// Gateway upgrades HTTP requests to websockets and forwards broadcasts on
// channels the client holds a valid grant for.
type Gateway struct {
	grants     *GrantSigner
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     *logger.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewGateway creates a websocket gateway. An empty origin list accepts any origin.
func NewGateway(grants *GrantSigner, subscriber Subscriber, allowedOrigins []string, log *logger.Logger) *Gateway {
	g := &Gateway{
		grants:     grants,
		subscriber: subscriber,
		logger:     log.Named("gateway"),
		conns:      make(map[string]*Connection),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return g
}

// originChecker accepts origins matching any pattern; a pattern may hold one "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, pattern := range allowed {
			prefix, suffix, wildcard := strings.Cut(pattern, "*")
			if !wildcard && origin == pattern {
				return true
			}
			if wildcard && len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection and runs its read loop until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(ws)
	g.track(conn)
	defer g.untrack(conn)

	conn.start()
	_ = conn.sendJSON(model.Envelope{
		Event: model.EventConnectionEstablished,
		Data:  map[string]string{"socket_id": conn.ID},
	})

	g.readLoop(conn)
}

func (g *Gateway) readLoop(conn *Connection) {
	defer conn.Close(websocket.CloseNormalClosure, "")

	conn.ws.SetReadLimit(maxFrameBytes)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame clientFrame
		if err := conn.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read failed", zap.String("socket_id", conn.ID), zap.Error(err))
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		g.handleFrame(conn, frame)
	}
}

func (g *Gateway) handleFrame(conn *Connection, frame clientFrame) {
	switch frame.Event {
	case frameSubscribe:
		g.subscribe(conn, frame)
	case frameUnsubscribe:
		conn.removeSubscription(frame.Channel)
	case framePing:
		_ = conn.sendJSON(model.Envelope{Event: model.EventPong})
	default:
		_ = conn.sendJSON(model.Envelope{
			Event: model.EventError,
			Data:  model.ErrorEvent{Code: "UNKNOWN_EVENT", Message: "unsupported event"},
		})
	}
}

func (g *Gateway) subscribe(conn *Connection, frame clientFrame) {
	claims, err := g.grants.Verify(frame.Auth, frame.Channel, conn.ID)
	if err != nil {
		g.logger.Debug("subscription rejected",
			zap.String("socket_id", conn.ID),
			zap.String("channel", frame.Channel),
			zap.Error(err),
		)
		_ = conn.sendJSON(model.Envelope{
			Event:   model.EventSubscriptionError,
			Channel: frame.Channel,
			Data:    model.ErrorEvent{Code: "FORBIDDEN", Message: "subscription not authorized"},
		})
		return
	}

	if !conn.hasSubscription(frame.Channel) {
		sub, err := g.subscriber.Subscribe(frame.Channel, func(data []byte) {
			_ = conn.Send(data)
		})
		if err != nil {
			g.logger.Error("subscribe failed", zap.String("channel", frame.Channel), zap.Error(err))
			_ = conn.sendJSON(model.Envelope{
				Event:   model.EventSubscriptionError,
				Channel: frame.Channel,
				Data:    model.ErrorEvent{Code: "UNAVAILABLE", Message: "subscription failed"},
			})
			return
		}
		if !conn.addSubscription(frame.Channel, sub) {
			return
		}
		userID, _ := claims.UserID()
		g.logger.Debug("subscribed",
			zap.String("socket_id", conn.ID),
			zap.String("channel", frame.Channel),
			zap.Int64("user_id", userID),
		)
	}

	_ = conn.sendJSON(model.Envelope{Event: model.EventSubscriptionSucceeded, Channel: frame.Channel})
}

func (g *Gateway) track(conn *Connection) {
	g.mu.Lock()
	g.conns[conn.ID] = conn
	g.mu.Unlock()
	metrics.WebsocketConnectionsActive.Inc()
}

func (g *Gateway) untrack(conn *Connection) {
	g.mu.Lock()
	delete(g.conns, conn.ID)
	g.mu.Unlock()
	metrics.WebsocketConnectionsActive.Dec()
}

// Close disconnects every client.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
