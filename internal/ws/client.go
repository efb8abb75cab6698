package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

const (
	writeTimeout        = 10 * time.Second
	wsReadLimit         = 4096
	clientSendBuffer    = 256
	maxConnLifetime     = 12 * time.Hour // displays stay up all day; clients reconnect and rejoin
	tokenRefreshTimeout = 10 * time.Second
	pingInterval        = 30 * time.Second
	pingTimeout         = 10 * time.Second
	maxMissedPongs      = int32(2)
	defaultRefresh      = 15 * time.Minute
)

// Client wraps a single WebSocket connection managed by the Hub. It is the
// session.Sink of whatever session the connection has joined.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	log         *logrus.Logger
	IP          string
	limiter     *rate.Limiter
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
	token  string

	// sess is only touched by the ReadPump goroutine.
	sess *session.Session
}

// NewClient creates a new Client for the given WebSocket connection.
func NewClient(hub *Hub, conn *websocket.Conn, ip string) *Client {
	burst := hub.cfg.CommandBurst
	if burst <= 0 {
		burst = 1
	}

	limit := rate.Limit(hub.cfg.CommandRate)
	if hub.cfg.CommandRate <= 0 {
		limit = rate.Inf
	}

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, clientSendBuffer),
		log:         hub.log,
		IP:          ip,
		limiter:     rate.NewLimiter(limit, burst),
		connectedAt: time.Now(),
	}
}

// Deliver queues msg without blocking. A client that cannot keep up is
// disconnected and will resynchronize with a fresh join.
func (c *Client) Deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.closed = true
		close(c.send)

		return false
	}
}

// Close ends the connection once queued frames have been written.
func (c *Client) Close() {
	c.closeSend()
}

// closeSend safely closes the send channel exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) pending() int {
	return len(c.send)
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
}

func (c *Client) staffToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.token
}

func (c *Client) reply(env *protocol.Envelope) {
	c.Deliver(env.Encode())
}

// ReadPump reads frames from the WebSocket connection until it closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.gw.leave(c)
		c.hub.Unregister(c)
		c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown
	}()

	c.conn.SetReadLimit(wsReadLimit)

	for {
		_, msgBytes, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.WithField("status", websocket.CloseStatus(err)).Debug("client disconnected")
			}

			return
		}

		c.handleMessage(ctx, msgBytes)
	}
}

// handleMessage decodes a client frame and hands it to the gateway.
func (c *Client) handleMessage(ctx context.Context, msgBytes []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(msgBytes, &frame); err != nil || frame.Event == "" {
		c.reply(protocol.Reply(protocol.StatusError, "", "malformed frame"))
		return
	}

	if !c.limiter.Allow() {
		c.reply(protocol.Reply(protocol.StatusError, frame.Ref, "rate limit exceeded"))
		return
	}

	c.hub.gw.dispatch(ctx, c, &frame)
}

// sendPing sends a WebSocket ping and tracks missed pongs.
// Returns true if the connection should be closed.
func (c *Client) sendPing(ctx context.Context, missedPongs *atomic.Int32) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := c.conn.Ping(pingCtx)
	cancel()

	if err != nil {
		if missedPongs.Add(1) >= maxMissedPongs {
			c.log.Debug("closing: 2 consecutive missed pongs")

			return true
		}

		return false
	}

	missedPongs.Store(0)

	return false
}

// WritePump writes queued frames to the WebSocket connection. It enforces a
// maximum connection lifetime and periodically re-validates staff tokens.
func (c *Client) WritePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	lifetimeTimer := time.NewTimer(time.Until(c.connectedAt.Add(maxConnLifetime)))
	defer lifetimeTimer.Stop()

	refresh := c.hub.cfg.TokenRefresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	refreshTicker := time.NewTicker(refresh)
	defer refreshTicker.Stop()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var missedPongs atomic.Int32

	for {
		select {
		case <-pingTicker.C:
			if c.sendPing(ctx, &missedPongs) {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // best-effort

				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)

			err := c.conn.Write(writeCtx, websocket.MessageText, msg)

			cancel()

			if err != nil {
				c.log.WithError(err).Debug("write failed")

				return
			}
		case <-refreshTicker.C:
			c.refreshToken(ctx)
		case <-lifetimeTimer.C:
			c.log.Info("closing WebSocket: max connection lifetime exceeded")
			c.conn.Close(websocket.StatusNormalClosure, "max connection lifetime exceeded") //nolint:errcheck // best-effort

			return
		}
	}
}

// refreshToken re-validates a staff console's token. On failure the client
// gets a logout frame and the connection closes after it is written.
func (c *Client) refreshToken(ctx context.Context) {
	token := c.staffToken()
	if token == "" {
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, tokenRefreshTimeout)
	_, err := c.hub.gw.staff.GetStaffByToken(refreshCtx, token)
	cancel()

	if err != nil {
		c.log.WithField("client", c.IP).Info("staff token no longer valid, logging out")
		c.reply(protocol.Reply(protocol.StatusLogout, "", "staff session expired"))
		c.Close()
	}
}
