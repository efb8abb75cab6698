// Package ws implements the WebSocket gateway: connection management, the
// join handshake, and staff console commands.
package ws

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/metrics"
	"github.com/persistorai/queuecall/internal/protocol"
)

// Hub channel buffer size.
const registerBuffer = 64

// HubConfig bounds connections and command throughput.
type HubConfig struct {
	MaxConnections int
	MaxPerIP       int
	CommandRate    float64
	CommandBurst   int
	TokenRefresh   time.Duration
}

// Hub manages active WebSocket clients.
// All client map mutations happen exclusively in the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	ipCount    map[string]int
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{} // signals Run to begin graceful drain
	done       chan struct{} // closed when Run has finished draining
	count      atomic.Int64
	log        *logrus.Logger
	gw         *Gateway
	cfg        HubConfig
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger, gw *Gateway, cfg HubConfig) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		ipCount:    make(map[string]int),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
		gw:         gw,
		cfg:        cfg,
	}
}

// drainTimeout is how long the hub waits for clients to flush after shutdown.
const drainTimeout = 3 * time.Second

// Run starts the hub event loop. It should be run as a goroutine.
// It exits when Shutdown is called or the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drainClients()

			return
		case <-h.shutdown:
			h.drainClients()

			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}

			h.log.WithField("total", len(h.clients)).Debug("client unregistered")
		}
	}
}

func (h *Hub) add(client *Client) {
	if h.cfg.MaxConnections > 0 && len(h.clients) >= h.cfg.MaxConnections {
		h.log.Warn("global connection limit reached, dropping client")
		client.closeSend()

		return
	}

	if h.cfg.MaxPerIP > 0 && h.ipCount[client.IP] >= h.cfg.MaxPerIP {
		h.log.WithField("client", client.IP).Warn("per-IP connection limit reached, dropping client")
		client.closeSend()

		return
	}

	h.clients[client] = true
	h.ipCount[client.IP]++
	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
	h.log.WithField("total", len(h.clients)).Debug("client registered")
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	client.closeSend()

	h.ipCount[client.IP]--
	if h.ipCount[client.IP] <= 0 {
		delete(h.ipCount, client.IP)
	}

	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
		// Run loop already exited; client cleanup happened in Run shutdown.
	}
}

// Serve runs a client for an accepted connection and blocks until the
// connection closes or ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, ip string) {
	client := NewClient(h, conn, ip)
	h.Register(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Shutdown initiates a graceful WebSocket drain: sends a shutdown frame to
// every connected client, waits for their write pumps to flush, then closes
// all connections. It blocks until drain is complete or the timeout expires.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

// drainClients sends a shutdown frame to every client so it reconnects and
// rejoins elsewhere, then waits for buffers to flush.
func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining WebSocket clients")

	shutdownMsg := protocol.Shutdown().Encode()
	for client := range h.clients {
		client.Deliver(shutdownMsg)
	}

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond) //nolint:mnd // poll interval
	defer ticker.Stop()

drain:
	for {
		allDrained := true

		for client := range h.clients {
			if client.pending() > 0 {
				allDrained = false

				break
			}
		}

		if allDrained {
			break
		}

		select {
		case <-deadline:
			h.log.Warn("WebSocket drain timeout, closing remaining clients")

			break drain
		case <-ticker.C:
		}
	}

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}

	h.ipCount = make(map[string]int)
	h.count.Store(0)
	metrics.WSConnections.Set(0)
}
