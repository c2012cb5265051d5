// Package stream pushes live order-book snapshots to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
)

const writeTimeout = 5 * time.Second

// BookSource produces the current order book for a symbol.
type BookSource interface {
	GetOrderBook(ctx context.Context, symbol string) domain.OrderBook
	HasSymbol(symbol string) bool
}

type client struct {
	conn    *websocket.Conn
	symbol  string
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans order-book snapshots out to every connected client on a fixed interval.
type Hub struct {
	books    BookSource
	interval time.Duration
	metrics  *infra.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	logger *slog.Logger
}

// NewHub creates a hub. metrics may be nil.
func NewHub(books BookSource, interval time.Duration, metrics *infra.Metrics) *Hub {
	return &Hub{
		books:    books,
		interval: interval,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		logger:  slog.Default().With("module", "stream"),
	}
}

// ServeHTTP upgrades the request and subscribes it to ?symbol=.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "missing symbol", http.StatusBadRequest)
		return
	}
	if !h.books.HasSymbol(symbol) {
		http.Error(w, "stock not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, symbol: symbol}

	// Send the first snapshot before the client joins the broadcast
	if data, err := json.Marshal(h.books.GetOrderBook(r.Context(), symbol)); err == nil {
		if err := c.write(data); err != nil {
			conn.Close()
			return
		}
	}

	h.register(c)
	go h.readLoop(c)
}

// readLoop drains client frames so close and ping control messages are processed.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run pushes snapshots until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast(ctx)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	// One book per symbol per tick
	payloads := make(map[string][]byte)
	for _, c := range clients {
		data, ok := payloads[c.symbol]
		if !ok {
			var err error
			data, err = json.Marshal(h.books.GetOrderBook(ctx, c.symbol))
			if err != nil {
				h.logger.Error("Failed to encode order book", slog.String("symbol", c.symbol), slog.Any("error", err))
				continue
			}
			payloads[c.symbol] = data
		}
		if err := c.write(data); err != nil {
			h.logger.Debug("Dropping stream client", slog.String("symbol", c.symbol), slog.Any("error", err))
			h.unregister(c)
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IncrementStreamClients()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.conn.Close()
	if h.metrics != nil {
		h.metrics.DecrementStreamClients()
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}
