// Package deltasync broadcasts binary-encoded delta documents to websocket
// subscribers, so peers holding a replica of a graph can replay each
// change as it is published.
package deltasync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	slogctx "github.com/veqryn/slog-context"

	"github.com/deepdelta/deepdelta"
)

const (
	defaultMaxClients = 64
	writeTimeout      = 10 * time.Second
)

// Hub accepts websocket subscribers and fans encoded delta documents out
// to them. Safe for concurrent use.
type Hub struct {
	engine   *deepdelta.Engine
	binOpts  deepdelta.BinaryOptions
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	closed     bool
	maxClients int
}

// HubOption adjusts a Hub.
type HubOption func(*Hub)

// MaxClients caps the number of concurrent subscribers. The default is 64.
func MaxClients(n int) HubOption {
	return func(h *Hub) { h.maxClients = n }
}

// NewHub returns a hub encoding documents through engine's schema with the
// given codec options. A nil engine uses the package defaults.
func NewHub(engine *deepdelta.Engine, binOpts deepdelta.BinaryOptions, opts ...HubOption) *Hub {
	if engine == nil {
		engine = deepdelta.New()
	}
	h := &Hub{
		engine:     engine,
		binOpts:    binOpts,
		clients:    map[*websocket.Conn]struct{}{},
		maxClients: defaultMaxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogctx.FromCtx(r.Context())

	h.mu.Lock()
	if h.closed || len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		log.Warn("rejecting delta subscriber", "clients", h.maxClients)
		http.Error(w, "subscriber limit reached", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info("delta subscriber connected", "clients", n)

	// subscribers never send; the read pump exists to notice closes
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Publish encodes doc and broadcasts it to every subscriber. Subscribers
// that fail to accept the write are dropped; Publish only errors when the
// document itself cannot be encoded.
func (h *Hub) Publish(ctx context.Context, doc *deepdelta.Document) error {
	log := slogctx.FromCtx(ctx)

	data, err := h.engine.Encode(doc, h.binOpts)
	if err != nil {
		return fmt.Errorf("encode delta document: %w", err)
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			log.Warn("dropping slow delta subscriber", "error", err)
			h.drop(conn)
		}
	}
	log.Debug("published delta document", "ops", len(doc.Ops), "bytes", len(data), "subscribers", len(conns))
	return nil
}

// Close disconnects every subscriber and rejects future ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	h.clients = map[*websocket.Conn]struct{}{}
}
