// Package channel is the push transport: it hands out channel tokens, keeps track of
// connected channels and delivers events to them, possibly through another node.
package channel

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

const (
	// Default lifetime of an unused channel token.
	defaultTokenTTL = 2 * time.Hour
	// Maximum number of outstanding tokens.
	maxTokens = 1 << 16
)

// Conn is a connected channel.
type Conn interface {
	// Queue enqueues the payload for writing. Returns false if the payload was dropped.
	Queue(payload []byte) bool
	// Close disconnects the channel.
	Close()
}

// Hub maps instances to their connections on this node.
type Hub struct {
	// token -> instance
	tokens *expirable.LRU[string, string]

	mu    sync.RWMutex
	conns map[string]Conn

	relay *Relay

	// Called after a connection is attached to an instance. An error is returned from Attach.
	OnConnect func(instance string) error
	// Called after the connection of an instance is gone.
	OnDisconnect func(instance string)
}

// NewHub creates a hub. Tokens not used within tokenTTL expire.
func NewHub(tokenTTL time.Duration) *Hub {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Hub{
		tokens: expirable.NewLRU[string, string](maxTokens, nil, tokenTTL),
		conns:  make(map[string]Conn),
	}
}

// Open allocates a token the instance's channel connects with.
func (h *Hub) Open(instance string) (string, error) {
	if instance == "" {
		return "", types.ErrMalformed
	}
	token := uuid.NewString()
	h.tokens.Add(token, instance)
	return token, nil
}

// Instance returns the instance the token was issued for.
func (h *Hub) Instance(token string) (string, bool) {
	return h.tokens.Get(token)
}

// Attach registers the connection for the instance. A connection already attached to the
// same instance is closed.
func (h *Hub) Attach(instance string, conn Conn) error {
	h.mu.Lock()
	prev := h.conns[instance]
	h.conns[instance] = conn
	h.mu.Unlock()

	if prev != nil && prev != conn {
		logs.Info.Println("channel: replacing connection of", instance)
		prev.Close()
	}
	if h.OnConnect != nil {
		return h.OnConnect(instance)
	}
	return nil
}

// Detach unregisters the connection. Nothing happens if the instance is attached to another connection.
func (h *Hub) Detach(instance string, conn Conn) {
	h.mu.Lock()
	current, ok := h.conns[instance]
	if ok && current == conn {
		delete(h.conns, instance)
	}
	h.mu.Unlock()

	if ok && current == conn && h.OnDisconnect != nil {
		h.OnDisconnect(instance)
	}
}

// Connected reports if the instance has a connection on this node.
func (h *Hub) Connected(instance string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[instance]
	return ok
}

// Len returns the number of connections on this node.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send delivers the payload to the instance. Instances not connected to this node are
// reached through the relay if one is configured. Delivery is best effort.
func (h *Hub) Send(instance string, payload []byte) error {
	if h.deliverLocal(instance, payload) {
		return nil
	}
	if h.relay != nil {
		return h.relay.Publish(instance, payload)
	}
	return nil
}

// deliverLocal queues the payload to a connection on this node. Returns false if the
// instance is not connected here.
func (h *Hub) deliverLocal(instance string, payload []byte) bool {
	h.mu.RLock()
	conn := h.conns[instance]
	h.mu.RUnlock()
	if conn == nil {
		return false
	}
	if !conn.Queue(payload) {
		logs.Warn.Println("channel: queue full, event dropped for", instance)
	}
	return true
}

// Shutdown closes all connections. OnDisconnect is called for each of them.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.mu.Unlock()

	for instance, conn := range conns {
		conn.Close()
		if h.OnDisconnect != nil {
			h.OnDisconnect(instance)
		}
	}
	if h.relay != nil {
		h.relay.Close()
	}
}
