// Package registry implements the broker's exclusively-owned state: the
// client-registration table and the per-topic, ownership-strength-ordered
// publisher sequences.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/rounaksalim95/pubsub-broker/internal/history"
	"github.com/rounaksalim95/pubsub-broker/internal/protocol"
)

// Publisher is a registered publisher's record within a topic's ordered
// sequence.
type Publisher struct {
	Addr    string
	Topic   string
	OwnStr  int
	History *history.Buffer
}

type clientRecord struct {
	addr    string
	topics  []string
	counter int
}

// Registry holds the broker's entire mutable state behind one mutex: every
// mutation is serialized, and scans never observe a concurrent reap.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*clientRecord
	topics  map[string][]*Publisher
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		clients: make(map[string]*clientRecord),
		topics:  make(map[string][]*Publisher),
	}
}

// RegisterClient creates or refreshes a client registration. Idempotent:
// a repeated registration resets the liveness counter but never touches
// the client's existing publishers — reap and explicit disconnect are the
// only deletion paths.
func (r *Registry) RegisterClient(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[addr]
	if !ok {
		r.clients[addr] = &clientRecord{addr: addr, counter: protocol.InitCount}
		return
	}
	c.counter = protocol.InitCount
}

// IsClient reports whether addr currently has a live registration.
func (r *Registry) IsClient(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[addr]
	return ok
}

// RegisterPublisher inserts a new Publisher record for addr/topic,
// preserving the descending-ownership-strength, insertion-order-stable
// sequence. It fails if addr is not a registered client.
func (r *Registry) RegisterPublisher(addr, topic string, ownStr, historyCnt int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[addr]
	if !ok {
		return false
	}

	p := &Publisher{
		Addr:    addr,
		Topic:   topic,
		OwnStr:  ownStr,
		History: history.New(historyCnt),
	}

	list := r.topics[topic]
	// Insert before the first entry with strictly lower strength, so
	// ties keep earlier registrations ahead of this one.
	idx := len(list)
	for i, existing := range list {
		if existing.OwnStr < ownStr {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = p
	r.topics[topic] = list

	c.topics = append(c.topics, topic)
	return true
}

// FindPublisher selects the earliest-registered strongest publisher on
// topic whose history capacity meets historyCnt (when non-nil) and whose
// address matches addr (when non-nil).
func (r *Registry) FindPublisher(topic string, historyCnt *int, addr *string) *Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findPublisherLocked(topic, historyCnt, addr)
}

func (r *Registry) findPublisherLocked(topic string, historyCnt *int, addr *string) *Publisher {
	for _, p := range r.topics[topic] {
		if historyCnt != nil && p.History.Capacity() < *historyCnt {
			continue
		}
		if addr != nil && p.Addr != *addr {
			continue
		}
		return p
	}
	return nil
}

// AppendPublish records content onto the (topic, addr) publisher's
// history unconditionally, and reports whether the publication should be
// relayed: iff the publisher's strength is at least the topic's current
// head strength. ok is false if no such publisher is registered.
func (r *Registry) AppendPublish(addr, topic string, content json.RawMessage) (ok, relay bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findPublisherLocked(topic, nil, &addr)
	if p == nil {
		return false, false
	}
	p.History.Append(content)

	head := r.topics[topic][0]
	return true, p.OwnStr >= head.OwnStr
}

// RemovePublisher deletes the Publisher record matching (topic, addr), if
// any; a no-op otherwise, so repeated disconnects stay harmless.
func (r *Registry) RemovePublisher(addr, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePublisherLocked(addr, topic)
}

func (r *Registry) removePublisherLocked(addr, topic string) {
	list := r.topics[topic]
	for i, p := range list {
		if p.Addr == addr {
			r.topics[topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if c, ok := r.clients[addr]; ok {
		for i, t := range c.topics {
			if t == topic {
				c.topics = append(c.topics[:i:i], c.topics[i+1:]...)
				break
			}
		}
	}
}

// Ping resets addr's liveness counter to INIT_COUNT if it is a
// registered client.
func (r *Registry) Ping(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[addr]
	if !ok {
		return false
	}
	c.counter = protocol.InitCount
	return true
}

// Tick decrements every registered client's liveness counter by one and
// returns the addresses that have dropped to zero or below. It does not
// remove any state itself — the caller must invoke ReapClient for each
// returned address, outside the lock this method held, so that the
// registry is never mutated mid-iteration.
func (r *Registry) Tick() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for addr, c := range r.clients {
		c.counter--
		if c.counter <= 0 {
			expired = append(expired, addr)
		}
	}
	return expired
}

// ClientCount returns the number of currently registered clients.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// PublisherCount returns the number of publisher records held across all
// topics.
func (r *Registry) PublisherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, list := range r.topics {
		n += len(list)
	}
	return n
}

// ReapClient removes addr's registration and every publisher it owns,
// atomically with respect to other registry operations. If addr
// answered a ping between Tick's scan and this call (counter back above
// zero), the client survives and ReapClient is a no-op — reaping only
// ever applies to a client still dead at the moment of removal.
func (r *Registry) ReapClient(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[addr]
	if !ok || c.counter > 0 {
		return
	}
	delete(r.clients, addr)
	for _, topic := range c.topics {
		r.removePublisherLocked(addr, topic)
	}
}
