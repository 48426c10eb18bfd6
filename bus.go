package taskgate

import (
	"context"
	"sync"
)

// NewEvent builds an Event with a fresh EventID.
func NewEvent(eventType, content string, metadata map[string]string) Event {
	return Event{EventType: eventType, Content: content, Metadata: metadata, EventID: NewID()}
}

// matches reports whether ev satisfies f (§4.1): the event's type must be
// in EventTypes (or the set empty/absent), and for every metadata-filter
// key with a non-empty allowed-value set, the event's value for that key
// must be a member of the set.
func (f EventFilter) matches(ev Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == ev.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, allowed := range f.MetadataFilters {
		if len(allowed) == 0 {
			continue
		}
		v, ok := ev.Metadata[key]
		if !ok {
			return false
		}
		if _, ok := allowed[v]; !ok {
			return false
		}
	}
	return true
}

// Connection is one subscriber's unbounded FIFO of matching events.
// Pushes never block; a consumer drains it with Next.
type Connection struct {
	id     string
	userID string
	filter EventFilter

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	closed bool
}

// ID identifies the connection (for diagnostics, not used for routing).
func (c *Connection) ID() string { return c.id }

func newConnection(userID string, filter EventFilter) *Connection {
	return &Connection{id: NewID(), userID: userID, filter: filter, signal: make(chan struct{}, 1)}
}

// push appends ev to the queue and wakes a blocked consumer. Never blocks
// and never propagates an error to the caller (§4.1 failure contract).
func (c *Connection) push(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the connection is closed, or
// ctx is done, returning (event, true) or (zero, false).
func (c *Connection) Next(ctx context.Context) (Event, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return ev, true
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return Event{}, false
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-c.signal:
		}
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// EventBus is a per-user in-process publish/subscribe bus (C1). One
// bus-wide lock, shared by all users, guards the user-to-connections map:
// membership changes (Register/Unregister) hold it only long enough to
// splice a connection list, and Emit holds it only to snapshot the list
// before delivering, so deliveries to different connections never block
// one another. There is no separate lock per user.
type EventBus struct {
	mu    sync.Mutex
	conns map[string][]*Connection
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{conns: make(map[string][]*Connection)}
}

// Register opens a new connection for userID with the given filter.
func (b *EventBus) Register(userID string, filter EventFilter) *Connection {
	c := newConnection(userID, filter)
	b.mu.Lock()
	b.conns[userID] = append(b.conns[userID], c)
	b.mu.Unlock()
	return c
}

// Unregister closes and removes a connection. Safe to call more than once.
func (b *EventBus) Unregister(c *Connection) {
	c.close()
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.conns[c.userID]
	for i, x := range list {
		if x == c {
			b.conns[c.userID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.conns[c.userID]) == 0 {
		delete(b.conns, c.userID)
	}
}

// Emit delivers ev to every connection registered for userID whose filter
// matches it. Delivery is non-blocking per connection.
func (b *EventBus) Emit(userID string, ev Event) {
	b.mu.Lock()
	conns := append([]*Connection(nil), b.conns[userID]...)
	b.mu.Unlock()
	for _, c := range conns {
		if c.filter.matches(ev) {
			c.push(ev)
		}
	}
}

// ConnectionCount reports how many live connections userID currently has.
// Used by tests and diagnostics, not by the delivery path.
func (b *EventBus) ConnectionCount(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns[userID])
}
