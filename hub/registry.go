package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
)

// Identity optional principal attached to a connection. Anonymous and
// unauthenticated is a valid, permitted state.
type Identity struct {
	Principal     string `json:"principal"`
	Authenticated bool   `json:"authenticated"`
}

// AnonymousIdentity the identity used when the caller supplies none
func AnonymousIdentity() Identity {
	return Identity{Principal: "anonymous", Authenticated: false}
}

// connection one open client session. The sink is owned exclusively by
// the connection's writer pump; nothing else writes to it.
type connection struct {
	id          string
	channels    map[Channel]bool
	identity    Identity
	sink        Sink
	connectedAt time.Time
	sendQueue   chan Frame
	// ctxt is cancelled exactly once on deregistration; the writer pump
	// and the keepalive timer both hang off it
	ctxt   context.Context
	cancel context.CancelFunc
}

// connectionRegistry the authoritative connection map plus the channel
// subscription index. Both structures mutate together under one lock so a
// concurrent broadcast never observes a half-removed connection; the lock
// is never held across a transport write.
type connectionRegistry struct {
	common.Component
	lock        sync.RWMutex
	connections map[string]*connection
	subscribers map[Channel]map[string]*connection
}

// newConnectionRegistry create an empty registry/index pair
func newConnectionRegistry() *connectionRegistry {
	logTags := log.Fields{
		"module": "hub", "component": "connection-registry",
	}
	subscribers := make(map[Channel]map[string]*connection)
	for _, channel := range AllChannels() {
		subscribers[channel] = make(map[string]*connection)
	}
	return &connectionRegistry{
		Component:   common.Component{LogTags: logTags},
		connections: make(map[string]*connection),
		subscribers: subscribers,
	}
}

// add store a new connection and index its channel set. A non-zero
// maxConnections caps the registry size; the cap is enforced under the
// same lock as the insert.
func (r *connectionRegistry) add(conn *connection, maxConnections int) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.connections[conn.id]; ok {
		return fmt.Errorf("connection %s already registered", conn.id)
	}
	if maxConnections > 0 && len(r.connections) >= maxConnections {
		return fmt.Errorf("connection capacity %d reached", maxConnections)
	}
	r.connections[conn.id] = conn
	for channel := range conn.channels {
		r.subscribers[channel][conn.id] = conn
	}
	return nil
}

// remove drop a connection from the map and every subscriber set. Removal
// of an unknown id is a no-op, which makes deregistration idempotent under
// concurrent callers.
func (r *connectionRegistry) remove(id string) (*connection, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	delete(r.connections, id)
	for channel := range conn.channels {
		delete(r.subscribers[channel], id)
	}
	return conn, true
}

// get fetch a live connection by id
func (r *connectionRegistry) get(id string) (*connection, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// subscribe extend a connection's channel set. All-or-nothing: callers
// validate the channel list before calling, so every channel here is a
// member of the closed set.
func (r *connectionRegistry) subscribe(id string, channels []Channel) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return common.ErrUnknownConnection
	}
	for _, channel := range channels {
		conn.channels[channel] = true
		r.subscribers[channel][id] = conn
	}
	return nil
}

// unsubscribe shrink a connection's channel set
func (r *connectionRegistry) unsubscribe(id string, channels []Channel) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return common.ErrUnknownConnection
	}
	for _, channel := range channels {
		delete(conn.channels, channel)
		delete(r.subscribers[channel], id)
	}
	return nil
}

// snapshot the current subscriber set for a channel, taken at call time.
// Fan-out iterates the snapshot outside the lock; connections removed
// mid-fan-out simply stop accepting frames.
func (r *connectionRegistry) snapshot(channel Channel) []*connection {
	r.lock.RLock()
	defer r.lock.RUnlock()
	subs := r.subscribers[channel]
	result := make([]*connection, 0, len(subs))
	for _, conn := range subs {
		result = append(result, conn)
	}
	return result
}

// all every live connection
func (r *connectionRegistry) all() []*connection {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]*connection, 0, len(r.connections))
	for _, conn := range r.connections {
		result = append(result, conn)
	}
	return result
}

// size the live connection count
func (r *connectionRegistry) size() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.connections)
}

// subscriberCounts per-channel live subscriber set sizes
func (r *connectionRegistry) subscriberCounts() map[Channel]int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	counts := make(map[Channel]int, len(r.subscribers))
	for channel, subs := range r.subscribers {
		counts[channel] = len(subs)
	}
	return counts
}
