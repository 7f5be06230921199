package hub

import (
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
)

// inboundRateLimiter sliding-window counter keyed by connection id. Gates
// only inbound control messages on the duplex transport; outbound
// broadcast volume is bounded by emit frequency, not by this.
type inboundRateLimiter struct {
	common.Component
	lock   sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
}

// newInboundRateLimiter create a limiter allowing max messages per rolling
// window per connection
func newInboundRateLimiter(max int, window time.Duration) *inboundRateLimiter {
	logTags := log.Fields{
		"module": "hub", "component": "inbound-rate-limiter",
	}
	return &inboundRateLimiter{
		Component: common.Component{LogTags: logTags},
		max:       max,
		window:    window,
		hits:      make(map[string][]time.Time),
	}
}

// allow record one inbound message for the connection and report whether
// it is within the rolling window allowance
func (l *inboundRateLimiter) allow(id string, at time.Time) bool {
	windowStart := at.Add(-l.window)
	l.lock.Lock()
	defer l.lock.Unlock()
	recent := l.hits[id]
	// Drop hits which have rolled out of the window
	live := recent[:0]
	for _, hit := range recent {
		if hit.After(windowStart) {
			live = append(live, hit)
		}
	}
	if len(live) >= l.max {
		l.hits[id] = live
		log.WithFields(l.LogTags).Debugf("Connection %s exceeded %d per %s", id, l.max, l.window)
		return false
	}
	l.hits[id] = append(live, at)
	return true
}

// reset clear state for a disconnected connection so the map does not
// grow without bound
func (l *inboundRateLimiter) reset(id string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.hits, id)
}
