package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
)

// StoredEvent immutable record of one emission, kept for the polling
// fallback and brief reconnect gaps
type StoredEvent struct {
	ID        uint64          `json:"id"`
	Event     string          `json:"event"`
	Channel   Channel         `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// eventHistory bounded, time-windowed buffer of recent emissions. Entries
// are held in emission order in one slice; when the global count cap is
// exceeded the oldest entry goes first regardless of channel (FIFO across
// the whole buffer, no per-channel fairness).
type eventHistory struct {
	common.Component
	lock       sync.Mutex
	entries    []StoredEvent
	nextID     uint64
	maxEntries int
	retention  time.Duration
}

// newEventHistory create an empty history buffer
func newEventHistory(maxEntries int, retention time.Duration) *eventHistory {
	logTags := log.Fields{
		"module": "hub", "component": "event-history",
	}
	return &eventHistory{
		Component:  common.Component{LogTags: logTags},
		entries:    make([]StoredEvent, 0, maxEntries),
		nextID:     1,
		maxEntries: maxEntries,
		retention:  retention,
	}
}

// record append one emission with a server timestamp
func (h *eventHistory) record(
	event string, channel Channel, payload json.RawMessage, at time.Time,
) StoredEvent {
	ts := epochMS(at)
	h.lock.Lock()
	defer h.lock.Unlock()
	// Emitters capture their clocks before reaching this lock, so a caller
	// that lost the race could otherwise append out of order. Entries must
	// stay sorted by timestamp or sweep and query misbehave.
	if last := len(h.entries) - 1; last >= 0 && ts < h.entries[last].Timestamp {
		ts = h.entries[last].Timestamp
	}
	entry := StoredEvent{
		ID:        h.nextID,
		Event:     event,
		Channel:   channel,
		Payload:   payload,
		Timestamp: ts,
	}
	h.nextID++
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.maxEntries {
		dropping := len(h.entries) - h.maxEntries
		h.entries = append([]StoredEvent{}, h.entries[dropping:]...)
		log.WithFields(h.LogTags).Debugf("Dropped %d oldest entries over count cap", dropping)
	}
	return entry
}

// query all stored events for the requested channels with timestamp
// strictly greater than since, in emission order
func (h *eventHistory) query(channels []Channel, since time.Time) []StoredEvent {
	wanted := make(map[Channel]bool, len(channels))
	for _, channel := range channels {
		wanted[channel] = true
	}
	sinceMS := epochMS(since)
	h.lock.Lock()
	defer h.lock.Unlock()
	result := []StoredEvent{}
	for _, entry := range h.entries {
		if entry.Timestamp > sinceMS && wanted[entry.Channel] {
			result = append(result, entry)
		}
	}
	return result
}

// sweep evict entries older than the retention window. Runs on its own
// timer so eviction never piggybacks on record or query calls.
func (h *eventHistory) sweep(now time.Time) int {
	cutoff := epochMS(now.Add(-h.retention))
	h.lock.Lock()
	defer h.lock.Unlock()
	firstLive := len(h.entries)
	for idx, entry := range h.entries {
		if entry.Timestamp > cutoff {
			firstLive = idx
			break
		}
	}
	if firstLive == 0 {
		return 0
	}
	h.entries = append([]StoredEvent{}, h.entries[firstLive:]...)
	log.WithFields(h.LogTags).Debugf("Swept %d expired entries", firstLive)
	return firstLive
}

// size current entry count across all channels
func (h *eventHistory) size() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.entries)
}
