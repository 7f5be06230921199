package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved frame event names. Domain broadcasts carry the domain event
// name instead.
const (
	FrameEventConnected = "connected"
	FrameEventPing      = "ping"
	FrameEventPong      = "pong"
	FrameEventSystem    = "system:message"
	FrameEventError     = "error"
)

// Frame is the unit written to a connection's transport: the event name,
// the channel it was published on, the serialized payload, and the
// server-assigned emission timestamp in epoch ms.
type Frame struct {
	Event     string          `json:"event" validate:"required"`
	Channel   Channel         `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp" validate:"required"`
}

// String toString function
func (f Frame) String() string {
	return fmt.Sprintf("FRAME[%s @ %s]", f.Event, f.Channel)
}

// Sink is the write side of one open client connection. A Sink is owned
// exclusively by the connection registered with it; only that connection's
// writer may call Write, and Close releases the underlying transport.
type Sink interface {
	// Write deliver one frame to the client
	Write(frame Frame) error
	// Close release the underlying transport
	Close() error
}

// connectedPayload payload of the frame acknowledging a registration
type connectedPayload struct {
	ConnectionID string    `json:"connection_id"`
	Channels     []Channel `json:"channels"`
	Principal    string    `json:"principal"`
}

// newConnectedFrame build the frame acknowledging a registration
func newConnectedFrame(id string, channels []Channel, identity Identity, at time.Time) Frame {
	payload, _ := json.Marshal(connectedPayload{
		ConnectionID: id, Channels: channels, Principal: identity.Principal,
	})
	return Frame{Event: FrameEventConnected, Payload: payload, Timestamp: epochMS(at)}
}

// newPingFrame build a liveness probe frame
func newPingFrame(at time.Time) Frame {
	return Frame{Event: FrameEventPing, Timestamp: epochMS(at)}
}

// NewPongFrame build the reply to a client liveness probe
func NewPongFrame(at time.Time) Frame {
	return Frame{Event: FrameEventPong, Timestamp: epochMS(at)}
}

// newSystemFrame build a system notice frame
func newSystemFrame(message string, at time.Time) Frame {
	payload, _ := json.Marshal(map[string]string{"message": message})
	return Frame{Event: FrameEventSystem, Payload: payload, Timestamp: epochMS(at)}
}

// NewErrorFrame build an error feedback frame for a duplex client. The
// connection stays open; this only reports a rejected inbound message.
func NewErrorFrame(code int, message string, at time.Time) Frame {
	payload, _ := json.Marshal(map[string]interface{}{"code": code, "message": message})
	return Frame{Event: FrameEventError, Payload: payload, Timestamp: epochMS(at)}
}

// epochMS timestamp convention for everything crossing the wire
func epochMS(t time.Time) int64 {
	return t.UnixMilli()
}
