package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// principalHeader carries the caller identity resolved by the fronting
// auth proxy. Absent means anonymous.
const principalHeader = "Govhub-Principal"

// APIRestEventStreamHandler REST handler for the SSE push transport
type APIRestEventStreamHandler struct {
	APIRestHandler
	hub         hub.EventHub
	baseContext context.Context
}

// GetAPIRestEventStreamHandler define APIRestEventStreamHandler
func GetAPIRestEventStreamHandler(
	eventHub hub.EventHub, baseContext context.Context, httpConfig *common.HTTPConfig,
) (APIRestEventStreamHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "event-stream",
	}
	return APIRestEventStreamHandler{
		APIRestHandler: APIRestHandler{
			Component:       common.Component{LogTags: logTags},
			requestIDHeader: httpConfig.Logging.RequestIDHeader,
		},
		hub:         eventHub,
		baseContext: baseContext,
	}, nil
}

// sseSink Sink adapter writing frames as server-sent events. Write is only
// called by the connection's writer pump, the lock guards against a close
// racing a final write. The released channel closes once the pump is done
// with the ResponseWriter; the request handler must not return before then.
type sseSink struct {
	lock        sync.Mutex
	writer      http.ResponseWriter
	flusher     http.Flusher
	closed      bool
	released    chan struct{}
	releaseOnce sync.Once
}

// newSSESink wrap a streaming response as a hub sink
func newSSESink(writer http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{writer: writer, flusher: flusher, released: make(chan struct{})}
}

func (s *sseSink) Write(frame hub.Frame) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return fmt.Errorf("sse sink already closed")
	}
	serialize, err := json.Marshal(&frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", frame.Event, serialize); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	// The response itself is owned by the request goroutine; closing just
	// hands the ResponseWriter back to it
	s.closed = true
	s.releaseOnce.Do(func() { close(s.released) })
	return nil
}

// parseChannelsQuery read the channels query parameter, comma separated or
// repeated
func parseChannelsQuery(r *http.Request) []string {
	var names []string
	for _, entry := range r.URL.Query()["channels"] {
		for _, name := range strings.Split(entry, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// parseSinceQuery read the optional since query parameter in epoch ms
func parseSinceQuery(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unable to parse since timestamp: %w", err)
	}
	since := time.UnixMilli(ms)
	return &since, nil
}

// identityFromRequest resolve the caller identity from proxy headers
func identityFromRequest(r *http.Request) hub.Identity {
	principal := r.Header.Get(principalHeader)
	if principal == "" {
		return hub.AnonymousIdentity()
	}
	return hub.Identity{Principal: principal, Authenticated: true}
}

// Stream open a one-way event stream. The connection is registered with
// the hub and held open until the client disconnects or the hub shuts
// down. When since is given, buffered events newer than it are replayed
// before live traffic.
func (h APIRestEventStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.LogTags

	channels := parseChannelsQuery(r)
	since, err := parseSinceQuery(r)
	if err != nil {
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
			"GET /v1/stream",
		)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(localLogTags).Error(msg)
		h.reply(
			w, http.StatusInternalServerError,
			h.getStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg),
			"GET /v1/stream",
		)
		return
	}

	// Reject unknown channels while a plain HTTP error is still possible
	if _, err := hub.ParseChannels(channels); err != nil {
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
			"GET /v1/stream",
		)
		return
	}

	// Replay is read before registration so replayed frames are bounded;
	// an event emitted in between shows up on the live stream instead
	var replay []hub.StoredEvent
	if since != nil {
		replay, err = h.hub.RecentEvents(channels, since)
		if err != nil {
			h.reply(
				w, http.StatusBadRequest,
				h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
				"GET /v1/stream",
			)
			return
		}
	}

	connID := uuid.New().String()
	sink := newSSESink(w, flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	done, err := h.hub.Register(connID, sink, channels, identityFromRequest(r))
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Stream registration failed")
		frame := hub.NewErrorFrame(http.StatusBadRequest, err.Error(), time.Now())
		_ = sink.Write(frame)
		return
	}

	for _, entry := range replay {
		_ = h.hub.Notify(connID, hub.Frame{
			Event:     entry.Event,
			Channel:   entry.Channel,
			Payload:   entry.Payload,
			Timestamp: entry.Timestamp,
		})
	}

	log.WithFields(localLogTags).Infof("Streaming to connection %s", connID)
	select {
	case <-r.Context().Done():
		_ = h.hub.Deregister(connID)
	case <-done:
	}
	// The writer pump may still be flushing queued frames (the shutdown
	// notice in particular); the ResponseWriter cannot be abandoned until
	// the pump closes the sink
	<-sink.released
	log.WithFields(localLogTags).Infof("Stream %s closed", connID)
}

// StreamHandler Wrapper around Stream
func (h APIRestEventStreamHandler) StreamHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r)
	})
}
