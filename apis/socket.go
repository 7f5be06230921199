package apis

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsWriteTimeout per-frame write deadline on the duplex transport
const wsWriteTimeout = time.Second * 10

// APIRestWebsocketHandler REST handler for the WebSocket duplex transport
type APIRestWebsocketHandler struct {
	APIRestHandler
	hub         hub.EventHub
	baseContext context.Context
	upgrader    websocket.Upgrader
}

// GetAPIRestWebsocketHandler define APIRestWebsocketHandler
func GetAPIRestWebsocketHandler(
	eventHub hub.EventHub, baseContext context.Context, httpConfig *common.HTTPConfig,
) (APIRestWebsocketHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "websocket",
	}
	return APIRestWebsocketHandler{
		APIRestHandler: APIRestHandler{
			Component:       common.Component{LogTags: logTags},
			requestIDHeader: httpConfig.Logging.RequestIDHeader,
		},
		hub:         eventHub,
		baseContext: baseContext,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin screening happens at the fronting proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// wsSink Sink adapter over a WebSocket connection. The hub's writer pump
// is the only caller of Write; the lock keeps Close from racing it.
type wsSink struct {
	lock sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Write(frame hub.Frame) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(&frame)
}

func (s *wsSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		deadline,
	)
	return s.conn.Close()
}

// wsInboundMessage control message from a duplex client
type wsInboundMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
}

// Connect upgrade to WebSocket and run the duplex session. Outbound frames
// flow through the hub's writer pump; this goroutine owns the read side.
func (h APIRestWebsocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.LogTags

	channels := parseChannelsQuery(r)
	if _, err := hub.ParseChannels(channels); err != nil {
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
			"GET /v1/ws",
		)
		return
	}
	identity := identityFromRequest(r)

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("WebSocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	sink := &wsSink{conn: wsConn}
	done, err := h.hub.Register(connID, sink, channels, identity)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("WebSocket registration failed")
		_ = sink.Close()
		return
	}
	log.WithFields(localLogTags).Infof("Duplex session %s open", connID)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(connID, wsConn)
	}()

	select {
	case <-readDone:
		_ = h.hub.Deregister(connID)
	case <-done:
		// Hub-side teardown closed the sink, which unblocks the read loop
		<-readDone
	}
	log.WithFields(localLogTags).Infof("Duplex session %s closed", connID)
}

// readLoop consume inbound control messages until the connection drops
func (h APIRestWebsocketHandler) readLoop(connID string, wsConn *websocket.Conn) {
	for {
		var msg wsInboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(h.LogTags).Debugf(
					"Read failure on duplex session %s", connID,
				)
			}
			return
		}
		if err := h.hub.AllowInbound(connID); err != nil {
			_ = h.hub.Notify(connID, hub.NewErrorFrame(
				http.StatusTooManyRequests, err.Error(), time.Now(),
			))
			continue
		}
		h.handleInbound(connID, msg)
	}
}

// handleInbound act on one inbound control message. Failures are reported
// back as error frames; they never terminate the session.
func (h APIRestWebsocketHandler) handleInbound(connID string, msg wsInboundMessage) {
	switch msg.Action {
	case "subscribe":
		if err := h.hub.Subscribe(connID, msg.Channels); err != nil {
			_ = h.hub.Notify(connID, hub.NewErrorFrame(
				http.StatusBadRequest, err.Error(), time.Now(),
			))
		}
	case "unsubscribe":
		if err := h.hub.Unsubscribe(connID, msg.Channels); err != nil {
			_ = h.hub.Notify(connID, hub.NewErrorFrame(
				http.StatusBadRequest, err.Error(), time.Now(),
			))
		}
	case "ping":
		_ = h.hub.Notify(connID, hub.NewPongFrame(time.Now()))
	default:
		_ = h.hub.Notify(connID, hub.NewErrorFrame(
			http.StatusBadRequest, "unknown action", time.Now(),
		))
	}
}

// ConnectHandler Wrapper around Connect
func (h APIRestWebsocketHandler) ConnectHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.Connect(w, r)
	})
}
