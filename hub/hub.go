package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// EventHub transport-agnostic real-time event distribution core. One
// instance per process, constructed at start and passed by reference to
// every consumer; lifecycle is New -> Start -> Shutdown.
type EventHub interface {
	// Start begin background operation (history sweep)
	Start() error
	// Shutdown notify every connection, close every sink, clear all
	// state, and stop background tasks. Idempotent.
	Shutdown() error
	// Register store a new connection subscribed to the given channels.
	// The returned channel closes when the connection is deregistered by
	// any path, so transport adapters can block until teardown.
	Register(id string, sink Sink, channels []string, identity Identity) (<-chan struct{}, error)
	// Deregister remove a connection. Idempotent; removing an unknown or
	// already-removed id is a no-op.
	Deregister(id string) error
	// Subscribe extend a connection's channel set. All-or-nothing.
	Subscribe(id string, channels []string) error
	// Unsubscribe shrink a connection's channel set. All-or-nothing.
	Unsubscribe(id string, channels []string) error
	// Emit record the event and fan it out to the channel's current
	// subscribers. Never fails for delivery reasons; per-connection
	// failures are contained.
	Emit(event Event) error
	// Notify deliver one frame to a single connection (pong, error
	// feedback). Goes through the connection's delivery queue so sink
	// ownership stays with the writer pump.
	Notify(id string, frame Frame) error
	// AllowInbound check a duplex connection's inbound control message
	// against its rolling window allowance. Returns ErrRateLimited once
	// the allowance is exhausted; the connection stays open.
	AllowInbound(id string) error
	// RecentEvents poll fallback against the in-memory history buffer.
	// Returns events with timestamp strictly greater than since; when
	// since is nil the retention window is used.
	RecentEvents(channels []string, since *time.Time) ([]StoredEvent, error)
	// Metrics consistent point-in-time snapshot of the aggregate counters
	Metrics() MetricsSnapshot
}

// eventHubImpl implements EventHub
type eventHubImpl struct {
	common.Component
	config           common.HubConfig
	rootContext      context.Context
	operationContext context.Context
	contextCancel    context.CancelFunc
	wg               *sync.WaitGroup
	lock             sync.Mutex
	running          bool
	stopped          bool
	registry         *connectionRegistry
	history          *eventHistory
	limiter          *inboundRateLimiter
	metrics          *metricsAggregator
	sweepTimer       common.IntervalTimer
	// connWG tracks writer pumps and keepalive timers so Shutdown can
	// wait for every sink to be released
	connWG sync.WaitGroup
}

// GetEventHub define a new event hub
func GetEventHub(
	config common.HubConfig, rootCtxt context.Context, wg *sync.WaitGroup,
) (EventHub, error) {
	logTags := log.Fields{
		"module": "hub", "component": "event-hub",
	}
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid event hub config")
		return nil, err
	}
	return &eventHubImpl{
		Component:   common.Component{LogTags: logTags},
		config:      config,
		rootContext: rootCtxt,
		wg:          wg,
		registry:    newConnectionRegistry(),
		history: newEventHistory(
			config.History.MaxEntries,
			time.Second*time.Duration(config.History.RetentionWindow),
		),
		limiter: newInboundRateLimiter(
			config.InboundRateLimit.MaxMessages,
			time.Second*time.Duration(config.InboundRateLimit.Window),
		),
		metrics: newMetricsAggregator(),
	}, nil
}

// isRunning lifecycle check
func (h *eventHubImpl) isRunning() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.running
}

// Start begin background operation
func (h *eventHubImpl) Start() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.running {
		return fmt.Errorf("event hub already started")
	}
	if h.stopped {
		return fmt.Errorf("event hub already shut down")
	}
	ctxt, cancel := context.WithCancel(h.rootContext)
	h.operationContext = ctxt
	h.contextCancel = cancel
	sweepTimer, err := common.GetIntervalTimerInstance("history-sweep", ctxt, h.wg)
	if err != nil {
		cancel()
		return err
	}
	h.sweepTimer = sweepTimer
	sweepInterval := time.Second * time.Duration(h.config.History.SweepInterval)
	if err := sweepTimer.Start(sweepInterval, func() error {
		h.history.sweep(time.Now())
		return nil
	}, false); err != nil {
		cancel()
		return err
	}
	h.running = true
	log.WithFields(h.LogTags).Info("Event hub started")
	return nil
}

// Register store a new connection
func (h *eventHubImpl) Register(
	id string, sink Sink, channelNames []string, identity Identity,
) (<-chan struct{}, error) {
	if !h.isRunning() {
		return nil, common.ErrNotRunning
	}
	// Validate before mutating anything
	channels, err := ParseChannels(channelNames)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf("Rejected registration of %s", id)
		return nil, err
	}
	if identity.Principal == "" {
		identity = AnonymousIdentity()
	}
	channelSet := make(map[Channel]bool, len(channels))
	for _, channel := range channels {
		channelSet[channel] = true
	}
	ctxt, cancel := context.WithCancel(h.operationContext)
	conn := &connection{
		id:          id,
		channels:    channelSet,
		identity:    identity,
		sink:        sink,
		connectedAt: time.Now(),
		sendQueue:   make(chan Frame, h.config.SendQueueLen),
		ctxt:        ctxt,
		cancel:      cancel,
	}
	if err := h.registry.add(conn, h.config.MaxConnections); err != nil {
		cancel()
		log.WithError(err).WithFields(h.LogTags).Errorf("Unable to register %s", id)
		return nil, err
	}
	h.metrics.connectionOpened()
	h.startWriterPump(conn)
	if err := h.startKeepalive(conn); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf("Keepalive setup failed for %s", id)
		_ = h.Deregister(id)
		return nil, err
	}
	h.enqueue(conn, newConnectedFrame(id, channels, identity, time.Now()))
	log.WithFields(h.LogTags).Infof(
		"Registered connection %s for %s on %d channels", id, identity.Principal, len(channels),
	)
	return ctxt.Done(), nil
}

// Deregister remove a connection. Safe to call from any teardown path and
// under concurrent callers; the second caller observes a no-op.
func (h *eventHubImpl) Deregister(id string) error {
	conn, ok := h.registry.remove(id)
	if !ok {
		return nil
	}
	h.limiter.reset(id)
	h.metrics.connectionClosed()
	// Cancelling the connection context stops the writer pump (which
	// drains the queue and closes the sink) and the keepalive timer
	conn.cancel()
	log.WithFields(h.LogTags).Infof("Deregistered connection %s", id)
	return nil
}

// Subscribe extend a connection's channel set
func (h *eventHubImpl) Subscribe(id string, channelNames []string) error {
	if !h.isRunning() {
		return common.ErrNotRunning
	}
	channels, err := ParseChannels(channelNames)
	if err != nil {
		return err
	}
	return h.registry.subscribe(id, channels)
}

// Unsubscribe shrink a connection's channel set
func (h *eventHubImpl) Unsubscribe(id string, channelNames []string) error {
	if !h.isRunning() {
		return common.ErrNotRunning
	}
	channels, err := ParseChannels(channelNames)
	if err != nil {
		return err
	}
	return h.registry.unsubscribe(id, channels)
}

// Emit record the event and fan it out
func (h *eventHubImpl) Emit(event Event) error {
	if !h.isRunning() {
		return common.ErrNotRunning
	}
	payload, err := event.MarshalPayload()
	if err != nil {
		// Delivery failures never surface to the emitter
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Unable to serialize %s event payload", event.Name(),
		)
		return nil
	}
	now := time.Now()
	// Record first so polling clients see the event regardless of the
	// current subscriber count
	stored := h.history.record(event.Name(), event.Channel(), payload, now)
	frame := Frame{
		Event:     stored.Event,
		Channel:   stored.Channel,
		Payload:   stored.Payload,
		Timestamp: stored.Timestamp,
	}
	for _, conn := range h.registry.snapshot(event.Channel()) {
		h.enqueue(conn, frame)
	}
	h.metrics.eventEmitted(event.Channel())
	return nil
}

// Notify deliver one frame to a single connection
func (h *eventHubImpl) Notify(id string, frame Frame) error {
	conn, ok := h.registry.get(id)
	if !ok {
		return common.ErrUnknownConnection
	}
	h.enqueue(conn, frame)
	return nil
}

// AllowInbound rolling window check for duplex inbound control messages
func (h *eventHubImpl) AllowInbound(id string) error {
	if !h.limiter.allow(id, time.Now()) {
		return common.ErrRateLimited
	}
	return nil
}

// RecentEvents poll fallback against the history buffer
func (h *eventHubImpl) RecentEvents(
	channelNames []string, since *time.Time,
) ([]StoredEvent, error) {
	channels, err := ParseChannels(channelNames)
	if err != nil {
		return nil, err
	}
	// No filter means every channel
	if len(channels) == 0 {
		channels = AllChannels()
	}
	cutoff := time.Now().Add(-time.Second * time.Duration(h.config.History.RetentionWindow))
	if since != nil {
		cutoff = *since
	}
	return h.history.query(channels, cutoff), nil
}

// Metrics snapshot of the aggregate counters. Readable after shutdown so
// operators can observe the drained state.
func (h *eventHubImpl) Metrics() MetricsSnapshot {
	return h.metrics.snapshot(h.registry.subscriberCounts())
}

// Shutdown drain the connection registry and stop background tasks
func (h *eventHubImpl) Shutdown() error {
	h.lock.Lock()
	if h.stopped || !h.running {
		h.lock.Unlock()
		return nil
	}
	h.running = false
	h.stopped = true
	h.lock.Unlock()

	log.WithFields(h.LogTags).Info("Event hub shutting down")
	conns := h.registry.all()
	notice := newSystemFrame("server shutting down", time.Now())
	// Best-effort notice through each connection's normal delivery queue;
	// the pump flushes queued frames before closing the sink
	for _, conn := range conns {
		h.enqueue(conn, notice)
	}
	for _, conn := range conns {
		_ = h.Deregister(conn.id)
	}
	if h.sweepTimer != nil {
		_ = h.sweepTimer.Stop()
	}
	if h.contextCancel != nil {
		h.contextCancel()
	}
	h.connWG.Wait()
	log.WithFields(h.LogTags).Info("Event hub shutdown complete")
	return nil
}

// ==============================================================================
// Per-connection background tasks

// enqueue non-blocking hand-off to a connection's delivery queue. One
// slow or broken connection never stalls fan-out to the others; on a full
// queue the frame is dropped for that connection only.
func (h *eventHubImpl) enqueue(conn *connection, frame Frame) bool {
	select {
	case conn.sendQueue <- frame:
		return true
	default:
		h.metrics.frameDropped()
		log.WithFields(h.LogTags).Debugf("Dropped %s for connection %s", frame.String(), conn.id)
		return false
	}
}

// startWriterPump the single writer for a connection's sink. A write
// failure deregisters only this connection; the sink is closed exactly
// once, here, when the pump exits.
func (h *eventHubImpl) startWriterPump(conn *connection) {
	h.connWG.Add(1)
	go func() {
		defer h.connWG.Done()
		defer func() {
			if err := conn.sink.Close(); err != nil {
				log.WithError(err).WithFields(h.LogTags).Debugf(
					"Sink close failed for connection %s", conn.id,
				)
			}
		}()
		for {
			select {
			case <-conn.ctxt.Done():
				// Flush whatever is already queued (e.g. the shutdown
				// notice) before releasing the sink
				for {
					select {
					case frame := <-conn.sendQueue:
						if err := conn.sink.Write(frame); err != nil {
							return
						}
					default:
						return
					}
				}
			case frame := <-conn.sendQueue:
				if err := conn.sink.Write(frame); err != nil {
					werr := common.TransportWriteError{ConnectionID: conn.id, Cause: err}
					log.WithError(werr).WithFields(h.LogTags).Warn("Dropping broken connection")
					_ = h.Deregister(conn.id)
					return
				}
			}
		}
	}()
}

// startKeepalive schedule the per-connection liveness probe. The timer
// hangs off the connection context, so it is cancelled exactly once no
// matter which path deregisters the connection.
func (h *eventHubImpl) startKeepalive(conn *connection) error {
	timer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("keepalive/%s", conn.id), conn.ctxt, &h.connWG,
	)
	if err != nil {
		return err
	}
	interval := time.Second * time.Duration(h.config.KeepaliveInterval)
	return timer.Start(interval, func() error {
		// Guard against a probe racing a removal elsewhere
		if _, ok := h.registry.get(conn.id); !ok {
			return nil
		}
		h.enqueue(conn, newPingFrame(time.Now()))
		return nil
	}, false)
}
