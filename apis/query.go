package apis

import (
	"net/http"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
)

// APIRestQueryHandler REST handler for the polling fallback, metrics, and
// health checks
type APIRestQueryHandler struct {
	APIRestHandler
	hub   hub.EventHub
	ready func() error
}

// GetAPIRestQueryHandler define APIRestQueryHandler. readyCheck reports
// whether upstream attachments (the event ingress) are healthy.
func GetAPIRestQueryHandler(
	eventHub hub.EventHub, readyCheck func() error, httpConfig *common.HTTPConfig,
) (APIRestQueryHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "query",
	}
	return APIRestQueryHandler{
		APIRestHandler: APIRestHandler{
			Component:       common.Component{LogTags: logTags},
			requestIDHeader: httpConfig.Logging.RequestIDHeader,
		},
		hub:   eventHub,
		ready: readyCheck,
	}, nil
}

// APIRestRespEvents response for polling recent events
type APIRestRespEvents struct {
	StandardResponse
	// Events buffered emissions newer than the requested timestamp, in
	// emission order
	Events []hub.StoredEvent `json:"events"`
}

// GetEvents query buffered events newer than the since timestamp on the
// requested channels. Omitting since returns the full retention window.
func (h APIRestQueryHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	restCall := "GET /v1/events"

	channels := parseChannelsQuery(r)
	since, err := parseSinceQuery(r)
	if err != nil {
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
			restCall,
		)
		return
	}

	events, err := h.hub.RecentEvents(channels, since)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Event query failed")
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
			restCall,
		)
		return
	}
	if events == nil {
		events = []hub.StoredEvent{}
	}

	h.reply(w, http.StatusOK, APIRestRespEvents{
		StandardResponse: h.getStdRESTSuccessMsg(r.Context()),
		Events:           events,
	}, restCall)
}

// GetEventsHandler Wrapper around GetEvents
func (h APIRestQueryHandler) GetEventsHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.GetEvents(w, r)
	})
}

// -----------------------------------------------------------------------

// APIRestRespMetrics response for the hub metrics snapshot
type APIRestRespMetrics struct {
	StandardResponse
	// Metrics the point-in-time counter snapshot
	Metrics hub.MetricsSnapshot `json:"metrics"`
}

// GetMetrics query the hub's aggregate counters
func (h APIRestQueryHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.reply(w, http.StatusOK, APIRestRespMetrics{
		StandardResponse: h.getStdRESTSuccessMsg(r.Context()),
		Metrics:          h.hub.Metrics(),
	}, "GET /v1/metrics")
}

// GetMetricsHandler Wrapper around GetMetrics
func (h APIRestQueryHandler) GetMetricsHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.GetMetrics(w, r)
	})
}

// =======================================================================
// Health Checks

// Alive liveness check
func (h APIRestQueryHandler) Alive(w http.ResponseWriter, r *http.Request) {
	h.reply(w, http.StatusOK, h.getStdRESTSuccessMsg(r.Context()), "GET /alive")
}

// AliveHandler Wrapper around Alive
func (h APIRestQueryHandler) AliveHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	})
}

// Ready readiness check
func (h APIRestQueryHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Readiness check failed")
		h.reply(
			w, http.StatusInternalServerError,
			h.getStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, err.Error()),
			"GET /ready",
		)
		return
	}
	h.reply(w, http.StatusOK, h.getStdRESTSuccessMsg(r.Context()), "GET /ready")
}

// ReadyHandler Wrapper around Ready
func (h APIRestQueryHandler) ReadyHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	})
}
