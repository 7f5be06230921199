package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alin9661/govhub/apis"
	"github.com/alin9661/govhub/bridge"
	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/core"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunHubServer run the event hub API server
func RunHubServer(
	config common.ServeConfig,
	subjectPrefix string,
	instance string,
	natsClient core.NatsClient,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "serve",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid serve config")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	eventHub, err := hub.GetEventHub(config.Hub, localCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event hub")
		return err
	}
	if err := eventHub.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start event hub")
		return err
	}

	ingress, err := bridge.GetHubIngress(natsClient, eventHub, subjectPrefix, localCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define hub ingress")
		return err
	}
	if err := ingress.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start hub ingress")
		return err
	}

	notifier, err := hub.GetEventNotifier(eventHub)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event notifier")
		return err
	}

	// -------------------------------------------------------------------
	// Define the HTTP handlers

	httpConfig := &config.HTTPSetting
	streamHandler, err := apis.GetAPIRestEventStreamHandler(eventHub, localCtxt, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stream handler")
		return err
	}
	wsHandler, err := apis.GetAPIRestWebsocketHandler(eventHub, localCtxt, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define websocket handler")
		return err
	}
	queryHandler, err := apis.GetAPIRestQueryHandler(eventHub, natsClient.Ready, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define query handler")
		return err
	}
	emitHandler, err := apis.GetAPIRestEmitHandler(notifier, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define emit handler")
		return err
	}
	emitLimiter, err := apis.GetRequestRateLimiter(httpConfig.EmitRateLimit, localCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define request rate limiter")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, httpConfig.PathPrefix, nil)

	// Transports
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/stream", map[string]http.HandlerFunc{
		"get": streamHandler.StreamHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/ws", map[string]http.HandlerFunc{
		"get": wsHandler.ConnectHandler(),
	})

	// Polling fallback and hub counters
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/events", map[string]http.HandlerFunc{
		"get": queryHandler.GetEventsHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/metrics", map[string]http.HandlerFunc{
		"get": queryHandler.GetMetricsHandler(),
	})

	// Event emission for the platform's CRUD services
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/emit/deposit", map[string]http.HandlerFunc{
		"post": emitLimiter.Middleware(emitHandler.EmitDepositHandler()),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/emit/proposal", map[string]http.HandlerFunc{
		"post": emitLimiter.Middleware(emitHandler.EmitProposalHandler()),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/emit/vote", map[string]http.HandlerFunc{
		"post": emitLimiter.Middleware(emitHandler.EmitVoteHandler()),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/emit/approval", map[string]http.HandlerFunc{
		"post": emitLimiter.Middleware(emitHandler.EmitApprovalHandler()),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/emit/election", map[string]http.HandlerFunc{
		"post": emitLimiter.Middleware(emitHandler.EmitElectionHandler()),
	})

	// Prometheus scrape target
	_ = apis.RegisterPathPrefix(mainRouter, "/metrics", map[string]http.HandlerFunc{
		"get": promhttp.HandlerFor(
			hub.PrometheusRegistry, promhttp.HandlerOpts{},
		).ServeHTTP,
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": queryHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": queryHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(queryHandler, next)
	})

	serverListen := fmt.Sprintf("%s:%d", httpConfig.Server.ListenOn, httpConfig.Server.Port)
	httpSrv := &http.Server{
		Addr:        serverListen,
		ReadTimeout: time.Second * time.Duration(httpConfig.Server.ReadTimeout),
		// Event streams stay open indefinitely
		WriteTimeout: time.Second * time.Duration(httpConfig.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(httpConfig.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop taking new connections, then drain the hub
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		ingress.Stop()
		if err := eventHub.Shutdown(); err != nil {
			log.WithError(err).Error("Failure during event hub shutdown")
		}
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
