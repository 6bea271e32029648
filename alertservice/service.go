// Package alertservice assembles the inspection alert service: the streaming
// fan-out pipeline plus the HTTP surface for device registration and
// transport-push ingestion.
package alertservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-inspection-alerts/alertservice/config"
	"github.com/tinywideclouds/go-inspection-alerts/internal/api"
	"github.com/tinywideclouds/go-inspection-alerts/internal/ingest"
	"github.com/tinywideclouds/go-inspection-alerts/internal/pipeline"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[alert.NotificationEvent]
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatcher dispatch.Dispatcher,
	registry dispatch.DeviceRegistry,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Content policy
	policy := ingest.DefaultContentPolicy()
	if len(cfg.Alerts.VisibleKeywords) > 0 {
		policy = ingest.ContentPolicy{VisibleKeywords: cfg.Alerts.VisibleKeywords}
	}

	// 3. Pipeline (pull-mode consumer path)
	processor := pipeline.NewProcessor(dispatcher, registry, policy, logger)

	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.EventTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	deviceAPI := api.NewDeviceAPI(registry, logger)
	ingestAPI := api.NewIngestAPI(registry, dispatcher, policy, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}

	// 1. Device registry surface (called by the mobile app)
	handle("POST /api/v1/devices/register", deviceAPI.RegisterDevice)
	handle("GET /api/v1/devices", deviceAPI.ListDevices)

	// 2. Transport push ingestion (called by the messaging transport; the
	// pull consumer covers the same events when push is not configured)
	mux.Handle("POST /pubsub/push", http.HandlerFunc(ingestAPI.HandlePush))

	// 3. Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
