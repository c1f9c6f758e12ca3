// Package app wires the record store, workflow client, extraction pipeline and sweep
// from configuration, for use by the binaries.
package app

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/cost"
	"github.com/joseph-ayodele/docflow/internal/events"
	"github.com/joseph-ayodele/docflow/internal/export"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/llm/openai"
	"github.com/joseph-ayodele/docflow/internal/reconcile"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/server"
	"github.com/joseph-ayodele/docflow/internal/workflow"
)

// App holds the wired components. Close releases the store and the publisher.
type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	Store     *repository.SQLStore
	Workflow  *workflow.Client
	Processor *core.Processor
	Sweeper   *reconcile.Sweeper
	Publisher events.Publisher
	Export    *export.Service
}

// New opens the store and builds every component from cfg.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	store, err := server.ConnectDB(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := events.NewPublisher(cfg.Events, logger)
	if err != nil {
		logger.Warn("events.publisher.fallback", "error", err)
		publisher = events.NewLogPublisher(logger)
	}

	wf := workflow.NewClient(workflow.ConfigFrom(cfg.Workflow, cfg.Retry), logger)
	poller := workflow.NewPoller(wf, workflow.PollerConfigFrom(cfg.Workflow), logger)

	var vision extract.VisionTranscriber
	if cfg.LLM.APIKey != "" {
		chat := openai.NewClient(openai.ConfigFrom(cfg.LLM, cfg.Retry), logger)
		vision = llm.NewVisionFallback(chat, llm.VisionConfigFrom(cfg.LLM), logger)
	} else {
		logger.Warn("vision fallback disabled: OPENAI_API_KEY is not set")
	}
	pipeline := extract.NewPipeline(extract.ThresholdsFrom(cfg.Extraction), vision, logger)
	materializer := core.NewMaterializer(pipeline, cost.NewEstimator(cfg.Pricing), logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Workflow:  wf,
		Processor: core.NewProcessor(logger, store, wf, poller, materializer, publisher),
		Sweeper:   reconcile.NewSweeper(wf, store, materializer, publisher, reconcile.OptionsFrom(cfg.Sweep), logger),
		Publisher: publisher,
		Export:    export.NewService(store, logger),
	}, nil
}

func (a *App) Close() {
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn("events.publisher.close_failed", "error", err)
	}
	server.CloseDB(a.Store, a.Logger)
}
