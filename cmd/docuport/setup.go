package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackzampolin/docuport/internal/checkpoint"
	"github.com/jackzampolin/docuport/internal/config"
	"github.com/jackzampolin/docuport/internal/document"
	"github.com/jackzampolin/docuport/internal/gateway"
	"github.com/jackzampolin/docuport/internal/home"
	"github.com/jackzampolin/docuport/internal/ingest"
	"github.com/jackzampolin/docuport/internal/pipeline"
	"github.com/jackzampolin/docuport/internal/queue"
	"github.com/jackzampolin/docuport/internal/router"
	"github.com/jackzampolin/docuport/internal/schema"
	"github.com/jackzampolin/docuport/internal/vision"
)

// runtime bundles everything a command needs to touch the pipeline.
type runtime struct {
	home    *home.Dir
	cfg     *config.Config
	logger  *slog.Logger
	store   *document.Store
	queue   *queue.Queue
	schemas *schema.Registry
}

// newRuntime loads configuration and assembles the shared components.
func newRuntime() (*runtime, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	cm, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	cfg := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	if cfg.OutputDir != "" {
		if h, err = home.New(cfg.OutputDir); err != nil {
			return nil, err
		}
		if err := h.EnsureExists(); err != nil {
			return nil, err
		}
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load section schemas: %w", err)
	}

	store := document.NewStore(h, logger)
	q := queue.New(h.ValidationQueueDir(), store, logger)

	return &runtime{
		home:    h,
		cfg:     cfg,
		logger:  logger,
		store:   store,
		queue:   q,
		schemas: schemas,
	}, nil
}

// newRunner builds a pipeline runner on top of the runtime. checkpoints may
// be nil for single-document runs.
func (rt *runtime) newRunner(checkpoints *checkpoint.Store) *pipeline.Runner {
	client := rt.visionClient()
	gw := gateway.New(client, gateway.Config{
		MaxAttempts: rt.cfg.Retry.MaxAttempts,
		BaseDelay:   rt.cfg.Retry.BaseDelay,
		MaxDelay:    rt.cfg.Retry.MaxDelay,
		Timeout:     rt.cfg.Retry.RequestTimeout,
		Logger:      rt.logger,
	})

	pcfg := pipeline.Config{
		Gateway:     gw,
		Rasterizer:  ingest.NewPDFRasterizer(0, rt.logger),
		Schemas:     rt.schemas,
		Store:       rt.store,
		Queue:       rt.queue,
		Checkpoints: checkpoints,
		Routing: router.Config{
			Threshold:      rt.cfg.Routing.ConfidenceThreshold,
			LowThreshold:   rt.cfg.Routing.LowConfidenceThreshold,
			FailureCeiling: rt.cfg.Routing.FailureCeiling,
		},
		SectionWorkers:     rt.cfg.Workers.Sections,
		FallbackChunkPages: rt.cfg.Fallback.ChunkPages,
		Logger:             rt.logger,
	}
	return pipeline.NewRunner(pcfg)
}

// visionClient builds the configured vision backend.
func (rt *runtime) visionClient() vision.Client {
	switch rt.cfg.Vision.Provider {
	case "mock":
		return vision.NewMockClient()
	default:
		return vision.NewOpenAIClient(vision.OpenAIConfig{
			APIKey: config.ResolveEnvVars(rt.cfg.Vision.APIKey),
			Model:  rt.cfg.Vision.Model,
		})
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
