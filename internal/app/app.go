// Package app wires configuration into the running chat pipeline shared by
// the API server and the terminal client.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/config"
	"github.com/healthchat/healthchat/internal/nl2sql"
	"github.com/healthchat/healthchat/internal/query/duckdb"
	"github.com/healthchat/healthchat/internal/retry"
	"github.com/healthchat/healthchat/internal/storage"
	"github.com/healthchat/healthchat/internal/storage/local"
	s3store "github.com/healthchat/healthchat/internal/storage/s3"
	"github.com/healthchat/healthchat/internal/store"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     *store.Bootstrapper
	Engine    *duckdb.Engine
	Pipeline  *chat.Pipeline
	ModelName string

	// BootstrapErr is set when the store could not be built at startup. The
	// app still runs; queries fail until Store.Recreate succeeds.
	BootstrapErr error
}

// OpenStore resolves the source and export object stores and returns a
// bootstrapper for the configured store file. It does not build the store.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Bootstrapper, error) {
	var remote storage.ObjectStore
	if strings.TrimSpace(cfg.ObjectStore.Endpoint) != "" {
		s3, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		remote = s3
	}

	disk := local.New("")
	sources := storage.ObjectStore(disk)
	if cfg.Store.SourceFromObjectStore {
		if remote == nil {
			return nil, fmt.Errorf("HEALTHCHAT_STORE_SOURCE_FROM_OBJECTSTORE requires HEALTHCHAT_OBJECTSTORE_ENDPOINT")
		}
		sources = remote
	}
	exports := storage.ObjectStore(disk)
	if remote != nil {
		exports = remote
	}

	return &store.Bootstrapper{
		StorePath: cfg.Store.Path,
		Source:    cfg.Store.Source,
		Format:    store.Format(cfg.Store.SourceFormat),
		Objects:   sources,
		Exports:   exports,
		Guard:     &sync.RWMutex{},
		Logger:    logger,
	}, nil
}

// New builds the store when missing and assembles the pipeline around it.
// A failed bootstrap is reported in App.BootstrapErr, not returned.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	bootstrapper, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var bootstrapErr error
	if _, err := bootstrapper.Ensure(ctx); err != nil {
		bootstrapErr = fmt.Errorf("bootstrap store: %w", err)
		if logger != nil {
			logger.Error("store bootstrap failed; queries fail until the store is recreated",
				slog.String("store", cfg.Store.Path),
				slog.String("source", cfg.Store.Source),
				slog.Any("error", err),
			)
		}
	}

	model, err := nl2sql.NewModel(nl2sql.ModelConfig{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}
	translator, err := nl2sql.NewTranslator(model,
		nl2sql.WithLogger(logger),
		nl2sql.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize translator: %w", err)
	}

	engine := duckdb.NewEngine(cfg.Store.Path, bootstrapper.Guard)
	pipeline, err := chat.NewPipeline(translator, engine,
		chat.WithCooldown(cfg.Cooldown.Duration),
		chat.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        bootstrapper,
		Engine:       engine,
		Pipeline:     pipeline,
		ModelName:    model.Name(),
		BootstrapErr: bootstrapErr,
	}, nil
}
