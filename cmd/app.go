package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/config"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/export"
	"github.com/sangwookny/wagner/internal/gemini"
	"github.com/sangwookny/wagner/internal/handlers"
	"github.com/sangwookny/wagner/internal/images"
	"github.com/sangwookny/wagner/internal/ocr"
	"github.com/sangwookny/wagner/internal/ollama"
	"github.com/sangwookny/wagner/internal/openai"
	"github.com/sangwookny/wagner/internal/pages"
	"github.com/sangwookny/wagner/internal/providers"
	"github.com/sangwookny/wagner/internal/registry"
	"github.com/sangwookny/wagner/internal/storage"
	"github.com/sangwookny/wagner/internal/storage/sqlstore"
	"github.com/sangwookny/wagner/internal/translation"
)

// app is the wired set of components behind every command.
type app struct {
	config   *config.Config
	store    storage.Store
	images   *images.Store
	manager  *pages.Manager
	ingestor *pages.Ingestor
	registry *registry.Registry
	exporter *export.Exporter
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	imageStore, err := images.NewStore(cfg.Images.Dir)
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	splitter, err := alignment.NewSplitter()
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}

	set := providers.Set{
		"ollama": ollama.New(cfg.Providers.OllamaURL),
		"openai": openai.New(cfg.Providers.OpenAIAPIKey),
		"gemini": gemini.New(cfg.Providers.GeminiAPIKey),
	}
	recognizer := ocr.NewService(set, cfg.OCR.Provider, cfg.OCR.Model)
	translator := translation.NewService(set, cfg.Translation.Provider, cfg.Translation.Model, splitter)
	resolver := continuation.NewResolver(translator, splitter)

	manager := pages.NewManager(store, translator, imageStore, splitter)
	return &app{
		config:   cfg,
		store:    store,
		images:   imageStore,
		manager:  manager,
		ingestor: pages.NewIngestor(manager, recognizer, resolver, pages.NewPendingStore(pages.PendingTTL)),
		registry: registry.New(store, manager, imageStore),
		exporter: export.New(splitter, "/api/uploads/"),
	}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("Using in-memory storage, nothing will be persisted")
		return storage.NewMemory(), nil
	case config.DriverSQLite, config.DriverPostgres:
		driver := sqlstore.SQLite
		if cfg.Driver == config.DriverPostgres {
			driver = sqlstore.Postgres
		}
		s, err := sqlstore.Open(ctx, driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("Opened database", "driver", cfg.Driver)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

func (a *app) handler() *handlers.Handler {
	return handlers.New(a.registry, a.manager, a.ingestor, a.images, a.exporter)
}

func (a *app) Close() error {
	return a.store.Close()
}
