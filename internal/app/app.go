// Package app builds and owns the long-lived services shared by the CLI
// commands: logger, artifact blob store, notification publisher, raw capture
// log and catalog store.
package app

import (
	"context"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/config"
	"github.com/JakeFAU/missilery-catalog/internal/logging"
	memorypublisher "github.com/JakeFAU/missilery-catalog/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/missilery-catalog/internal/publisher/pubsub"
	"github.com/JakeFAU/missilery-catalog/internal/storage"
	gcsstorage "github.com/JakeFAU/missilery-catalog/internal/storage/gcs"
	localstorage "github.com/JakeFAU/missilery-catalog/internal/storage/local"
	"github.com/JakeFAU/missilery-catalog/internal/storage/memory"
	pgstore "github.com/JakeFAU/missilery-catalog/internal/storage/postgres"
	"github.com/JakeFAU/missilery-catalog/internal/storage/sqlite"
)

// MemoryTarget selects the in-process catalog store instead of Postgres.
const MemoryTarget = "memory"

// Publisher is a crawl/import notification sink that must be closed.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	blobs        storage.BlobStore
	publisher    Publisher
	gcsClient    *gcstorage.Client
	pubsubClient *pubsub.Client
	closers      []func()
}

// Build creates the shared services from cfg. Stores that need a network
// round trip are opened on demand by the commands that use them.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		FilePath:    cfg.Logging.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}
	if err := a.setupStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// New assembles an App from prebuilt parts.
func New(cfg config.Config, logger *zap.Logger, blobs storage.BlobStore, publisher Publisher) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = memorypublisher.New()
	}
	return &App{cfg: cfg, logger: logger, blobs: blobs, publisher: publisher}
}

func (a *App) setupStorage(ctx context.Context) error {
	if a.cfg.Artifacts.GCSBucket != "" {
		var err error
		a.gcsClient, err = gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Artifacts.GCSBucket,
			Prefix: a.cfg.Artifacts.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS artifact store",
			zap.String("bucket", a.cfg.Artifacts.GCSBucket),
			zap.String("prefix", a.cfg.Artifacts.Prefix),
		)
		return nil
	}
	blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Artifacts.Dir})
	if err != nil {
		return fmt.Errorf("local blob store init failed: %w", err)
	}
	a.blobs = blobs
	a.logger.Info("using local artifact store", zap.String("dir", a.cfg.Artifacts.Dir))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Blobs returns the artifact blob store.
func (a *App) Blobs() storage.BlobStore { return a.blobs }

// Publisher returns the notification publisher.
func (a *App) Publisher() Publisher { return a.publisher }

// OpenRawStore opens the SQLite raw capture log; the App closes it.
func (a *App) OpenRawStore(ctx context.Context) (*sqlite.RawStore, error) {
	raw, err := sqlite.Open(ctx, a.cfg.Raw.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open raw store %s: %w", a.cfg.Raw.SQLitePath, err)
	}
	a.closers = append(a.closers, func() {
		if err := raw.Close(); err != nil {
			a.logger.Warn("raw store close failed", zap.Error(err))
		}
	})
	a.logger.Info("raw capture log opened", zap.String("path", a.cfg.Raw.SQLitePath))
	return raw, nil
}

// OpenCatalog connects to the catalog store named by target, falling back
// to the configured DSN when target is empty. Postgres schemas are migrated
// before use. The App closes the store.
func (a *App) OpenCatalog(ctx context.Context, target string) (catalog.Store, error) {
	if target == "" {
		target = a.cfg.DB.DSN
	}
	switch strings.TrimSpace(target) {
	case "":
		return nil, fmt.Errorf("%w: no database configured (set db.dsn or --db)", catalog.ErrStoreUnavailable)
	case MemoryTarget:
		a.logger.Warn("using in-memory catalog store; data is discarded on exit")
		return memory.NewCatalogStore(), nil
	}

	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:      target,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: migrate: %v", catalog.ErrStoreUnavailable, err)
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("catalog store ready", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return store, nil
}

// Close releases every service in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	// Sync fails on non-file sinks like stderr; nothing useful to do about it.
	_ = a.logger.Sync()
}
