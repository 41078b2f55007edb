// Package app wires together the orchestrator's components in dependency
// order: leaves first (Work-Item Pool, object store, cache), then the
// components that depend on them (Dispatcher, Progress Engine, Lease
// Reaper), then the Workflow Planner, matching spec.md §1's stated
// dependency order.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/cache"
	"github.com/ternarybob/quaero/internal/catalog"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/dispatcher"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/objectstore"
	"github.com/ternarybob/quaero/internal/planner"
	"github.com/ternarybob/quaero/internal/pool"
	"github.com/ternarybob/quaero/internal/postgres"
	"github.com/ternarybob/quaero/internal/progress"
	"github.com/ternarybob/quaero/internal/reaper"
	"github.com/ternarybob/quaero/internal/signal"
)

// App holds every wired component the HTTP server dispatches requests
// into, and owns their lifecycle.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	Store       *postgres.Store
	ObjectStore *objectstore.Store
	Cache       *cache.Cache
	Catalog     interfaces.CatalogClient
	Broker      *signal.Broker

	Pool       *pool.Pool
	Dispatcher *dispatcher.Dispatcher
	Progress   *progress.Engine
	Reaper     *reaper.Reaper
	Planner    *planner.Planner
}

// New initializes the application: runs migrations, opens the object
// store and cache, and wires the five core components in dependency
// order (leaves first).
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := a.initPersistence(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	a.initCollaborators()
	a.initCore()

	return a, nil
}

// initPersistence applies migrations and opens the relational store, the
// object store, and the metadata cache — the leaves of the dependency
// graph every other component sits on.
func (a *App) initPersistence() error {
	if err := postgres.Migrate(a.Config.Postgres.DSN, a.Config.Postgres.MigrationsDir, a.Logger); err != nil {
		return err
	}

	pgxPool, err := postgres.Open(a.ctx, postgres.Config{
		DSN:             a.Config.Postgres.DSN,
		MaxConns:        a.Config.Postgres.MaxConns,
		MinConns:        a.Config.Postgres.MinConns,
		ConnMaxLifetime: a.Config.ConnMaxLifetimeDuration(),
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Store = postgres.NewStore(pgxPool, a.Logger)

	objectStore, err := objectstore.Open(a.Config.Storage.Badger.Path, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	a.ObjectStore = objectStore

	metadataCache, err := cache.Open(a.Config.Storage.Badger.Path+"-cache", a.Config.CacheTTLDuration())
	if err != nil {
		return fmt.Errorf("failed to open metadata cache: %w", err)
	}
	a.Cache = metadataCache

	return nil
}

// initCollaborators wires the out-of-scope collaborators the core depends
// on only through interfaces: the catalog-metadata client and the
// completion-signal broker.
func (a *App) initCollaborators() {
	a.Catalog = catalog.NewClient(catalog.Config{
		BaseURL:            a.Config.Catalog.BaseURL,
		RequestTimeout:     a.Config.CatalogRequestTimeoutDuration(),
		MaxPageSize:        a.Config.Catalog.MaxPageSize,
		BreakerMaxFailures: a.Config.Catalog.BreakerMaxFailures,
		BreakerOpenTimeout: a.Config.CatalogBreakerOpenTimeoutDuration(),
	}, a.Logger)

	a.Broker = signal.NewBroker()
}

// initCore wires the five cooperating components named in §1, in
// dependency order (leaves first): Work-Item Pool, then Dispatcher,
// Progress Engine and Lease Reaper (which all sit atop the Pool), then the
// Workflow Planner (which sits atop all of the above).
func (a *App) initCore() {
	a.Pool = pool.New(a.Store, a.Logger, a.Config.Dispatch.WorkItemRetryLimit,
		a.Config.VisibilityTimeoutDuration(), a.Config.ReaperJitterMaxDuration())

	a.Dispatcher = dispatcher.New(a.Pool, a.Store, a.ObjectStore, a.Config.Catalog.MaxPageSize, a.Logger)

	a.Progress = progress.New(a.Store, a.Store, a.Pool, a.ObjectStore, a.Broker,
		a.Config.Planner.AggregateStacPageSize, a.Logger)

	a.Reaper = reaper.New(a.Pool, a.Progress, a.Config.ReaperIntervalDuration(),
		a.Config.ReaperJitterMaxDuration(), a.Config.Reaper.BatchLimit, a.Logger)

	a.Planner = planner.New(a.Catalog, a.Store, a.Store, a.ObjectStore, a.Pool,
		a.Config.Planner.MaxGranuleLimit, a.Config.Planner.PreviewThresholdGranules, a.Logger)
}

// StartBackgroundLoops launches the Lease Reaper's ticker loop, returning
// immediately; the loop runs until App.Close cancels the App's context. A
// panic inside the reaper is recovered and logged rather than taking down
// the whole process.
func (a *App) StartBackgroundLoops() {
	common.SafeGoWithContext(a.ctx, a.Logger, "lease-reaper", func() {
		a.Reaper.Run(a.ctx)
	})
}

// Close releases every resource App opened, in reverse dependency order.
func (a *App) Close() error {
	a.cancelCtx()

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("failed to close metadata cache")
		}
	}
	if a.ObjectStore != nil {
		if err := a.ObjectStore.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("failed to close object store")
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}

	return nil
}
