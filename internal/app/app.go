// Package app builds the explicit run context shared by every command: the
// warehouse pool, the content cache, the fetch gateway and the source
// registry. One App is constructed per command and closed when it returns.
package app

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/optimal-systems/data/internal/config"
	"github.com/optimal-systems/data/internal/db"
	"github.com/optimal-systems/data/internal/fetchcache"
	"github.com/optimal-systems/data/internal/fetcher"
	"github.com/optimal-systems/data/internal/model"
	"github.com/optimal-systems/data/internal/normalize"
	"github.com/optimal-systems/data/internal/source"
	"github.com/optimal-systems/data/internal/source/ahorramas"
	"github.com/optimal-systems/data/internal/source/carrefour"
	"github.com/optimal-systems/data/internal/warehouse"
)

// App is the run context.
type App struct {
	Config   *config.Config
	Pool     db.Pool
	Cache    fetchcache.Store
	Gateway  *fetchcache.Gateway
	Catalog  *source.Catalog
	Registry *source.Registry

	log *zap.Logger
}

// Open connects to the warehouse, opens the configured cache and assembles
// the sources.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	pool, err := db.Open(ctx, db.PoolConfig{
		URL:      cfg.Database.URL,
		MinConns: cfg.Database.MinConns,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, err
	}

	cache, err := OpenCache(ctx, cfg.Cache, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	httpClient := fetcher.NewHTTPClient(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		RatePerSec: cfg.Fetch.RatePerSec,
	})

	a, err := New(cfg, pool, cache, httpClient)
	if err != nil {
		_ = cache.Close()
		pool.Close()
		return nil, err
	}
	return a, nil
}

// New assembles an App from already opened resources.
func New(cfg *config.Config, pool db.Pool, cache fetchcache.Store, f fetcher.Fetcher) (*App, error) {
	cat, err := source.LoadCatalog(cfg.Sources.CatalogPath)
	if err != nil {
		return nil, err
	}
	reg, err := BuildRegistry(cat, cfg.Extract.ChunkSize)
	if err != nil {
		return nil, err
	}

	gw := fetchcache.NewGateway(cache, f, fetchcache.FetchOptions{
		Retries: cfg.Fetch.Retries,
		Timeout: cfg.Fetch.Timeout(),
		Delay:   cfg.Fetch.Delay(),
	})

	return &App{
		Config:   cfg,
		Pool:     pool,
		Cache:    cache,
		Gateway:  gw,
		Catalog:  cat,
		Registry: reg,
		log:      zap.L().With(zap.String("component", "app")),
	}, nil
}

// OpenCache returns the cache store selected by cfg. The postgres store
// shares the warehouse pool.
func OpenCache(ctx context.Context, cfg config.CacheConfig, pool db.Pool) (fetchcache.Store, error) {
	switch cfg.Driver {
	case config.CacheDriverPostgres, "":
		if pool == nil {
			return nil, eris.New("app: postgres cache needs a database pool")
		}
		return fetchcache.NewPostgresStore(pool), nil
	case config.CacheDriverSQLite:
		return fetchcache.NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.CacheDriverMemory:
		return fetchcache.NewMemoryStore(), nil
	default:
		return nil, eris.Errorf("app: unsupported cache driver: %s", cfg.Driver)
	}
}

// BuildRegistry registers every source that has a catalog entry.
func BuildRegistry(cat *source.Catalog, chunkSize int) (*source.Registry, error) {
	reg := source.NewRegistry()

	ctors := []struct {
		name model.Source
		new  func(source.Config, int) source.Source
	}{
		{model.SourceCarrefour, func(c source.Config, n int) source.Source { return carrefour.New(c, n) }},
		{model.SourceAhorramas, func(c source.Config, n int) source.Source { return ahorramas.New(c, n) }},
	}
	for _, c := range ctors {
		sc, err := cat.Source(c.name)
		if err != nil {
			return nil, eris.Wrapf(err, "app: register %s", c.name)
		}
		reg.Register(c.new(sc, chunkSize))
	}
	return reg, nil
}

// Harvest fetches and normalizes one source and kind. It satisfies
// warehouse.Harvester.
func (a *App) Harvest(ctx context.Context, name model.Source, kind model.Kind) (model.Dataset, error) {
	src, err := a.Registry.Get(name)
	if err != nil {
		return model.Dataset{}, err
	}

	ds := model.Dataset{Source: name, Kind: kind}
	var report normalize.Report

	switch kind {
	case model.KindStores:
		raw, err := src.Stores(ctx, a.Gateway)
		if err != nil {
			return model.Dataset{}, eris.Wrapf(err, "app: harvest %s stores", name)
		}
		ds.Stores, report = normalize.Stores(raw, name)
	case model.KindProducts:
		raw, err := src.Products(ctx, a.Gateway)
		if err != nil {
			return model.Dataset{}, eris.Wrapf(err, "app: harvest %s products", name)
		}
		ds.Products, report = normalize.Products(raw, name)
	default:
		return model.Dataset{}, eris.Errorf("app: unknown kind %q", kind)
	}

	a.log.Info("harvest normalized", report.Fields()...)
	if ds.Len() == 0 {
		a.log.Warn("harvest produced no records",
			zap.String("source", string(name)),
			zap.String("kind", string(kind)),
		)
	}
	return ds, nil
}

// Pipeline returns the warehouse pipeline harvesting through this App.
func (a *App) Pipeline() *warehouse.Pipeline {
	return warehouse.NewPipeline(a.Pool, a)
}

// SourceResult is the outcome of one source in RunAll.
type SourceResult struct {
	Source model.Source
	Result warehouse.Result
	Err    error
}

// RunAll runs the full pipeline of kind for every registered source, each as
// its own run. At most parallel runs are in flight; each run stays
// sequential. One source failing never stops the others. Results come back
// in registration order.
func (a *App) RunAll(ctx context.Context, kind model.Kind, date string, parallel int) []SourceResult {
	if date == "" {
		date = a.Pipeline().Today()
	}
	names := make([]model.Source, 0, len(a.Registry.Names()))
	for _, n := range a.Registry.Names() {
		names = append(names, model.Source(n))
	}
	return runAll(ctx, names, parallel, func(ctx context.Context, src model.Source) (warehouse.Result, error) {
		return a.Pipeline().Run(ctx, src, kind, date)
	})
}

func runAll(ctx context.Context, names []model.Source, parallel int, run func(context.Context, model.Source) (warehouse.Result, error)) []SourceResult {
	if parallel < 1 {
		parallel = 1
	}
	out := make([]SourceResult, len(names))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, name := range names {
		g.Go(func() error {
			res, err := run(ctx, name)
			out[i] = SourceResult{Source: name, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close releases the cache and the pool.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn("close cache", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
