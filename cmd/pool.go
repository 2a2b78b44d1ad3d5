package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tena-analytics/warehouse-cli/internal/enricher"
	"github.com/tena-analytics/warehouse-cli/internal/loader"
	"github.com/tena-analytics/warehouse-cli/internal/pipeline"
	"github.com/tena-analytics/warehouse-cli/internal/transformer"
	"github.com/tena-analytics/warehouse-cli/internal/warehouse"
	"github.com/tena-analytics/warehouse-cli/pkg/vision"
)

// warehousePool creates a pgxpool.Pool for the warehouse.
func warehousePool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		return nil, eris.New("warehouse: no database_url configured (set store.database_url)")
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: parse database_url")
	}
	if cfg.Store.MaxConns > 0 {
		pc.MaxConns = cfg.Store.MaxConns
	}
	if cfg.Store.MinConns > 0 {
		pc.MinConns = cfg.Store.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "warehouse: ping database")
	}

	return pool, nil
}

// detectorClient builds the vision client from config.
func detectorClient() vision.Client {
	opts := []vision.ClientOption{
		vision.WithMinConfidence(cfg.Detector.MinConfidence),
	}
	if cfg.Detector.RateLimit > 0 {
		opts = append(opts, vision.WithRateLimit(cfg.Detector.RateLimit))
	}
	if cfg.Detector.TimeoutSecs > 0 {
		opts = append(opts, vision.WithHTTPClient(httpClientWithTimeout(cfg.Detector.TimeoutSecs)))
	}
	return vision.NewClient(cfg.Detector.BaseURL, opts...)
}

// newPipeline wires the full orchestrator from config and a live pool.
func newPipeline(pool *pgxpool.Pool) *pipeline.Pipeline {
	sets := enricher.NewClassSets(cfg.Detector.PersonClasses, cfg.Detector.ProductClasses)
	return pipeline.New(
		cfg,
		loader.New(pool),
		transformer.New(pool),
		enricher.New(pool, detectorClient(), sets),
		warehouse.NewRunLog(pool),
	)
}

func httpClientWithTimeout(secs int) *http.Client {
	return &http.Client{Timeout: time.Duration(secs) * time.Second}
}
