package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

//go:embed schema.sql
var schema string

// ClientConfig holds pool settings for the job store.
type ClientConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultClientConfig sizes the pool for one API or worker process.
// Workers hold a connection only while persisting a transition.
func DefaultClientConfig(dsn string) ClientConfig {
	return ClientConfig{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 15 * time.Minute,
	}
}

// Client owns the pgx pool backing the conversion job store.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient opens the pool and verifies connectivity.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

// EnsureSchema creates the conversion_jobs table and its indexes if missing.
// Every statement is idempotent, so API and worker may both call it on start.
func (c *Client) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, c.pool)
}

func ensureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping is used by the API readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Client) Close() {
	c.pool.Close()
}

// Collector exposes pool statistics as prometheus gauges and counters.
func (c *Client) Collector() prometheus.Collector {
	return &poolCollector{pool: c.pool}
}

var (
	poolAcquiredDesc = prometheus.NewDesc("hlsforge_db_pool_acquired_conns",
		"Connections currently checked out of the pool.", nil, nil)
	poolIdleDesc = prometheus.NewDesc("hlsforge_db_pool_idle_conns",
		"Idle connections held by the pool.", nil, nil)
	poolTotalDesc = prometheus.NewDesc("hlsforge_db_pool_total_conns",
		"Total connections held by the pool.", nil, nil)
	poolMaxDesc = prometheus.NewDesc("hlsforge_db_pool_max_conns",
		"Configured pool size.", nil, nil)
	poolEmptyAcquireDesc = prometheus.NewDesc("hlsforge_db_pool_empty_acquire_total",
		"Acquires that had to wait for a connection.", nil, nil)
)

type poolCollector struct {
	pool *pgxpool.Pool
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolAcquiredDesc
	ch <- poolIdleDesc
	ch <- poolTotalDesc
	ch <- poolMaxDesc
	ch <- poolEmptyAcquireDesc
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.pool.Stat()
	ch <- prometheus.MustNewConstMetric(poolAcquiredDesc, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(poolEmptyAcquireDesc, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}
