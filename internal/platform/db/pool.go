package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryObserver receives the outcome of every statement run through the pool.
type QueryObserver interface {
	ObserveQuery(operation string, d time.Duration, err error)
}

type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
	Observer QueryObserver
}

func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.Observer != nil {
		cfg.ConnConfig.Tracer = &observerTracer{observer: pc.Observer}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	at        time.Time
	operation string
}

// observerTracer adapts a QueryObserver to pgx.QueryTracer.
type observerTracer struct {
	observer QueryObserver
}

func (t *observerTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), operation: sqlOperation(data.SQL)})
}

func (t *observerTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	t.observer.ObserveQuery(start.operation, time.Since(start.at), data.Err)
}

// sqlOperation returns the lower-cased leading keyword of a statement.
func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
