package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// healthProbe is the subset of the pool the health check touches.
type healthProbe struct {
	ping         func(ctx context.Context) error
	schemaExists func(ctx context.Context, schema string) (bool, error)
	stats        func() *PoolStats
}

// HealthHandler pings the database and checks that the default hospital's
// schema has been created. A missing schema is reported as "degraded": the
// server can still serve other hospitals.
func HealthHandler(pool *pgxpool.Pool, defaultHospital string) echo.HandlerFunc {
	return healthHandler(healthProbe{
		ping: pool.Ping,
		schemaExists: func(ctx context.Context, schema string) (bool, error) {
			var ok bool
			err := pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
				schema).Scan(&ok)
			return ok, err
		},
		stats: func() *PoolStats { return GetPoolStats(pool) },
	}, defaultHospital)
}

func healthHandler(p healthProbe, defaultHospital string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		s := p.stats()
		if err := p.ping(ctx); err != nil {
			s.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   s,
			})
		}

		body := map[string]any{"status": "healthy", "pool": s}
		if defaultHospital != "" && p.schemaExists != nil {
			schema := SchemaName(defaultHospital)
			ok, err := p.schemaExists(ctx, schema)
			switch {
			case err != nil:
				body["status"] = "degraded"
				body["error"] = err.Error()
			case !ok:
				body["status"] = "degraded"
				body["error"] = "schema " + schema + " does not exist"
			}
			body["schema"] = schema
		}
		return c.JSON(http.StatusOK, body)
	}
}
