package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	HospitalIDKey contextKey = "hospital_id"
	DBConnKey     contextKey = "db_conn"
)

var hospitalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema that holds one hospital's data.
func SchemaName(hospitalID string) string {
	return "hospital_" + hospitalID
}

// ValidHospitalID reports whether id can be used as a schema suffix.
func ValidHospitalID(id string) bool {
	return hospitalIDPattern.MatchString(id)
}

// HospitalMiddleware resolves the hospital of the request, acquires a pooled
// connection and points its search_path at the hospital schema. Repositories
// pick the connection up through ConnFromContext.
func HospitalMiddleware(pool *pgxpool.Pool, defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hospitalID := extractHospitalID(c, defaultHospital)

			if !ValidHospitalID(hospitalID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}

			ctx, release, err := AcquireHospital(c.Request().Context(), pool, hospitalID)
			if errors.Is(err, ErrNoConnection) {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "hospital resolution failed")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("hospital_id", hospitalID)

			return next(c)
		}
	}
}

// ErrNoConnection is returned when the pool cannot hand out a connection.
var ErrNoConnection = errors.New("database unavailable")

// AcquireHospital checks out a connection whose search_path points at the
// hospital schema and returns a context carrying it. Callers must invoke
// release once the request is done.
func AcquireHospital(ctx context.Context, pool *pgxpool.Pool, hospitalID string) (context.Context, func(), error) {
	if !ValidHospitalID(hospitalID) {
		return ctx, func() {}, fmt.Errorf("invalid hospital identifier: %s", hospitalID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(hospitalID))); err != nil {
		conn.Release()
		return ctx, func() {}, fmt.Errorf("set search_path for %s: %w", hospitalID, err)
	}
	ctx = WithHospital(ctx, hospitalID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

func extractHospitalID(c echo.Context, defaultHospital string) string {
	// 1. JWT claim (set by auth middleware)
	if hid, ok := c.Get("jwt_hospital_id").(string); ok && hid != "" {
		return hid
	}

	// 2. X-Hospital-ID header
	if hid := c.Request().Header.Get("X-Hospital-ID"); hid != "" {
		return hid
	}

	// 3. Query parameter
	if hid := c.QueryParam("hospital_id"); hid != "" {
		return hid
	}

	return defaultHospital
}

// ConnFromContext retrieves the hospital-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// WithHospital stores the hospital ID on ctx.
func WithHospital(ctx context.Context, hospitalID string) context.Context {
	return context.WithValue(ctx, HospitalIDKey, hospitalID)
}

// HospitalFromContext retrieves the hospital ID from context.
func HospitalFromContext(ctx context.Context) string {
	hid, _ := ctx.Value(HospitalIDKey).(string)
	return hid
}

// CreateHospitalSchema creates the schema for a hospital and, when migrator
// is non-nil, applies all migrations to it.
func CreateHospitalSchema(ctx context.Context, pool *pgxpool.Pool, hospitalID string, migrator *Migrator) error {
	if !ValidHospitalID(hospitalID) {
		return fmt.Errorf("invalid hospital identifier: %s", hospitalID)
	}

	schema := SchemaName(hospitalID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
