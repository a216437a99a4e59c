package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/analytics"
	"github.com/hms/hms/internal/domain/booking"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/notification"
	"github.com/hms/hms/internal/platform/pdf"
	"github.com/hms/hms/internal/platform/tracing"
	"github.com/hms/hms/internal/platform/whatsapp"
	"github.com/hms/hms/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital management service: appointment booking and analytics",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hospitalCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newMigrator reads migrations from dir, then MIGRATIONS_DIR, and falls back
// to the embedded set.
func newMigrator(pool *pgxpool.Pool, cfg *config.Config, dir string) *db.Migrator {
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	if dir == "" {
		return db.NewMigratorFS(pool, migrations.FS)
	}
	return db.NewMigrator(pool, dir)
}

// targetSchema resolves --schema, falling back to the schema of --hospital.
func targetSchema(cmd *cobra.Command) (string, error) {
	schema, _ := cmd.Flags().GetString("schema")
	if schema != "" {
		return schema, nil
	}
	hospital, _ := cmd.Flags().GetString("hospital")
	if !db.ValidHospitalID(hospital) {
		return "", fmt.Errorf("invalid hospital identifier: %q", hospital)
	}
	return db.SchemaName(hospital), nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func addMigrationFlags(cmd *cobra.Command) {
	cmd.Flags().String("hospital", "default", "Hospital whose schema is migrated")
	cmd.Flags().String("schema", "", "Target schema (overrides --hospital)")
	cmd.Flags().String("dir", "", "Migrations directory (embedded migrations when empty)")
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := targetSchema(cmd)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
				return fmt.Errorf("create schema %s: %w", schema, err)
			}

			applied, err := newMigrator(pool, cfg, dir).Up(ctx, schema)
			if err != nil {
				return err
			}
			if applied == 0 {
				fmt.Println("No pending migrations.")
			} else {
				fmt.Printf("Applied %d migration(s) to %s.\n", applied, schema)
			}
			return nil
		},
	}
	addMigrationFlags(upCmd)
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := targetSchema(cmd)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, cfg, dir).Status(ctx, schema)
			if err != nil {
				return err
			}

			fmt.Printf("Schema: %s\n\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Printf("%-10s %-40s %-10s %s\n", "-------", "----", "------", "----------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	addMigrationFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func hospitalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospital",
		Short: "Manage hospitals",
	}

	createCmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a hospital schema and apply migrations to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !db.ValidHospitalID(id) {
				return fmt.Errorf("invalid hospital identifier: %q", id)
			}
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating hospital schema: %s\n", db.SchemaName(id))
			if err := db.CreateHospitalSchema(ctx, pool, id, newMigrator(pool, cfg, dir)); err != nil {
				return err
			}
			fmt.Println("Hospital created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("dir", "", "Migrations directory (embedded migrations when empty)")

	cmd.AddCommand(createCmd)
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

// authMiddleware picks the verifier for the configured auth mode.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newSender returns the WhatsApp client when it is configured and a logging
// sender otherwise.
func newSender(cfg *config.Config, logger zerolog.Logger) notification.Sender {
	if !cfg.WhatsAppEnabled() {
		return notification.LogSender{Logger: logger}
	}
	return whatsapp.NewClient(whatsapp.Config{
		BaseURL:       cfg.WhatsAppAPIURL,
		Token:         cfg.WhatsAppToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		Timeout:       10 * time.Second,
	}, logger)
}

// services bundles what the HTTP routes are built from.
type services struct {
	booking   *booking.Service
	analytics *analytics.Service
}

func newEcho(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, col *metrics.Collector, svc services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Hospital-ID", "X-Webhook-Token"},
	}))
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rl))
	e.Use(middleware.Metrics(col))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, cfg.DefaultHospital))
	e.GET("/metrics", echo.WrapHandler(col.Handler()))

	// The bot webhook authenticates with a shared token, not a JWT.
	hooks := e.Group("/api/v1", db.HospitalMiddleware(pool, cfg.DefaultHospital))
	booking.NewWebhookHandler(svc.booking, cfg.WhatsAppWebhookToken).RegisterRoutes(hooks)

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		db.HospitalMiddleware(pool, cfg.DefaultHospital),
		middleware.Audit(logger),
	)
	booking.NewHandler(svc.booking).RegisterRoutes(apiV1)
	analytics.NewHandler(svc.analytics).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	ctx := context.Background()

	// Tracing
	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.ServiceName,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	// Database
	col := metrics.NewCollector("hms")
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Observer: col,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Notifications
	dispatcher := notification.NewDispatcher(newSender(cfg, logger), notification.NewTemplateEngine(), logger, col)
	if cfg.WhatsAppEnabled() {
		logger.Info().Msg("whatsapp notifications enabled")
	}

	svc := services{
		booking:   booking.NewService(booking.NewStorePG(pool), dispatcher, pdf.NewRenderer(cfg.PDFFontPath), col, logger),
		analytics: analytics.NewService(analytics.NewRepoPG(pool), col, logger),
	}
	e := newEcho(cfg, logger, pool, col, svc)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	dispatcher.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
