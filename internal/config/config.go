package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	ServiceName           string   `mapstructure:"SERVICE_NAME"`
	AuthMode              string   `mapstructure:"AUTH_MODE"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir         string   `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer            string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL           string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience          string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey        string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultHospital       string   `mapstructure:"DEFAULT_HOSPITAL"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int      `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled            bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile           string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile            string   `mapstructure:"TLS_KEY_FILE"`
	WhatsAppAPIURL        string   `mapstructure:"WHATSAPP_API_URL"`
	WhatsAppToken         string   `mapstructure:"WHATSAPP_TOKEN"`
	WhatsAppPhoneNumberID string   `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppWebhookToken  string   `mapstructure:"WHATSAPP_WEBHOOK_TOKEN"`
	PDFFontPath           string   `mapstructure:"PDF_FONT_PATH"`
	OTelEnabled           bool     `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint          string   `mapstructure:"OTEL_ENDPOINT"`
	OTelSampleRate        float64  `mapstructure:"OTEL_SAMPLE_RATE"`
}

var boundKeys = []string{
	"PORT", "ENV", "SERVICE_NAME", "AUTH_MODE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_HOSPITAL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"WHATSAPP_API_URL", "WHATSAPP_TOKEN", "WHATSAPP_PHONE_NUMBER_ID", "WHATSAPP_WEBHOOK_TOKEN",
	"PDF_FONT_PATH", "OTEL_ENABLED", "OTEL_ENDPOINT", "OTEL_SAMPLE_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("SERVICE_NAME", "hms")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "")
	v.SetDefault("DEFAULT_HOSPITAL", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0")
	v.SetDefault("OTEL_SAMPLE_RATE", 0.1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT auth mode.")
		log.Println("WARNING: Requests without a bearer token get an admin identity.")
		log.Println("WARNING: Set ENV=production and AUTH_ISSUER or AUTH_SIGNING_KEY.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development      → "development" (no token means admin)
//   - AUTH_SIGNING_KEY set → "hmac" (shared-secret tokens from the identity provider)
//   - Otherwise            → "external" (JWKS from AUTH_ISSUER / AUTH_JWKS_URL)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthSigningKey != "" {
		return "hmac"
	}
	return "external"
}

// WhatsAppEnabled reports whether outbound WhatsApp notifications are configured.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsAppToken != "" && c.WhatsAppPhoneNumberID != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed when ENV=production")
		}
	case "hmac":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
		}
	case "external":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"hmac\", or \"external\", got %q", mode)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if (c.WhatsAppToken == "") != (c.WhatsAppPhoneNumberID == "") {
		return fmt.Errorf("WHATSAPP_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set together")
	}

	if c.OTelEnabled && c.OTelEndpoint == "" {
		return fmt.Errorf("OTEL_ENDPOINT is required when OTEL_ENABLED is true")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTelSampleRate)
	}

	return nil
}
