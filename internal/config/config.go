package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server     ServerConfig     `mapstructure:",squash"`
	Database   DatabaseConfig   `mapstructure:",squash"`
	Redis      RedisConfig      `mapstructure:",squash"`
	Scheduler  SchedulerConfig  `mapstructure:",squash"`
	Logging    LoggingConfig    `mapstructure:",squash"`
	Auth       AuthConfig       `mapstructure:",squash"`
	Settlement SettlementConfig `mapstructure:",squash"`
	Rails      RailsConfig      `mapstructure:",squash"`
	Telemetry  TelemetryConfig  `mapstructure:",squash"`
	Health     HealthConfig     `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string `mapstructure:"SERVER_PORT"`
	Host         string `mapstructure:"SERVER_HOST"`
	Env          string `mapstructure:"ENV"`
	ReadTimeout  string `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout string `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"DATABASE_DRIVER"`
	URL             string `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime string `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `mapstructure:"DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"REDIS_ADDR"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	// CheckpointTTL bounds how long an abandoned orchestration checkpoint survives.
	CheckpointTTL string `mapstructure:"REDIS_CHECKPOINT_TTL"`
}

type SchedulerConfig struct {
	ResumeSpec  string `mapstructure:"SCHEDULER_RESUME_SPEC"`
	DefaultSpec string `mapstructure:"SCHEDULER_DEFAULT_SPEC"`
	Timezone    string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"JWT_SECRET"`
	PartyKey  string `mapstructure:"NODE_PARTY_KEY"`
	PartyName string `mapstructure:"NODE_PARTY_NAME"`
	// SigningSeed is the hex ed25519 seed this node signs settlement results with.
	SigningSeed string `mapstructure:"NODE_SIGNING_SEED"`
}

type SettlementConfig struct {
	PollInterval         string `mapstructure:"SETTLEMENT_POLL_INTERVAL"`
	ReserveMargin        string `mapstructure:"SETTLEMENT_XRP_RESERVE_MARGIN"`
	LedgerDeadlineOffset int    `mapstructure:"SETTLEMENT_XRP_DEADLINE_OFFSET"`
	OracleURL            string `mapstructure:"SETTLEMENT_ORACLE_URL"`
	OracleTimeout        string `mapstructure:"SETTLEMENT_ORACLE_TIMEOUT"`
	// PreflightOverpayment runs the overpayment check before the rail is paid.
	PreflightOverpayment bool `mapstructure:"SETTLEMENT_PREFLIGHT_OVERPAYMENT_CHECK"`
}

type RailsConfig struct {
	XRPWriteURL  string  `mapstructure:"XRP_WRITE_URL"`
	XRPReadURLs  string  `mapstructure:"XRP_READ_URLS"`
	XRPAccount   string  `mapstructure:"XRP_ACCOUNT"`
	XRPSecret    string  `mapstructure:"XRP_SECRET"`
	XRPRateLimit float64 `mapstructure:"XRP_RATE_LIMIT"`
	XRPFXRates   string  `mapstructure:"XRP_FX_RATES"`
	SWIFTURL     string  `mapstructure:"SWIFT_GATEWAY_URL"`
	SWIFTAPIKey  string  `mapstructure:"SWIFT_API_KEY"`
	SWIFTAccount string  `mapstructure:"SWIFT_DEBTOR_IBAN"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"OTEL_ENABLED"`
	Endpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `mapstructure:"OTEL_SERVICE_NAME"`
	SampleRate  float64 `mapstructure:"OTEL_SAMPLE_RATE"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// .env values never override the real environment
	_ = godotenv.Load()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("SERVER_READ_TIMEOUT", "15s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "5m")
	viper.SetDefault("DATABASE_DRIVER", "postgres")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("DATABASE_AUTO_MIGRATE", true)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_CHECKPOINT_TTL", "720h")
	viper.SetDefault("SCHEDULER_RESUME_SPEC", "@every 1m")
	viper.SetDefault("SCHEDULER_DEFAULT_SPEC", "0 0 * * * *")
	viper.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("NODE_PARTY_KEY", "")
	viper.SetDefault("NODE_PARTY_NAME", "")
	viper.SetDefault("NODE_SIGNING_SEED", "")
	viper.SetDefault("SETTLEMENT_POLL_INTERVAL", "5s")
	viper.SetDefault("SETTLEMENT_XRP_RESERVE_MARGIN", "20")
	viper.SetDefault("SETTLEMENT_XRP_DEADLINE_OFFSET", 10)
	viper.SetDefault("SETTLEMENT_ORACLE_URL", "")
	viper.SetDefault("SETTLEMENT_ORACLE_TIMEOUT", "10m")
	viper.SetDefault("SETTLEMENT_PREFLIGHT_OVERPAYMENT_CHECK", false)
	viper.SetDefault("XRP_WRITE_URL", "")
	viper.SetDefault("XRP_READ_URLS", "")
	viper.SetDefault("XRP_ACCOUNT", "")
	viper.SetDefault("XRP_SECRET", "")
	viper.SetDefault("XRP_RATE_LIMIT", 5.0)
	viper.SetDefault("XRP_FX_RATES", "")
	viper.SetDefault("SWIFT_GATEWAY_URL", "")
	viper.SetDefault("SWIFT_API_KEY", "")
	viper.SetDefault("SWIFT_DEBTOR_IBAN", "")
	viper.SetDefault("OTEL_ENABLED", false)
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	viper.SetDefault("OTEL_SERVICE_NAME", "settlement-engine")
	viper.SetDefault("OTEL_SAMPLE_RATE", 1.0)
	viper.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	// Read from environment variables
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}

	if c.Auth.PartyKey == "" {
		return fmt.Errorf("NODE_PARTY_KEY is required")
	}

	if !c.IsDevelopment() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}

	durations := map[string]string{
		"SERVER_READ_TIMEOUT":        c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT":       c.Server.WriteTimeout,
		"DATABASE_CONN_MAX_LIFETIME": c.Database.ConnMaxLifetime,
		"REDIS_CHECKPOINT_TTL":       c.Redis.CheckpointTTL,
		"SETTLEMENT_POLL_INTERVAL":   c.Settlement.PollInterval,
		"SETTLEMENT_ORACLE_TIMEOUT":  c.Settlement.OracleTimeout,
		"HEALTH_CHECK_TIMEOUT":       c.Health.Timeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
	}

	margin, err := decimal.NewFromString(c.Settlement.ReserveMargin)
	if err != nil {
		return fmt.Errorf("SETTLEMENT_XRP_RESERVE_MARGIN must be a valid decimal: %w", err)
	}
	if margin.LessThan(decimal.NewFromInt(20)) {
		return fmt.Errorf("SETTLEMENT_XRP_RESERVE_MARGIN must be at least 20")
	}

	if c.Settlement.LedgerDeadlineOffset <= 0 {
		return fmt.Errorf("SETTLEMENT_XRP_DEADLINE_OFFSET must be greater than 0")
	}

	if c.Rails.XRPRateLimit <= 0 {
		return fmt.Errorf("XRP_RATE_LIMIT must be greater than 0")
	}

	if _, err := c.GetXRPFXRates(); err != nil {
		return err
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

func (c *Config) GetReadTimeout() time.Duration {
	return mustDuration(c.Server.ReadTimeout)
}

func (c *Config) GetWriteTimeout() time.Duration {
	return mustDuration(c.Server.WriteTimeout)
}

func (c *Config) GetConnMaxLifetime() time.Duration {
	return mustDuration(c.Database.ConnMaxLifetime)
}

func (c *Config) GetCheckpointTTL() time.Duration {
	return mustDuration(c.Redis.CheckpointTTL)
}

// GetPollInterval returns the oracle poll backoff as duration
func (c *Config) GetPollInterval() time.Duration {
	return mustDuration(c.Settlement.PollInterval)
}

// GetOracleTimeout returns how long an initiator waits for the oracle
func (c *Config) GetOracleTimeout() time.Duration {
	return mustDuration(c.Settlement.OracleTimeout)
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	return mustDuration(c.Health.Timeout)
}

// GetReserveMargin returns the XRP balance held back from payments
func (c *Config) GetReserveMargin() decimal.Decimal {
	margin, _ := decimal.NewFromString(c.Settlement.ReserveMargin)
	return margin
}

// GetXRPReadURLs returns the verification nodes, defaulting to the write node
func (c *Config) GetXRPReadURLs() []string {
	var urls []string
	for _, u := range strings.Split(c.Rails.XRPReadURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 && c.Rails.XRPWriteURL != "" {
		urls = append(urls, c.Rails.XRPWriteURL)
	}
	return urls
}

// GetXRPFXRates parses "USD=2.1,GBP=2.6" into XRP per unit of each token.
func (c *Config) GetXRPFXRates() (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(c.Rails.XRPFXRates, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("XRP_FX_RATES entry %q must look like TOKEN=RATE", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("XRP_FX_RATES rate for %s must be a positive decimal", token)
		}
		rates[strings.ToUpper(strings.TrimSpace(token))] = rate
	}
	return rates, nil
}

func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
