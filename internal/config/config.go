// Package config loads Harrier configuration from defaults, an optional
// harrier.yaml file, a .env file and HARRIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. HARRIER_SERVER_PORT.
const EnvPrefix = "HARRIER"

// Profiles select the base defaults before the file and environment apply.
const (
	ProfileLocal       = "local"
	ProfileDistributed = "distributed"
)

// Options controls where Load looks for configuration.
type Options struct {
	// File is an explicit config file. Empty searches ./harrier.yaml.
	File string

	// Profile picks the defaults. Empty reads HARRIER_PROFILE, then local.
	Profile string

	// EnvFile is loaded into the environment first when it exists.
	EnvFile string
}

// Load builds the configuration. Later sources override earlier ones:
// profile defaults, config file, environment.
func Load(opts Options) (*domain.Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load(envFile)

	profile := opts.Profile
	if profile == "" {
		profile = os.Getenv(EnvPrefix + "_PROFILE")
	}

	var base *domain.Config
	switch profile {
	case "", ProfileLocal:
		base = domain.DefaultConfig()
	case ProfileDistributed:
		base = domain.DistributedConfig()
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}

	v := viper.New()
	setDefaults(v, base)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("harrier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("config file loaded", "path", used)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override nested fields
// on Unmarshal.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.max_body_bytes", cfg.Server.MaxBodyBytes)
	v.SetDefault("server.metrics_enabled", cfg.Server.MetricsEnabled)

	v.SetDefault("scoring.max_workers", cfg.Scoring.MaxWorkers)
	v.SetDefault("scoring.top_n", cfg.Scoring.TopN)
	l := cfg.Scoring.Limits
	v.SetDefault("scoring.limits.max_loss_ratio", l.MaxLossRatio)
	v.SetDefault("scoring.limits.outlier_sigma", l.OutlierSigma)
	v.SetDefault("scoring.limits.new_car_year", l.NewCarYear)
	v.SetDefault("scoring.limits.new_car_loss", l.NewCarLoss)
	v.SetDefault("scoring.limits.young_age", l.YoungAge)
	v.SetDefault("scoring.limits.young_loss", l.YoungLoss)
	v.SetDefault("scoring.limits.loss_quantile", l.LossQuantile)
	v.SetDefault("scoring.limits.premium_quantile", l.PremiumQuantile)

	r := cfg.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlite_path", r.SQLitePath)
	v.SetDefault("repository.postgres_host", r.PostgresHost)
	v.SetDefault("repository.postgres_port", r.PostgresPort)
	v.SetDefault("repository.postgres_user", r.PostgresUser)
	v.SetDefault("repository.postgres_password", r.PostgresPassword)
	v.SetDefault("repository.postgres_db", r.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", r.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", r.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", r.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", r.ConnMaxLifetime)

	c := cfg.Cache
	v.SetDefault("cache.type", c.Type)
	v.SetDefault("cache.local_max_size", c.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.LocalTTL)
	v.SetDefault("cache.redis_addr", c.RedisAddr)
	v.SetDefault("cache.redis_password", c.RedisPassword)
	v.SetDefault("cache.redis_db", c.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.EnableTwoPhase)
	v.SetDefault("cache.report_ttl", c.ReportTTL)

	b := cfg.EventBus
	v.SetDefault("event_bus.type", b.Type)
	v.SetDefault("event_bus.channel_buffer_size", b.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", b.NATSUrl)
	v.SetDefault("event_bus.nats_token", b.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", b.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", b.NATSReconnectWait)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}

// Validate rejects settings the components would fail on later.
func Validate(cfg *domain.Config) error {
	switch {
	case cfg.Server.Port <= 0 || cfg.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	case cfg.Scoring.MaxWorkers < 0:
		return errors.New("scoring.max_workers must not be negative")
	case cfg.Scoring.TopN < 0:
		return errors.New("scoring.top_n must not be negative")
	}
	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if f := cfg.Logging.Format; f != "json" && f != "text" {
		return fmt.Errorf("logging.format must be json or text, got %q", f)
	}
	return nil
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(w io.Writer, cfg domain.LoggingConfig) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
