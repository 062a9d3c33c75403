// Package config loads service configuration from defaults, an optional
// config file, and the environment using viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ADMISSION_HTTP_PORT.
const EnvPrefix = "ADMISSION"

// Config is the full service configuration.
type Config struct {
	Store     string    `mapstructure:"store"`
	DB        Database  `mapstructure:"db"`
	HTTP      HTTP      `mapstructure:"http"`
	Admission Admission `mapstructure:"admission"`
	Report    Report    `mapstructure:"report"`
	Dispatch  Dispatch  `mapstructure:"dispatch"`
	Tracing   Tracing   `mapstructure:"tracing"`
	Log       Log       `mapstructure:"log"`
}

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Pool     Pool   `mapstructure:"pool"`

	// ConnectAttempts is how many times NewPool tries before giving up.
	ConnectAttempts int `mapstructure:"connect_attempts"`
}

// Pool holds pgxpool sizing.
type Pool struct {
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// HTTP configures the API server.
type HTTP struct {
	Port      string    `mapstructure:"port"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

// RateLimit configures the per-client token bucket. RPS <= 0 disables it.
type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Admission configures the admission controller.
type Admission struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// Report configures the stale-tolerant reporting cache.
type Report struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Dispatch configures the queue draining worker pool.
type Dispatch struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store", "postgres")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "admission")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.connect_attempts", 5)
	v.SetDefault("db.pool.max_conns", 20)
	v.SetDefault("db.pool.min_conns", 2)
	v.SetDefault("db.pool.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.pool.max_conn_idle_time", 5*time.Minute)

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.rate_limit.rps", 50.0)
	v.SetDefault("http.rate_limit.burst", 100)

	v.SetDefault("admission.lock_timeout", 2*time.Second)
	v.SetDefault("report.cache_ttl", 2*time.Second)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.poll_interval", 500*time.Millisecond)
	v.SetDefault("dispatch.max_attempts", 3)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "campaign-admission")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// legacyEnv keeps the plain variable names deployments already set.
var legacyEnv = map[string]string{
	"db.host":     "DB_HOST",
	"db.port":     "DB_PORT",
	"db.user":     "DB_USER",
	"db.password": "DB_PASSWORD",
	"db.name":     "DB_NAME",
	"db.sslmode":  "DB_SSLMODE",
	"http.port":   "PORT",
}

// BindEnv wires ADMISSION_* overrides plus the legacy names.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load builds a Config from v, reading the config file first when path is set.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return Config{}, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store must be postgres or memory, got %q", c.Store)
	}
	if c.Admission.LockTimeout <= 0 {
		return fmt.Errorf("admission.lock_timeout must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be positive")
	}
	if c.HTTP.RateLimit.RPS > 0 && c.HTTP.RateLimit.Burst <= 0 {
		return fmt.Errorf("http.rate_limit.burst must be positive when rps is set")
	}
	return nil
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL builds a connection URL with the given scheme ("postgres", "pgx5").
func (d Database) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}
