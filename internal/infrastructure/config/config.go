package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Webhook     WebhookConfig
	Vendor      VendorConfig
	Platform    PlatformConfig
	Fulfillment FulfillmentConfig
	Telemetry   TelemetryConfig
	Audit       AuditConfig
	Events      EventsConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. An empty host selects the
// in-memory caches.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	Swagger        bool // serve the API docs at /swagger outside production
}

// WebhookConfig holds the platform webhook settings
type WebhookConfig struct {
	Secret         string        // HS256 secret shared with the platform
	Issuer         string        // expected iss claim, empty to skip the check
	IdempotencyTTL time.Duration // how long a delivery id is remembered
}

// VendorConfig holds the vendor API settings
type VendorConfig struct {
	AuthEndpoint       string
	APIBaseURL         string
	Scopes             string
	Timeout            time.Duration
	TokenExpiryMargin  time.Duration
	AuthorizationsFile string
}

// PlatformConfig holds the commerce platform settings
type PlatformConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// FulfillmentConfig holds the order processing settings
type FulfillmentConfig struct {
	PollInterval       time.Duration
	PollBackoffMax     time.Duration
	MaxPollAttempts    int
	Workers            int
	QueueSize          int
	JobTimeout         time.Duration
	SearchPageSize     int
	MigrationRetries   int
	ReconcileInterval  time.Duration
	ReconcileWorkers   int
	ProductIDs         []string
	ReconcileOnStartup bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	MetricsInterval   time.Duration
	ProfilingEnabled  bool
	ProfilingEndpoint string
}

// AuditConfig holds the S3 transfer archive settings
type AuditConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string // S3-compatible endpoint, empty for AWS
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// EventsConfig holds the Kafka outcome publisher settings
type EventsConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with VIPM_ prefix (e.g., VIPM_VENDOR_API_BASE_URL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file; an empty path searches
// the working directory and /app for config.toml.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("VIPM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			Swagger:        v.GetBool("http.swagger"),
		},
		Webhook: WebhookConfig{
			Secret:         v.GetString("webhook.secret"),
			Issuer:         v.GetString("webhook.issuer"),
			IdempotencyTTL: v.GetDuration("webhook.idempotency_ttl"),
		},
		Vendor: VendorConfig{
			AuthEndpoint:       v.GetString("vendor.auth_endpoint"),
			APIBaseURL:         v.GetString("vendor.api_base_url"),
			Scopes:             v.GetString("vendor.scopes"),
			Timeout:            v.GetDuration("vendor.timeout"),
			TokenExpiryMargin:  v.GetDuration("vendor.token_expiry_margin"),
			AuthorizationsFile: v.GetString("vendor.authorizations_file"),
		},
		Platform: PlatformConfig{
			BaseURL: v.GetString("platform.base_url"),
			Token:   v.GetString("platform.token"),
			Timeout: v.GetDuration("platform.timeout"),
		},
		Fulfillment: FulfillmentConfig{
			PollInterval:       v.GetDuration("fulfillment.poll_interval"),
			PollBackoffMax:     v.GetDuration("fulfillment.poll_backoff_max"),
			MaxPollAttempts:    v.GetInt("fulfillment.max_poll_attempts"),
			Workers:            v.GetInt("fulfillment.workers"),
			QueueSize:          v.GetInt("fulfillment.queue_size"),
			JobTimeout:         v.GetDuration("fulfillment.job_timeout"),
			SearchPageSize:     v.GetInt("fulfillment.search_page_size"),
			MigrationRetries:   v.GetInt("fulfillment.migration_max_retries"),
			ReconcileInterval:  v.GetDuration("fulfillment.reconcile_interval"),
			ReconcileWorkers:   v.GetInt("fulfillment.reconcile_workers"),
			ProductIDs:         v.GetStringSlice("fulfillment.product_ids"),
			ReconcileOnStartup: v.GetBool("fulfillment.reconcile_on_startup"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingEndpoint: v.GetString("telemetry.profiling_endpoint"),
		},
		Audit: AuditConfig{
			Enabled:         v.GetBool("audit.enabled"),
			Bucket:          v.GetString("audit.bucket"),
			Region:          v.GetString("audit.region"),
			Endpoint:        v.GetString("audit.endpoint"),
			AccessKeyID:     v.GetString("audit.access_key_id"),
			SecretAccessKey: v.GetString("audit.secret_access_key"),
			Prefix:          v.GetString("audit.prefix"),
			UsePathStyle:    v.GetBool("audit.use_path_style"),
		},
		Events: EventsConfig{
			Enabled:      v.GetBool("events.enabled"),
			Brokers:      v.GetStringSlice("events.brokers"),
			Topic:        v.GetString("events.topic"),
			WriteTimeout: v.GetDuration("events.write_timeout"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vipm-fulfillment"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "vipm"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "vipm.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20
	}
	if cfg.Webhook.IdempotencyTTL == 0 {
		cfg.Webhook.IdempotencyTTL = 24 * time.Hour
	}

	if cfg.Vendor.Timeout == 0 {
		cfg.Vendor.Timeout = 30 * time.Second
	}
	if cfg.Vendor.TokenExpiryMargin == 0 {
		cfg.Vendor.TokenExpiryMargin = 180 * time.Second
	}
	if cfg.Vendor.Scopes == "" {
		cfg.Vendor.Scopes = "openid,AdobeID,read_organizations"
	}
	if cfg.Vendor.AuthorizationsFile == "" {
		cfg.Vendor.AuthorizationsFile = "authorizations.yaml"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = 30 * time.Second
	}

	if cfg.Fulfillment.PollInterval == 0 {
		cfg.Fulfillment.PollInterval = 30 * time.Second
	}
	if cfg.Fulfillment.PollBackoffMax == 0 {
		cfg.Fulfillment.PollBackoffMax = 15 * time.Minute
	}
	if cfg.Fulfillment.MaxPollAttempts == 0 {
		cfg.Fulfillment.MaxPollAttempts = 10
	}
	if cfg.Fulfillment.Workers == 0 {
		cfg.Fulfillment.Workers = 4
	}
	if cfg.Fulfillment.QueueSize == 0 {
		cfg.Fulfillment.QueueSize = 256
	}
	if cfg.Fulfillment.JobTimeout == 0 {
		cfg.Fulfillment.JobTimeout = 2 * time.Minute
	}
	if cfg.Fulfillment.SearchPageSize == 0 {
		cfg.Fulfillment.SearchPageSize = 100
	}
	if cfg.Fulfillment.MigrationRetries == 0 {
		cfg.Fulfillment.MigrationRetries = 15
	}
	if cfg.Fulfillment.ReconcileInterval == 0 {
		cfg.Fulfillment.ReconcileInterval = 15 * time.Minute
	}
	if cfg.Fulfillment.ReconcileWorkers == 0 {
		cfg.Fulfillment.ReconcileWorkers = 4
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.ProfilingEndpoint == "" {
		cfg.Telemetry.ProfilingEndpoint = "http://localhost:4040"
	}

	if cfg.Audit.Region == "" {
		cfg.Audit.Region = "us-east-1"
	}
	if cfg.Audit.Prefix == "" {
		cfg.Audit.Prefix = "transfers"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "vipm.fulfillment.outcomes"
	}
	if cfg.Events.WriteTimeout == 0 {
		cfg.Events.WriteTimeout = 10 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Fulfillment.MaxPollAttempts < 0 {
		return fmt.Errorf("fulfillment.max_poll_attempts cannot be negative")
	}
	if c.Fulfillment.PollBackoffMax < c.Fulfillment.PollInterval {
		return fmt.Errorf("fulfillment.poll_backoff_max (%s) cannot be shorter than fulfillment.poll_interval (%s)",
			c.Fulfillment.PollBackoffMax, c.Fulfillment.PollInterval)
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Audit.Enabled && c.Audit.Bucket == "" {
		return fmt.Errorf("audit.bucket is required when audit is enabled")
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers is required when events are enabled")
	}

	if c.App.Env == "production" {
		if len(c.Webhook.Secret) < 32 {
			return fmt.Errorf("webhook.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Vendor.APIBaseURL == "" || c.Vendor.AuthEndpoint == "" {
			return fmt.Errorf("vendor.api_base_url and vendor.auth_endpoint are required in production")
		}
		if c.Platform.BaseURL == "" {
			return fmt.Errorf("platform.base_url is required in production")
		}
	}
	return nil
}

// DSN returns the postgres connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the redis address, or "" when redis is not configured
func (r *RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
