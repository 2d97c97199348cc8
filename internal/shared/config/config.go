package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Clients    ClientsConfig    `mapstructure:"clients"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds service authentication configuration.
type AuthConfig struct {
	// JWTSecret verifies inbound bearer tokens issued by the identity provider.
	JWTSecret string `mapstructure:"jwt_secret"`
	// Client-credentials grant used for outbound collaborator calls.
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// HTTPClientConfig holds outbound HTTP client configuration.
type HTTPClientConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
}

// BreakerConfig holds circuit breaker settings for collaborator clients.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxHalfOpen      uint32        `mapstructure:"max_half_open"`
}

// ClientsConfig holds collaborator service endpoints.
type ClientsConfig struct {
	Payments       PaymentsClientConfig       `mapstructure:"payments"`
	Reconciliation ReconciliationClientConfig `mapstructure:"reconciliation"`
	Notify         NotifyClientConfig         `mapstructure:"notify"`
	Idam           IdamClientConfig           `mapstructure:"idam"`
}

// PaymentsClientConfig holds the payment/fee provider endpoint.
type PaymentsClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ReconciliationClientConfig holds the middle office endpoint and
// optional S3 archive for submitted payloads.
type ReconciliationClientConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	ArchiveEnabled  bool   `mapstructure:"archive_enabled"`
	ArchiveBucket   string `mapstructure:"archive_bucket"`
	ArchiveEndpoint string `mapstructure:"archive_endpoint"`
	ArchiveRegion   string `mapstructure:"archive_region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// NotifyClientConfig holds the notification sender endpoint and templates.
type NotifyClientConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	EmailTemplateID      string        `mapstructure:"email_template_id"`
	LetterTemplateID     string        `mapstructure:"letter_template_id"`
	ReissueTemplateID    string        `mapstructure:"reissue_template_id"`
	IdempotencyKeyExpiry time.Duration `mapstructure:"idempotency_key_expiry"`
}

// IdamClientConfig holds the identity provider endpoint and user cache policy.
type IdamClientConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	UserCacheTTL time.Duration `mapstructure:"user_cache_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/refunds")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("REFUNDS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("REFUNDS_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("REFUNDS_CLIENT_SECRET"); secret != "" {
		cfg.Auth.ClientSecret = secret
	}
	if password := os.Getenv("REFUNDS_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("REFUNDS_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("REFUNDS_ARCHIVE_SECRET_KEY"); key != "" {
		cfg.Clients.Reconciliation.SecretAccessKey = key
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "refunds")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Outbound HTTP client defaults
	v.SetDefault("http_client.dial_timeout", 5*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 10)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 30*time.Second)

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.timeout", 60*time.Second)
	v.SetDefault("breaker.max_half_open", 1)

	// Collaborator defaults
	v.SetDefault("clients.idam.user_cache_ttl", 4*time.Hour)
	v.SetDefault("clients.notify.idempotency_key_expiry", 24*time.Hour)
	v.SetDefault("clients.reconciliation.archive_region", "eu-west-2")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
