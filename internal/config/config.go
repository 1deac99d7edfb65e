package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type ProviderConfig struct {
	Region          string `mapstructure:"region"`
	ApplicationID   string `mapstructure:"application_id"`
	LambdaExecution bool   `mapstructure:"lambda_execution"`

	CrossAccount struct {
		Enabled     bool   `mapstructure:"enabled"`
		RoleARN     string `mapstructure:"role_arn"`
		SessionName string `mapstructure:"session_name"`
		TTLSeconds  int    `mapstructure:"ttl_seconds"`
	} `mapstructure:"cross_account"`

	RateLimit struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	Breaker struct {
		MaxFailures uint32        `mapstructure:"max_failures"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"breaker"`
}

type DispatchConfig struct {
	DefaultSenderID      string        `mapstructure:"default_sender_id"`
	DefaultFromAddress   string        `mapstructure:"default_from_address"`
	BounceHandlerEnabled bool          `mapstructure:"bounce_handler_enabled"`
	PhoneCacheTTL        time.Duration `mapstructure:"phone_cache_ttl"`
	RejectedPhoneTypes   []string      `mapstructure:"rejected_phone_types"`
}

type EncryptionConfig struct {
	Secret string `mapstructure:"secret"`
	Salt   string `mapstructure:"salt"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type WorkerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DispatchTopic string `mapstructure:"dispatch_topic"`
	HistoryTopic  string `mapstructure:"history_topic"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.max_body_bytes", 64<<10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "notifications")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("provider.region", "us-east-1")
	v.SetDefault("provider.application_id", "")
	v.SetDefault("provider.lambda_execution", false)
	v.SetDefault("provider.cross_account.enabled", false)
	v.SetDefault("provider.cross_account.role_arn", "")
	v.SetDefault("provider.cross_account.session_name", "notification-dispatcher")
	v.SetDefault("provider.cross_account.ttl_seconds", 3600)
	v.SetDefault("provider.rate_limit.requests_per_second", 20)
	v.SetDefault("provider.rate_limit.burst", 10)
	v.SetDefault("provider.breaker.max_failures", 5)
	v.SetDefault("provider.breaker.timeout", 30*time.Second)

	v.SetDefault("dispatch.default_sender_id", "")
	v.SetDefault("dispatch.default_from_address", "")
	v.SetDefault("dispatch.bounce_handler_enabled", true)
	v.SetDefault("dispatch.phone_cache_ttl", 24*time.Hour)
	v.SetDefault("dispatch.rejected_phone_types", []string{"INVALID"})

	v.SetDefault("encryption.secret", "")
	v.SetDefault("encryption.salt", "")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.dispatch_topic", "notifications.dispatch")
	v.SetDefault("worker.history_topic", "notifications.history")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// LoadConfig reads config.yml from path, or from the usual locations when
// path is empty. A missing file is fine, defaults and APP_* env vars apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// placeholderSecrets are sample values that must never reach a deployment.
var placeholderSecrets = map[string]struct{}{
	"change-me": {},
	"changeme":  {},
	"secret":    {},
}

func isPlaceholder(secret string) bool {
	_, ok := placeholderSecrets[strings.ToLower(strings.TrimSpace(secret))]
	return ok
}

func (c *Config) Validate() error {
	if c.Encryption.Secret == "" {
		return fmt.Errorf("encryption.secret is required")
	}
	if isPlaceholder(c.Encryption.Secret) {
		return fmt.Errorf("encryption.secret is a placeholder value")
	}
	if isPlaceholder(c.JWT.Secret) {
		return fmt.Errorf("jwt.secret is a placeholder value")
	}
	if c.Provider.CrossAccount.Enabled && c.Provider.CrossAccount.RoleARN == "" {
		return fmt.Errorf("provider.cross_account.role_arn is required when cross account is enabled")
	}
	if c.Worker.DispatchTopic == c.Worker.HistoryTopic {
		return fmt.Errorf("worker dispatch and history topics must differ")
	}
	return nil
}
