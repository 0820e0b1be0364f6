package internal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Bancard       BancardConfig       `mapstructure:"bancard"`
	Notification  NotificationConfig  `mapstructure:"notification"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	BCryptCost           int           `mapstructure:"bcrypt_cost"`
}

// BancardConfig holds the vPOS credentials. Keys are issued per commerce and environment.
type BancardConfig struct {
	PublicKey       string        `mapstructure:"public_key"`
	PrivateKey      string        `mapstructure:"private_key"`
	Environment     string        `mapstructure:"environment"`
	BaseURL         string        `mapstructure:"base_url"`
	ConfirmationURL string        `mapstructure:"confirmation_url"`
	ReturnURL       string        `mapstructure:"return_url"`
	CancelURL       string        `mapstructure:"cancel_url"`
	CardReturnURL   string        `mapstructure:"card_return_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type NotificationConfig struct {
	Driver          string        `mapstructure:"driver"`
	HTTPURL         string        `mapstructure:"http_url"`
	KafkaBrokers    []string      `mapstructure:"kafka_brokers"`
	KafkaTopic      string        `mapstructure:"kafka_topic"`
	KafkaGroupID    string        `mapstructure:"kafka_group_id"`
	RunInServer     bool          `mapstructure:"run_in_server"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	OutboxNodeID    int64         `mapstructure:"outbox_node_id"`
	WebhookTimeout  time.Duration `mapstructure:"webhook_timeout"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Bancard.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("bancard config: %v", err))
	}

	if err := c.Notification.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("notification config: %v", err))
	}

	if err := c.Observability.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < 32 {
		return errors.New("access_token_secret must be at least 32 characters")
	}
	if len(c.RefreshTokenSecret) < 32 {
		return errors.New("refresh_token_secret must be at least 32 characters")
	}
	if c.AccessTokenDuration > 0 && c.AccessTokenDuration > time.Hour {
		return errors.New("access_token_duration must not exceed 1h")
	}
	if c.BCryptCost != 0 && (c.BCryptCost < 10 || c.BCryptCost > 15) {
		return errors.New("bcrypt_cost must be between 10 and 15")
	}
	return nil
}

// Validate mirrors the vPOS credential rules: 32 char public key, 40 char private key and a
// confirmation URL registered with the gateway.
func (c *BancardConfig) Validate() error {
	if len(c.PublicKey) != 32 {
		return errors.New("public_key must be 32 characters")
	}
	if len(c.PrivateKey) != 40 {
		return errors.New("private_key must be 40 characters")
	}
	if c.ConfirmationURL == "" {
		return errors.New("confirmation_url is required")
	}
	switch c.Environment {
	case "", "staging", "production":
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	return nil
}

func (c *NotificationConfig) Validate() error {
	switch c.Driver {
	case "", "log":
	case "http":
		if c.HTTPURL == "" {
			return errors.New("http_url is required for the http driver")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return errors.New("kafka_brokers and kafka_topic are required for the kafka driver")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.OutboxNodeID < 0 || c.OutboxNodeID > 1023 {
		return errors.New("outbox_node_id must be between 0 and 1023")
	}
	return nil
}

func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
}
