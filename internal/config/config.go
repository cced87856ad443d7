package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/garyjia/po-workflow/pkg/utils"
)

// EnvPrefix namespaces environment overrides, e.g. PO_SERVER_PORT
const EnvPrefix = "PO"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Email        EmailConfig        `mapstructure:"email"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds the routing rules and storage limits of the engine
type WorkflowConfig struct {
	// SmallAmountThreshold is a decimal string so amounts never pass through float64
	SmallAmountThreshold string        `mapstructure:"small_amount_threshold"`
	EmergencyKeywords    []string      `mapstructure:"emergency_keywords"`
	RepeatOrderWindow    time.Duration `mapstructure:"repeat_order_window"`
	StorageTimeout       time.Duration `mapstructure:"storage_timeout"`
	RetryAttempts        uint          `mapstructure:"retry_attempts"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

// Threshold returns the parsed small-amount threshold
func (w WorkflowConfig) Threshold() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(w.SmallAmountThreshold))
	if err != nil {
		return decimal.Zero, fmt.Errorf("workflow.small_amount_threshold: %w", err)
	}
	return d, nil
}

// EmailConfig holds outbound SMTP configuration. When disabled, sends are only logged.
type EmailConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	From     string        `mapstructure:"from"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationConfig holds event fan-out configuration
type NotificationConfig struct {
	ClientBuffer    int      `mapstructure:"client_buffer"`
	BroadcastBuffer int      `mapstructure:"broadcast_buffer"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	MaxInFlight     int      `mapstructure:"max_in_flight"`
}

// Load loads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/purchase_orders.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.small_amount_threshold", "100000")
	v.SetDefault("workflow.emergency_keywords", []string{"emergency", "urgent", "긴급"})
	v.SetDefault("workflow.repeat_order_window", 30*24*time.Hour)
	v.SetDefault("workflow.storage_timeout", 5*time.Second)
	v.SetDefault("workflow.retry_attempts", 3)
	v.SetDefault("workflow.retry_initial_interval", 50*time.Millisecond)
	v.SetDefault("workflow.retry_max_interval", 500*time.Millisecond)

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.timeout", 15*time.Second)

	// Notification defaults
	v.SetDefault("notification.client_buffer", 64)
	v.SetDefault("notification.broadcast_buffer", 256)
	v.SetDefault("notification.max_in_flight", 128)
	v.SetDefault("notification.allowed_origins", []string{})
}

// bindEnvVars binds credentials to their conventional variable names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"email.username": {"PO_EMAIL_USERNAME", "SMTP_USERNAME"},
		"email.password": {"PO_EMAIL_PASSWORD", "SMTP_PASSWORD"},
		"database.path":  {"PO_DATABASE_PATH", "DATABASE_PATH"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	threshold, err := c.Workflow.Threshold()
	if err != nil {
		return err
	}
	if threshold.IsNegative() {
		return fmt.Errorf("workflow.small_amount_threshold must not be negative")
	}
	if c.Workflow.RepeatOrderWindow < 0 {
		return fmt.Errorf("workflow.repeat_order_window must not be negative")
	}
	if c.Workflow.StorageTimeout <= 0 {
		return fmt.Errorf("workflow.storage_timeout must be positive")
	}

	if c.Email.Enabled {
		if c.Email.Host == "" {
			return fmt.Errorf("email.host is required when email is enabled")
		}
		if err := utils.ValidateEmail(c.Email.From); err != nil {
			return fmt.Errorf("email.from: %w", err)
		}
	}

	if c.Notification.ClientBuffer <= 0 {
		return fmt.Errorf("notification.client_buffer must be positive")
	}

	return nil
}
