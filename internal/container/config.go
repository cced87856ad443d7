// Package container provides dependency injection and lifecycle management
// for the purchase-order workflow service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/po-workflow/internal/application/autoapproval"
	"github.com/garyjia/po-workflow/internal/infrastructure/email"
	"github.com/garyjia/po-workflow/internal/infrastructure/notification"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
	"github.com/garyjia/po-workflow/pkg/database"
)

// Config holds all configuration for the Container.
type Config struct {
	Database     database.Config
	Workflow     WorkflowConfig
	Email        EmailConfig
	Notification NotificationConfig
}

// WorkflowConfig holds engine tuning.
type WorkflowConfig struct {
	AutoApproval autoapproval.Config

	// StorageTimeout bounds each storage call the engine makes
	StorageTimeout time.Duration

	Retry retry.Config
}

// EmailConfig selects the outbound gateway. Disabled means sends are logged only.
type EmailConfig struct {
	Enabled bool
	SMTP    email.Config
}

// NotificationConfig holds event fan-out settings.
type NotificationConfig struct {
	Hub notification.HubConfig

	// MaxInFlight caps concurrent async dispatches; zero is unbounded
	MaxInFlight int
}

// DefaultConfig returns a configuration backed by a private in-memory database.
func DefaultConfig() *Config {
	return &Config{
		Database: database.Config{Path: database.MemoryPath},
		Workflow: WorkflowConfig{
			AutoApproval:   autoapproval.DefaultConfig(),
			StorageTimeout: 5 * time.Second,
			Retry:          retry.DefaultConfig(),
		},
		Notification: NotificationConfig{
			Hub:         notification.HubConfig{ClientBuffer: 64, BroadcastBuffer: 256},
			MaxInFlight: 128,
		},
	}
}

// Validate checks the values the container cannot start without.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Workflow.AutoApproval.SmallAmountThreshold.IsNegative() {
		return fmt.Errorf("small amount threshold must not be negative")
	}
	if c.Workflow.StorageTimeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}
	if c.Email.Enabled && c.Email.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required when email is enabled")
	}
	return nil
}
