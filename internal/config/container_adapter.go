package config

import (
	"github.com/garyjia/po-workflow/internal/application/autoapproval"
	"github.com/garyjia/po-workflow/internal/container"
	"github.com/garyjia/po-workflow/internal/infrastructure/email"
	"github.com/garyjia/po-workflow/internal/infrastructure/notification"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
	"github.com/garyjia/po-workflow/pkg/database"
)

// ToContainerConfig converts the file-based configuration into the
// container's wiring configuration. Validate must have succeeded first.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	threshold, err := c.Workflow.Threshold()
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	if c.Workflow.RetryAttempts > 0 {
		retryCfg.MaxAttempts = c.Workflow.RetryAttempts
	}
	if c.Workflow.RetryInitialInterval > 0 {
		retryCfg.InitialInterval = c.Workflow.RetryInitialInterval
	}
	if c.Workflow.RetryMaxInterval > 0 {
		retryCfg.MaxInterval = c.Workflow.RetryMaxInterval
	}

	return &container.Config{
		Database: database.Config{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Workflow: container.WorkflowConfig{
			AutoApproval: autoapproval.Config{
				SmallAmountThreshold: threshold,
				EmergencyKeywords:    c.Workflow.EmergencyKeywords,
				RepeatOrderWindow:    c.Workflow.RepeatOrderWindow,
			},
			StorageTimeout: c.Workflow.StorageTimeout,
			Retry:          retryCfg,
		},
		Email: container.EmailConfig{
			Enabled: c.Email.Enabled,
			SMTP: email.Config{
				Host:     c.Email.Host,
				Port:     c.Email.Port,
				From:     c.Email.From,
				Username: c.Email.Username,
				Password: c.Email.Password,
				Timeout:  c.Email.Timeout,
			},
		},
		Notification: container.NotificationConfig{
			Hub: notification.HubConfig{
				ClientBuffer:    c.Notification.ClientBuffer,
				BroadcastBuffer: c.Notification.BroadcastBuffer,
				AllowedOrigins:  c.Notification.AllowedOrigins,
			},
			MaxInFlight: c.Notification.MaxInFlight,
		},
	}, nil
}
