// Package retry provides the bounded read-retry policy used by the workflow engine
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// Config bounds retries
type Config struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultConfig returns a short policy suited to sqlite lock contention
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsed:      2 * time.Second,
	}
}

// Retrier retries transient failures with exponential backoff
type Retrier struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Retrier; a zero MaxAttempts means a single attempt
func New(cfg Config, logger *zap.Logger) *Retrier {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{cfg: cfg, logger: logger}
}

// Do runs fn until it succeeds, fails permanently or the policy is exhausted.
// Only errors recognised by domainwf.IsTransient are retried.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("Retrying after transient error",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	}
	if r.cfg.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.cfg.MaxElapsed))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && !domainwf.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// Classify wraps err in a TransientError when a retry could succeed:
// sqlite busy or locked, an expired per-call deadline or a dropped connection.
func Classify(op string, err error) error {
	if err == nil || domainwf.IsTransient(err) {
		return err
	}

	var sqliteErr sqlite3.Error
	switch {
	case errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked):
	case errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, driver.ErrBadConn):
	default:
		return err
	}
	return &domainwf.TransientError{Op: op, Err: err}
}

var _ port.Retrier = (*Retrier)(nil)
