package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
)

// UserRepository implements port.UserRepository
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Save inserts or updates a user
func (r *UserRepository) Save(ctx context.Context, u *entity.User) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, is_active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email,
			role = excluded.role, is_active = excluded.is_active`,
		u.ID, u.Name, u.Email, u.Role, u.IsActive,
	)
	if err != nil {
		r.logger.Error("Failed to save user", zap.String("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the user does not exist
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, "get user", `SELECT id, name, email, role, is_active FROM users WHERE id = ?`, id)
}

// FindActiveByRole returns the earliest registered active user in role
func (r *UserRepository) FindActiveByRole(ctx context.Context, role string) (*entity.User, error) {
	return r.getOne(ctx, "find user by role", `
		SELECT id, name, email, role, is_active FROM users
		WHERE role = ? AND is_active = 1
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`, role)
}

func (r *UserRepository) getOne(ctx context.Context, op, query string, arg interface{}) (*entity.User, error) {
	var u entity.User
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("User query failed", zap.String("op", op), zap.Any("arg", arg), zap.Error(err))
		return nil, retry.Classify(op, fmt.Errorf("failed to %s: %w", op, err))
	}
	return &u, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
