package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
)

// AuthorityRepository implements port.AuthorityRepository
type AuthorityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuthorityRepository creates a new authority repository
func NewAuthorityRepository(db *sql.DB, logger *zap.Logger) *AuthorityRepository {
	return &AuthorityRepository{db: db, logger: logger}
}

const selectAuthority = `
	SELECT id, role, max_amount, can_direct_approve, direct_approve_limit,
		description, is_active, created_at, updated_at
	FROM approval_authorities
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuthority(s rowScanner) (*entity.ApprovalAuthority, error) {
	var (
		a     entity.ApprovalAuthority
		limit decimal.NullDecimal
	)
	if err := s.Scan(&a.ID, &a.Role, &a.MaxAmount, &a.CanDirectApprove, &limit,
		&a.Description, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if limit.Valid {
		a.DirectApproveLimit = &limit.Decimal
	}
	return &a, nil
}

// GetActiveByRole returns nil, nil when the role has no active authority
func (r *AuthorityRepository) GetActiveByRole(ctx context.Context, role string) (*entity.ApprovalAuthority, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, selectAuthority+" WHERE role = ? AND is_active = 1", role)
	auth, err := scanAuthority(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get authority by role", zap.String("role", role), zap.Error(err))
		return nil, retry.Classify("get authority", fmt.Errorf("failed to get authority: %w", err))
	}
	return auth, nil
}

// ListActive returns active authorities ordered by MaxAmount ascending
func (r *AuthorityRepository) ListActive(ctx context.Context) ([]*entity.ApprovalAuthority, error) {
	// amounts are TEXT so the numeric order needs a cast
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx,
		selectAuthority+" WHERE is_active = 1 ORDER BY CAST(max_amount AS REAL) ASC, id ASC")
	if err != nil {
		r.logger.Error("Failed to list authorities", zap.Error(err))
		return nil, retry.Classify("list authorities", fmt.Errorf("failed to list authorities: %w", err))
	}
	defer rows.Close()

	var out []*entity.ApprovalAuthority
	for rows.Next() {
		auth, err := scanAuthority(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authority: %w", err)
		}
		out = append(out, auth)
	}
	return out, rows.Err()
}

// Upsert replaces the active authority for a role
func (r *AuthorityRepository) Upsert(ctx context.Context, a *entity.ApprovalAuthority) error {
	var limit interface{}
	if a.DirectApproveLimit != nil {
		limit = a.DirectApproveLimit.String()
	}

	exec := sqlite.ExecutorFor(ctx, r.db)
	if _, err := exec.ExecContext(ctx,
		`UPDATE approval_authorities SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE role = ? AND is_active = 1`,
		a.Role); err != nil {
		return fmt.Errorf("failed to retire authority for %s: %w", a.Role, err)
	}
	if !a.IsActive {
		return nil
	}

	result, err := exec.ExecContext(ctx, `
		INSERT INTO approval_authorities (role, max_amount, can_direct_approve, direct_approve_limit, description, is_active)
		VALUES (?, ?, ?, ?, ?, 1)`,
		a.Role, a.MaxAmount.String(), a.CanDirectApprove, limit, a.Description,
	)
	if err != nil {
		r.logger.Error("Failed to upsert authority", zap.String("role", a.Role), zap.Error(err))
		return fmt.Errorf("failed to upsert authority: %w", err)
	}
	a.ID, err = result.LastInsertId()
	return err
}

var _ port.AuthorityRepository = (*AuthorityRepository)(nil)
