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

// VendorRepository implements port.VendorRepository
type VendorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVendorRepository creates a new vendor repository
func NewVendorRepository(db *sql.DB, logger *zap.Logger) *VendorRepository {
	return &VendorRepository{db: db, logger: logger}
}

// Create inserts a vendor and assigns its ID
func (r *VendorRepository) Create(ctx context.Context, v *entity.Vendor) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO vendors (name, email) VALUES (?, ?)`, v.Name, v.Email)
	if err != nil {
		r.logger.Error("Failed to create vendor", zap.String("name", v.Name), zap.Error(err))
		return fmt.Errorf("failed to create vendor: %w", err)
	}
	v.ID, err = result.LastInsertId()
	return err
}

// GetByID returns nil, nil when the vendor does not exist
func (r *VendorRepository) GetByID(ctx context.Context, id int64) (*entity.Vendor, error) {
	var v entity.Vendor
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, email FROM vendors WHERE id = ?`, id,
	).Scan(&v.ID, &v.Name, &v.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get vendor", zap.Int64("id", id), zap.Error(err))
		return nil, retry.Classify("get vendor", fmt.Errorf("failed to get vendor: %w", err))
	}
	return &v, nil
}

var _ port.VendorRepository = (*VendorRepository)(nil)
