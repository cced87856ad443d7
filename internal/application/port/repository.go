package port

import (
	"context"
	"time"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// OrderRepository defines persistence operations for Order
type OrderRepository interface {
	// Create inserts a new order and assigns its ID
	Create(ctx context.Context, order *entity.Order) error

	// GetByID returns nil, nil when the order does not exist
	GetByID(ctx context.Context, id int64) (*entity.Order, error)

	// CompareAndSwap writes order only if the stored compound state still equals expected.
	// It reports false when no row matched.
	CompareAndSwap(ctx context.Context, expected domainwf.State, order *entity.Order) (bool, error)

	// HasDeliveredForVendorSince reports whether another order for the vendor was delivered at or after since
	HasDeliveredForVendorSince(ctx context.Context, vendorID int64, since time.Time, excludeOrderID int64) (bool, error)
}

// AuthorityRepository defines read access to role approval authorities
type AuthorityRepository interface {
	// GetActiveByRole returns nil, nil when the role has no active authority
	GetActiveByRole(ctx context.Context, role string) (*entity.ApprovalAuthority, error)

	// ListActive returns active authorities ordered by MaxAmount ascending
	ListActive(ctx context.Context) ([]*entity.ApprovalAuthority, error)
}

// UserRepository defines read access to users
type UserRepository interface {
	// GetByID returns nil, nil when the user does not exist
	GetByID(ctx context.Context, id string) (*entity.User, error)

	// FindActiveByRole returns the first active user holding role, or nil, nil
	FindActiveByRole(ctx context.Context, role string) (*entity.User, error)
}

// VendorRepository defines read access to vendors
type VendorRepository interface {
	// GetByID returns nil, nil when the vendor does not exist
	GetByID(ctx context.Context, id int64) (*entity.Vendor, error)
}

// HistoryRepository persists the append-only order history
type HistoryRepository interface {
	Append(ctx context.Context, entry *entity.HistoryEntry) error
	ListByOrder(ctx context.Context, orderID int64) ([]*entity.HistoryEntry, error)
}

// OrderNumberGenerator issues human-readable order numbers
type OrderNumberGenerator interface {
	Next(ctx context.Context, at time.Time) (string, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
