package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Check classifies the approval path an order amount needs for a given user
type Check struct {
	CanDirectApprove   bool             `json:"can_direct_approve"`
	DirectApproveLimit *decimal.Decimal `json:"direct_approve_limit,omitempty"`
	RequiresApproval   bool             `json:"requires_approval"`
	// NextApproverID is empty when approval is required but nobody can give it
	NextApproverID string              `json:"next_approver_id,omitempty"`
	BypassReason   entity.BypassReason `json:"bypass_reason,omitempty"`
}

// HasApprover reports whether a pending approval would have someone to route to
func (c *Check) HasApprover() bool {
	return c.NextApproverID != ""
}

// Approver is one level of the approval chain for an amount
type Approver struct {
	Level            int             `json:"level"`
	UserID           string          `json:"user_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Role             string          `json:"role"`
	CanDirectApprove bool            `json:"can_direct_approve"`
	ApprovalLimit    decimal.Decimal `json:"approval_limit"`
}

// Resolver decides who, if anyone, must approve an amount
type Resolver struct {
	authorities port.AuthorityRepository
	users       port.UserRepository
	logger      Logger
}

// NewResolver creates a new authority resolver
func NewResolver(authorities port.AuthorityRepository, users port.UserRepository, logger Logger) *Resolver {
	return &Resolver{
		authorities: authorities,
		users:       users,
		logger:      logger,
	}
}

// CheckAuthority classifies amount against the standing authority of user's role
func (r *Resolver) CheckAuthority(ctx context.Context, user *entity.User, amount decimal.Decimal) (*Check, error) {
	if user == nil {
		return nil, errors.New("user is required")
	}

	auth, err := r.authorities.GetActiveByRole(ctx, user.Role)
	if err != nil {
		return nil, fmt.Errorf("load authority for role %s: %w", user.Role, err)
	}

	if auth == nil {
		return r.escalate(ctx, amount)
	}

	if auth.CanDirectApprove && auth.DirectApproveLimit != nil && amount.LessThanOrEqual(*auth.DirectApproveLimit) {
		limit := *auth.DirectApproveLimit
		return &Check{
			CanDirectApprove:   true,
			DirectApproveLimit: &limit,
			BypassReason:       entity.BypassDirectApproval,
		}, nil
	}

	// Within the role's ceiling the user approves their own order, but as a recorded step
	if amount.LessThanOrEqual(auth.MaxAmount) {
		return &Check{
			RequiresApproval: true,
			NextApproverID:   user.ID,
		}, nil
	}

	return r.escalate(ctx, amount)
}

func (r *Resolver) escalate(ctx context.Context, amount decimal.Decimal) (*Check, error) {
	approver, err := r.FindNextApprover(ctx, amount)
	if errors.Is(err, domainwf.ErrNoApproverAvailable) {
		r.logger.Warn("No approver available", "amount", amount.String())
		return &Check{RequiresApproval: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Check{
		RequiresApproval: true,
		NextApproverID:   approver.ID,
	}, nil
}

// FindNextApprover returns an active user from the least-privileged role able to approve amount,
// falling back to an executive. It returns ErrNoApproverAvailable when neither exists.
func (r *Resolver) FindNextApprover(ctx context.Context, amount decimal.Decimal) (*entity.User, error) {
	sufficient, err := r.sufficientAuthorities(ctx, amount)
	if err != nil {
		return nil, err
	}

	for _, auth := range sufficient {
		user, err := r.users.FindActiveByRole(ctx, auth.Role)
		if err != nil {
			return nil, fmt.Errorf("find approver in role %s: %w", auth.Role, err)
		}
		if user != nil {
			return user, nil
		}
	}

	executive, err := r.users.FindActiveByRole(ctx, entity.RoleExecutive)
	if err != nil {
		return nil, fmt.Errorf("find executive approver: %w", err)
	}
	if executive == nil {
		return nil, domainwf.ErrNoApproverAvailable
	}
	return executive, nil
}

// RequiredApprovers returns the authority chain for amount, one active user per role,
// stopping at the first role that may direct-approve it
func (r *Resolver) RequiredApprovers(ctx context.Context, amount decimal.Decimal) ([]Approver, error) {
	sufficient, err := r.sufficientAuthorities(ctx, amount)
	if err != nil {
		return nil, err
	}

	approvers := make([]Approver, 0, len(sufficient))
	for _, auth := range sufficient {
		user, err := r.users.FindActiveByRole(ctx, auth.Role)
		if err != nil {
			return nil, fmt.Errorf("find approver in role %s: %w", auth.Role, err)
		}
		if user == nil {
			continue
		}

		approvers = append(approvers, Approver{
			Level:            len(approvers) + 1,
			UserID:           user.ID,
			Name:             user.Name,
			Email:            user.Email,
			Role:             user.Role,
			CanDirectApprove: auth.CanDirectApprove,
			ApprovalLimit:    auth.MaxAmount,
		})

		if auth.CanDirectApprove && auth.DirectApproveLimit != nil && amount.LessThanOrEqual(*auth.DirectApproveLimit) {
			break
		}
	}
	return approvers, nil
}

// sufficientAuthorities returns active authorities whose ceiling covers amount, smallest first
func (r *Resolver) sufficientAuthorities(ctx context.Context, amount decimal.Decimal) ([]*entity.ApprovalAuthority, error) {
	all, err := r.authorities.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list authorities: %w", err)
	}

	out := make([]*entity.ApprovalAuthority, 0, len(all))
	for _, auth := range all {
		if auth.IsActive && auth.MaxAmount.GreaterThanOrEqual(amount) {
			out = append(out, auth)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MaxAmount.LessThan(out[j].MaxAmount)
	})
	return out, nil
}
