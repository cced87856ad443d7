package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalAuthority is the approval ceiling configured for a role
type ApprovalAuthority struct {
	ID                 int64            `json:"id"`
	Role               string           `json:"role"`
	MaxAmount          decimal.Decimal  `json:"max_amount"`
	CanDirectApprove   bool             `json:"can_direct_approve"`
	DirectApproveLimit *decimal.Decimal `json:"direct_approve_limit,omitempty"`
	Description        string           `json:"description,omitempty"`
	IsActive           bool             `json:"is_active"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// User is an actor that can create or approve orders
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Vendor receives purchase orders
type Vendor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// HasDeliverableEmail reports whether orders can be emailed to the vendor
func (v *Vendor) HasDeliverableEmail() bool {
	return v != nil && v.Email != ""
}
