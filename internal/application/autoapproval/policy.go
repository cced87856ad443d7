package autoapproval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// Config holds the tunable auto-approval rules
type Config struct {
	SmallAmountThreshold decimal.Decimal
	EmergencyKeywords    []string
	// RepeatOrderWindow bounds how far back a delivered order counts; zero disables the rule
	RepeatOrderWindow time.Duration
}

// DefaultConfig returns the rule set used when nothing is configured
func DefaultConfig() Config {
	return Config{
		SmallAmountThreshold: decimal.NewFromInt(100000),
		EmergencyKeywords:    []string{"emergency", "urgent", "긴급"},
		RepeatOrderWindow:    30 * 24 * time.Hour,
	}
}

// Decision is the outcome of an auto-approval check
type Decision struct {
	ShouldAutoApprove bool
	Reason            entity.BypassReason
}

var noDecision = Decision{}

func approve(reason entity.BypassReason) Decision {
	return Decision{ShouldAutoApprove: true, Reason: reason}
}

// Policy evaluates bypass rules in fixed priority order
type Policy struct {
	cfg      Config
	keywords []string
	orders   port.OrderRepository
	clock    port.Clock
}

// NewPolicy creates a new auto-approval policy
func NewPolicy(cfg Config, orders port.OrderRepository, clock port.Clock) *Policy {
	keywords := make([]string, 0, len(cfg.EmergencyKeywords))
	for _, k := range cfg.EmergencyKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Policy{
		cfg:      cfg,
		keywords: keywords,
		orders:   orders,
		clock:    clock,
	}
}

// CheckAutoApproval returns the first matching bypass rule for order
func (p *Policy) CheckAutoApproval(ctx context.Context, order *entity.Order) (Decision, error) {
	if order.TotalAmount.LessThan(p.cfg.SmallAmountThreshold) {
		return approve(entity.BypassAmountThreshold), nil
	}

	if p.isEmergency(order.Notes) {
		return approve(entity.BypassEmergency), nil
	}

	if order.BypassReason() == entity.BypassExcelAutomation {
		return approve(entity.BypassExcelAutomation), nil
	}

	if p.cfg.RepeatOrderWindow > 0 && order.VendorID != 0 {
		since := p.clock.Now().Add(-p.cfg.RepeatOrderWindow)
		repeat, err := p.orders.HasDeliveredForVendorSince(ctx, order.VendorID, since, order.ID)
		if err != nil {
			return noDecision, fmt.Errorf("check repeat order for vendor %d: %w", order.VendorID, err)
		}
		if repeat {
			return approve(entity.BypassRepeatOrder), nil
		}
	}

	return noDecision, nil
}

func (p *Policy) isEmergency(notes string) bool {
	if notes == "" {
		return false
	}
	lower := strings.ToLower(notes)
	for _, k := range p.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
