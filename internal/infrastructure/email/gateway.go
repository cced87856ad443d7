// Package email sends purchase orders to vendors
package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPGateway delivers purchase orders over SMTP
type SMTPGateway struct {
	cfg    Config
	opts   []mail.Option
	send   sendFunc
	now    func() time.Time
	logger *zap.Logger
}

// NewSMTPGateway validates cfg and returns a gateway
func NewSMTPGateway(cfg Config, logger *zap.Logger) (*SMTPGateway, error) {
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", cfg.From, err)
	}
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if _, err := mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("invalid smtp settings: %w", err)
	}

	g := &SMTPGateway{cfg: cfg, opts: opts, now: time.Now, logger: logger}
	g.send = g.dialAndSend
	return g, nil
}

// SendPurchaseOrder emails order to vendor
func (g *SMTPGateway) SendPurchaseOrder(ctx context.Context, vendor *entity.Vendor, order *entity.Order) error {
	if !vendor.HasDeliverableEmail() {
		return fmt.Errorf("vendor has no email address")
	}

	msg, err := g.compose(vendor, order)
	if err != nil {
		return err
	}
	if err := g.send(ctx, msg); err != nil {
		g.logger.Error("Failed to send purchase order",
			zap.String("order_number", order.OrderNumber),
			zap.Int64("vendor_id", vendor.ID),
			zap.Error(err))
		return fmt.Errorf("failed to send purchase order %s: %w", order.OrderNumber, err)
	}

	g.logger.Info("Purchase order sent",
		zap.String("order_number", order.OrderNumber),
		zap.String("to", vendor.Email))
	return nil
}

func (g *SMTPGateway) compose(vendor *entity.Vendor, order *entity.Order) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(g.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", g.cfg.From, err)
	}
	if err := msg.AddToFormat(vendor.Name, vendor.Email); err != nil {
		return nil, fmt.Errorf("invalid vendor email %q: %w", vendor.Email, err)
	}
	msg.Subject(fmt.Sprintf("Purchase Order %s", order.OrderNumber))
	msg.SetDateWithValue(g.now())
	msg.SetMessageID()

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", nameOr(vendor.Name, "supplier"))
	b.WriteString("Please find our purchase order below.\n\n")
	fmt.Fprintf(&b, "Order number: %s\n", order.OrderNumber)
	fmt.Fprintf(&b, "Order date:   %s\n", order.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Total amount: %s\n", order.TotalAmount.StringFixed(0))
	if order.Notes != "" {
		b.WriteString("\nNotes:\n")
		b.WriteString(order.Notes)
		b.WriteString("\n")
	}
	b.WriteString("\nPlease confirm receipt and the expected delivery date by replying to this email.\n")
	msg.SetBodyString(mail.TypeTextPlain, b.String())
	return msg, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// dialAndSend runs one SMTP session bounded by ctx and the configured timeout
func (g *SMTPGateway) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(g.cfg.Host, g.opts...)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return client.DialAndSendWithContext(ctx, msg)
}

// LogGateway records purchase orders instead of sending them; used when email is disabled
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway creates a new log-only gateway
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// SendPurchaseOrder logs the order that would have been sent
func (g *LogGateway) SendPurchaseOrder(_ context.Context, vendor *entity.Vendor, order *entity.Order) error {
	if !vendor.HasDeliverableEmail() {
		return fmt.Errorf("vendor has no email address")
	}
	g.logger.Info("Email disabled; purchase order not sent",
		zap.String("order_number", order.OrderNumber),
		zap.String("to", vendor.Email),
		zap.String("total_amount", order.TotalAmount.String()))
	return nil
}

var (
	_ port.EmailGateway = (*SMTPGateway)(nil)
	_ port.EmailGateway = (*LogGateway)(nil)
)
