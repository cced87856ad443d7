package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/authority"
	"github.com/garyjia/po-workflow/internal/application/autoapproval"
	"github.com/garyjia/po-workflow/internal/application/history"
	"github.com/garyjia/po-workflow/internal/application/orderstate"
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

// Dependencies are the collaborators the engine cannot run without
type Dependencies struct {
	Orders    port.OrderRepository
	Users     port.UserRepository
	Vendors   port.VendorRepository
	Numbers   port.OrderNumberGenerator
	Tx        port.TransactionManager
	Store     *orderstate.Store
	Ledger    *history.Ledger
	Authority *authority.Resolver
	Policy    *autoapproval.Policy
	Sink      port.NotificationSink
	Email     port.EmailGateway
	Clock     port.Clock
	Logger    Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.Orders == nil, d.Users == nil, d.Vendors == nil, d.Numbers == nil:
		return errors.New("workflow engine: repositories are required")
	case d.Tx == nil:
		return errors.New("workflow engine: transaction manager is required")
	case d.Store == nil, d.Ledger == nil, d.Authority == nil, d.Policy == nil:
		return errors.New("workflow engine: store, ledger, authority and policy are required")
	case d.Sink == nil, d.Email == nil, d.Clock == nil, d.Logger == nil:
		return errors.New("workflow engine: sink, email gateway, clock and logger are required")
	}
	return nil
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	Dependencies
	retrier port.Retrier
	timeout time.Duration
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithRetrier sets the retry policy for reads
func WithRetrier(r port.Retrier) EngineOption {
	return func(e *engineImpl) {
		e.retrier = r
	}
}

// WithStorageTimeout bounds each storage call made directly by the engine
func WithStorageTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.timeout = d
	}
}

// NewEngine creates a new workflow engine
func NewEngine(deps Dependencies, opts ...EngineOption) (WorkflowEngine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	e := &engineImpl{
		Dependencies: deps,
		retrier:      noRetry{},
		timeout:      5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type noRetry struct{}

func (noRetry) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (e *engineImpl) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *engineImpl) loadOrder(ctx context.Context, orderID int64) (*entity.Order, error) {
	var order *entity.Order
	err := e.retrier.Do(ctx, "load order", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		order, err = e.Store.Load(ctx, orderID)
		return err
	})
	return order, err
}

func (e *engineImpl) loadUser(ctx context.Context, userID string) (*entity.User, error) {
	var user *entity.User
	err := e.retrier.Do(ctx, "load user", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		user, err = e.Users.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load user %q: %w", userID, err)
	}
	if user == nil || !user.IsActive {
		return nil, &domainwf.UserNotFoundError{UserID: userID}
	}
	return user, nil
}

func (e *engineImpl) loadVendor(ctx context.Context, vendorID int64) (*entity.Vendor, error) {
	var vendor *entity.Vendor
	err := e.retrier.Do(ctx, "load vendor", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		vendor, err = e.Vendors.GetByID(ctx, vendorID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load vendor %d: %w", vendorID, err)
	}
	return vendor, nil
}

// CreateOrder numbers and stores a draft, then runs its first workflow step
func (e *engineImpl) CreateOrder(ctx context.Context, input NewOrder, actorID string) (*Result, error) {
	if input.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("total amount must be non-negative, got %s", input.TotalAmount)
	}
	if input.Origin != "" && input.Origin != entity.OriginManual && input.Origin != entity.OriginExcelImport {
		return nil, fmt.Errorf("unknown order origin %q", input.Origin)
	}
	if _, err := e.loadUser(ctx, actorID); err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	order := entity.NewDraftOrder(input.VendorID, actorID, input.TotalAmount, input.Notes, input.Origin, now)

	// The number is only consumed when the insert commits with it.
	wctx, cancel := e.bounded(ctx)
	err := e.Tx.WithTransaction(wctx, func(txCtx context.Context) error {
		number, err := e.Numbers.Next(txCtx, now)
		if err != nil {
			return fmt.Errorf("generate order number: %w", err)
		}
		order.OrderNumber = number
		if err := e.Orders.Create(txCtx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
	cancel()
	if err != nil {
		e.Logger.Error("Failed to create order", "vendor_id", input.VendorID, "created_by", actorID, "error", err)
		return nil, err
	}

	e.Logger.Info("Order created", "order_id", order.ID, "order_number", order.OrderNumber, "created_by", actorID)

	res := &Result{Order: order}
	e.afterCommit(ctx, res, committed{
		order:     order,
		to:        domainwf.InitialState,
		actor:     actorID,
		entryType: entity.HistoryOrderCreated,
	})

	next, err := e.route(ctx, order, actorID)
	if err != nil {
		// The draft is stored; routing can be retried with ProcessNextStep.
		e.Logger.Warn("Order created but routing failed", "order_id", order.ID, "error", err)
		res.warn(fmt.Sprintf("order stored as draft; routing failed: %v", err))
		return res, nil
	}
	res.merge(next)
	return res, nil
}

// ProcessNextStep advances the order by whatever step its current state calls for
func (e *engineImpl) ProcessNextStep(ctx context.Context, orderID int64, actorID string) (*Result, error) {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch state := domainwf.StateOf(order); state {
	case domainwf.StateDraft, domainwf.StateDraftRejected:
		return e.route(ctx, order, actorID)
	case domainwf.StateApproved, domainwf.StateCreatedNoApprove:
		return e.sendIfReady(ctx, order, actorID)
	default:
		// Pending orders wait on an approver and sent orders on delivery; delivered orders on nothing.
		awaiting := domainwf.TriggersFrom(state)
		e.Logger.Info("No workflow step to take",
			"order_id", orderID,
			"state", state.String(),
			"terminal", state.IsTerminal(),
			"awaiting", awaiting,
		)
		return &Result{Order: order, Awaiting: awaiting}, nil
	}
}

// route decides the approval path for a draft and, when no approval is needed, sends it
func (e *engineImpl) route(ctx context.Context, order *entity.Order, actorID string) (*Result, error) {
	actor, err := e.loadUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var check *authority.Check
	err = e.retrier.Do(ctx, "check authority", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		check, err = e.Authority.CheckAuthority(ctx, actor, order.TotalAmount)
		return err
	})
	if err != nil {
		return nil, err
	}

	if check.CanDirectApprove {
		return e.transitionThenSend(ctx, order, orderstate.DirectApprove(actorID), entity.HistoryDirectApproved, actorID)
	}

	var decision autoapproval.Decision
	err = e.retrier.Do(ctx, "check auto-approval", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		decision, err = e.Policy.CheckAutoApproval(ctx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	if decision.ShouldAutoApprove {
		return e.transitionThenSend(ctx, order, orderstate.AutoApprove(decision.Reason), entity.HistoryAutoApproved, actorID)
	}

	if !check.HasApprover() {
		e.Logger.Warn("Order needs approval but no approver is available",
			"order_id", order.ID,
			"amount", order.TotalAmount.String(),
		)
		res := &Result{Order: order}
		res.warn(domainwf.ErrNoApproverAvailable.Error())
		return res, nil
	}

	return e.transition(ctx, order, orderstate.RequestApproval(actorID, check.NextApproverID), entity.HistoryApprovalRequested)
}

func (e *engineImpl) transitionThenSend(ctx context.Context, order *entity.Order, change orderstate.Change, entryType, actorID string) (*Result, error) {
	res, err := e.transition(ctx, order, change, entryType)
	if err != nil {
		return nil, err
	}
	e.followWithSend(ctx, res, actorID)
	return res, nil
}

// followWithSend attempts the send step after a committed transition; failures become warnings
func (e *engineImpl) followWithSend(ctx context.Context, res *Result, actorID string) {
	next, err := e.sendIfReady(ctx, res.Order, actorID)
	if err != nil {
		e.Logger.Warn("Send after transition failed", "order_id", res.Order.ID, "error", err)
		res.warn(fmt.Sprintf("order not sent: %v", err))
		return
	}
	res.merge(next)
}

// sendIfReady emails the order and marks it sent when its vendor has an address
func (e *engineImpl) sendIfReady(ctx context.Context, order *entity.Order, actorID string) (*Result, error) {
	res := &Result{Order: order}

	vendor, err := e.loadVendor(ctx, order.VendorID)
	if err != nil {
		return nil, err
	}
	if !vendor.HasDeliverableEmail() {
		e.Logger.Info("Order held: vendor has no email address", "order_id", order.ID, "vendor_id", order.VendorID)
		res.warn(fmt.Sprintf("vendor %d has no email address; order not sent", order.VendorID))
		return res, nil
	}

	if err := e.Email.SendPurchaseOrder(ctx, vendor, order); err != nil {
		e.Logger.Warn("Purchase order email failed",
			"order_id", order.ID,
			"vendor_id", vendor.ID,
			"error", err,
		)
		res.warn(fmt.Sprintf("email to vendor failed: %v", err))
		return res, nil
	}

	actor := actorID
	if actor == "" {
		actor = entity.ActorSystem
	}
	return e.transition(ctx, order, orderstate.Send(actor), entity.HistorySent)
}

// ProcessApproval applies an approver's decision to a pending order
func (e *engineImpl) ProcessApproval(ctx context.Context, orderID int64, approverID string, decision Decision, comments string) (*Result, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, fmt.Errorf("unknown approval decision %q", decision)
	}
	if _, err := e.loadUser(ctx, approverID); err != nil {
		return nil, err
	}

	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !domainwf.Permits(domainwf.StateOf(order), domainwf.TriggerApprove) {
		return nil, &domainwf.NotPendingError{OrderID: orderID, Actual: domainwf.StateOf(order)}
	}

	if decision == DecisionRejected {
		return e.transition(ctx, order, orderstate.Reject(approverID, comments), entity.HistoryRejected, "comments", comments)
	}

	res, err := e.transition(ctx, order, orderstate.Approve(approverID), entity.HistoryApproved, "comments", comments)
	if err != nil {
		return nil, err
	}
	e.followWithSend(ctx, res, approverID)
	return res, nil
}

// ConfirmDelivery records receipt of a sent order
func (e *engineImpl) ConfirmDelivery(ctx context.Context, orderID int64, actorID string, meta orderstate.DeliveryMetadata) (*Result, error) {
	if _, err := e.loadUser(ctx, actorID); err != nil {
		return nil, err
	}

	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !domainwf.Permits(domainwf.StateOf(order), domainwf.TriggerConfirmDelivery) {
		return nil, &domainwf.InvalidStateError{
			OrderID:  orderID,
			Actual:   domainwf.StateOf(order),
			Required: string(entity.OrderStatusSent),
		}
	}

	fields := []interface{}{"received_by", meta.ReceivedBy}
	if meta.Notes != "" {
		fields = append(fields, "delivery_notes", meta.Notes)
	}
	return e.transition(ctx, order, orderstate.ConfirmDelivery(actorID, meta), entity.HistoryDeliveryConfirmed, fields...)
}

// TrackWorkflowProgress returns a read-only progress view of the order
func (e *engineImpl) TrackWorkflowProgress(ctx context.Context, orderID int64) (*WorkflowStatus, error) {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var cursor *history.Cursor
	err = e.retrier.Do(ctx, "list history", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		cursor, err = e.Ledger.ListByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	state := domainwf.StateOf(order)
	entries := cursor.All()
	replayed, replayErr := history.Replay(entries)
	consistent := replayErr == nil && replayed == state
	if !consistent {
		e.Logger.Warn("History does not replay to stored state",
			"order_id", orderID,
			"stored", state.String(),
			"replayed", replayed.String(),
			"error", replayErr,
		)
	}

	return &WorkflowStatus{
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		OrderStatus:       order.OrderStatus,
		ApprovalStatus:    order.ApprovalStatus(),
		BypassReason:      order.BypassReason(),
		NextApproverID:    order.NextApproverID(),
		Step:              history.StepFor(state, e.Clock.Now()),
		AllowedActions:    domainwf.TriggersFrom(state),
		History:           entries,
		HistoryConsistent: consistent,
	}, nil
}

// CheckAuthority reports how an amount would be routed for a user
func (e *engineImpl) CheckAuthority(ctx context.Context, userID string, amount decimal.Decimal) (*AuthorityReport, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &AuthorityReport{UserID: userID, Amount: amount}
	err = e.retrier.Do(ctx, "check authority", func(ctx context.Context) error {
		ctx, cancel := e.bounded(ctx)
		defer cancel()
		var err error
		if report.Check, err = e.Authority.CheckAuthority(ctx, user, amount); err != nil {
			return err
		}
		report.RequiredApprovers, err = e.Authority.RequiredApprovers(ctx, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Verify interface compliance
var _ WorkflowEngine = (*engineImpl)(nil)
