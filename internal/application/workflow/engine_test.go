package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/po-workflow/internal/application/authority"
	"github.com/garyjia/po-workflow/internal/application/autoapproval"
	"github.com/garyjia/po-workflow/internal/application/history"
	"github.com/garyjia/po-workflow/internal/application/orderstate"
	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/application/port/porttest"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

var t0 = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

const (
	vendorWithEmail int64 = 1
	vendorNoEmail   int64 = 2
)

type mockEmailGateway struct {
	mock.Mock
}

func (m *mockEmailGateway) SendPurchaseOrder(ctx context.Context, vendor *entity.Vendor, order *entity.Order) error {
	args := m.Called(ctx, vendor, order)
	return args.Error(0)
}

type harness struct {
	engine  WorkflowEngine
	orders  port.OrderRepository
	mem     *porttest.Orders
	history *porttest.History
	sink    *porttest.Sink
	email   *mockEmailGateway
	clock   *porttest.Clock
}

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func limit(v int64) *decimal.Decimal {
	x := decimal.NewFromInt(v)
	return &x
}

type harnessOption func(*harness, *Dependencies)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		mem:     porttest.NewOrders(),
		history: &porttest.History{},
		sink:    &porttest.Sink{},
		email:   &mockEmailGateway{},
		clock:   porttest.NewClock(t0),
	}
	h.orders = h.mem

	auths := &porttest.Authorities{List: []*entity.ApprovalAuthority{
		{Role: entity.RoleFieldWorker, MaxAmount: amt(500_000), IsActive: true},
		{Role: entity.RoleProjectManager, MaxAmount: amt(1_000_000), CanDirectApprove: true, DirectApproveLimit: limit(300_000), IsActive: true},
		{Role: entity.RoleHQManagement, MaxAmount: amt(10_000_000), CanDirectApprove: true, DirectApproveLimit: limit(3_000_000), IsActive: true},
		{Role: entity.RoleExecutive, MaxAmount: amt(100_000_000), CanDirectApprove: true, DirectApproveLimit: limit(100_000_000), IsActive: true},
	}}
	users := &porttest.Users{List: []*entity.User{
		{ID: "fw-1", Name: "Field", Role: entity.RoleFieldWorker, IsActive: true},
		{ID: "pm-1", Name: "PM", Role: entity.RoleProjectManager, IsActive: true},
		{ID: "hq-1", Name: "HQ", Role: entity.RoleHQManagement, IsActive: true},
		{ID: "hq-2", Name: "HQ Deputy", Role: entity.RoleHQManagement, IsActive: true},
		{ID: "ex-1", Name: "Exec", Role: entity.RoleExecutive, IsActive: true},
	}}
	vendors := &porttest.Vendors{List: []*entity.Vendor{
		{ID: vendorWithEmail, Name: "Steel Co", Email: "orders@steel.example"},
		{ID: vendorNoEmail, Name: "Cash Supplier"},
	}}

	deps := Dependencies{
		Users:   users,
		Vendors: vendors,
		Numbers: &porttest.Numbers{},
		Tx:      porttest.TxManager{},
		Sink:    h.sink,
		Email:   h.email,
		Clock:   h.clock,
		Logger:  porttest.NopLogger{},
	}
	for _, opt := range opts {
		opt(h, &deps)
	}

	deps.Orders = h.orders
	deps.Store = orderstate.NewStore(h.orders, h.clock, porttest.NopLogger{})
	deps.Ledger = history.NewLedger(h.history, h.clock, time.Second)
	if deps.Authority == nil {
		deps.Authority = authority.NewResolver(auths, users, porttest.NopLogger{})
	}
	deps.Policy = autoapproval.NewPolicy(autoapproval.DefaultConfig(), h.orders, h.clock)

	engine, err := NewEngine(deps, WithStorageTimeout(time.Second))
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) create(t *testing.T, vendorID int64, amount int64, notes, actor string) *Result {
	t.Helper()
	res, err := h.engine.CreateOrder(context.Background(), NewOrder{VendorID: vendorID, TotalAmount: amt(amount), Notes: notes}, actor)
	require.NoError(t, err)
	return res
}

func (h *harness) stored(t *testing.T, id int64) *entity.Order {
	t.Helper()
	o, err := h.mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func eventTypes(events []*event.Event) []event.Type {
	out := make([]event.Type, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(Dependencies{})
	assert.Error(t, err)
}

func TestCreateOrder_SmallAmountAutoApproved(t *testing.T) {
	h := newHarness(t)

	res := h.create(t, vendorNoEmail, 50_000, "", "fw-1")

	o := res.Order
	assert.Equal(t, "PO-2025-00001", o.OrderNumber)
	assert.Equal(t, entity.OrderStatusCreated, o.OrderStatus)
	assert.Equal(t, entity.ApprovalNotRequired, o.ApprovalStatus())
	assert.Equal(t, entity.BypassAmountThreshold, o.BypassReason())
	assert.Equal(t, 1, res.Transitions)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Warnings, 1, "vendor without email keeps the order unsent")

	assert.Equal(t, domainwf.StateCreatedNoApprove, domainwf.StateOf(h.stored(t, o.ID)))
	assert.Equal(t, []event.Type{event.TypeOrderUpdated, event.TypeOrderUpdated}, eventTypes(h.sink.Events()))
	h.email.AssertNotCalled(t, "SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrder_AutoApprovedOrderIsSent(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.MatchedBy(func(v *entity.Vendor) bool { return v.ID == vendorWithEmail }), mock.Anything).Return(nil).Once()

	res := h.create(t, vendorWithEmail, 50_000, "", "fw-1")

	assert.Equal(t, domainwf.StateSent, domainwf.StateOf(res.Order))
	assert.Equal(t, entity.BypassAmountThreshold, res.Order.BypassReason())
	require.NotNil(t, res.Order.SentAt)
	assert.Equal(t, 2, res.Transitions)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Event)
	assert.Equal(t, event.TypeOrderSent, res.Event.Type)
	h.email.AssertExpectations(t)
}

func TestCreateOrder_LargeAmountEscalates(t *testing.T) {
	h := newHarness(t)

	res := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")

	o := res.Order
	assert.Equal(t, domainwf.StatePendingApproval, domainwf.StateOf(o))
	assert.Equal(t, "hq-1", o.NextApproverID())
	assert.Empty(t, o.BypassReason())
	require.NotNil(t, o.ApprovalRequestedAt)
	assert.Equal(t, event.TypeApprovalRequested, res.Event.Type)
	assert.Equal(t, "hq-1", res.Event.GetPayloadString("next_approver_id"))
}

func TestCreateOrder_DirectApproval(t *testing.T) {
	h := newHarness(t)

	res := h.create(t, vendorNoEmail, 200_000, "", "pm-1")

	assert.Equal(t, domainwf.StateCreatedNoApprove, domainwf.StateOf(res.Order))
	assert.Equal(t, entity.BypassDirectApproval, res.Order.BypassReason())
	assert.Equal(t, "pm-1", res.Order.ApprovedBy)
}

func TestCreateOrder_EmergencyNotesBypassApproval(t *testing.T) {
	h := newHarness(t)

	res := h.create(t, vendorNoEmail, 400_000, "긴급: crane hydraulic failure", "fw-1")

	assert.Equal(t, entity.BypassEmergency, res.Order.BypassReason())
}

func TestCreateOrder_SelfApprovalWithinCeiling(t *testing.T) {
	h := newHarness(t)

	res := h.create(t, vendorNoEmail, 400_000, "", "fw-1")

	assert.Equal(t, domainwf.StatePendingApproval, domainwf.StateOf(res.Order))
	assert.Equal(t, "fw-1", res.Order.NextApproverID())
}

func TestCreateOrder_NoApproverAvailable(t *testing.T) {
	h := newHarness(t, func(h *harness, d *Dependencies) {
		lonely := &porttest.Users{List: []*entity.User{{ID: "fw-1", Role: entity.RoleFieldWorker, IsActive: true}}}
		d.Users = lonely
		d.Authority = authority.NewResolver(&porttest.Authorities{}, lonely, porttest.NopLogger{})
	})

	res := h.create(t, vendorNoEmail, 900_000, "", "fw-1")

	assert.Equal(t, domainwf.StateDraft, domainwf.StateOf(res.Order))
	assert.Contains(t, res.Warnings, domainwf.ErrNoApproverAvailable.Error())
	assert.Equal(t, 0, res.Transitions)
}

func TestCreateOrder_ExcelImportPassthrough(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.CreateOrder(context.Background(), NewOrder{VendorID: vendorNoEmail, TotalAmount: amt(900_000), Origin: entity.OriginExcelImport}, "fw-1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCreatedNoApprove, domainwf.StateOf(res.Order))
	assert.Equal(t, entity.BypassExcelAutomation, res.Order.BypassReason())
}

func TestCreateOrder_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.CreateOrder(context.Background(), NewOrder{VendorID: 1, TotalAmount: amt(-1)}, "fw-1")
	assert.Error(t, err)

	_, err = h.engine.CreateOrder(context.Background(), NewOrder{VendorID: 1, TotalAmount: amt(1), Origin: "fax"}, "fw-1")
	assert.Error(t, err)

	_, err = h.engine.CreateOrder(context.Background(), NewOrder{VendorID: 1, TotalAmount: amt(1)}, "ghost")
	var notFound *domainwf.UserNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestProcessApproval_ApproveThenSend(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")

	h.clock.Advance(time.Hour)
	res, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", DecisionApproved, "ok")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateSent, domainwf.StateOf(res.Order))
	assert.Equal(t, "hq-1", res.Order.ApprovedBy)
	assert.Equal(t, 2, res.Transitions)

	types := eventTypes(h.sink.Events())
	assert.Equal(t, []event.Type{
		event.TypeOrderUpdated,
		event.TypeApprovalRequested,
		event.TypeOrderApproved,
		event.TypeOrderSent,
	}, types)
}

func TestProcessApproval_EmailFailureKeepsApproved(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp timeout"))
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")

	res, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", DecisionApproved, "")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateApproved, domainwf.StateOf(res.Order))
	assert.Equal(t, domainwf.StateApproved, domainwf.StateOf(h.stored(t, created.Order.ID)))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "smtp timeout")
}

func TestProcessApproval_Reject(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")

	res, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", DecisionRejected, "split into two orders")
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, entity.OrderStatusDraft, o.OrderStatus)
	assert.Equal(t, entity.ApprovalRejected, o.ApprovalStatus())
	assert.Empty(t, o.NextApproverID())
	assert.Equal(t, "split into two orders", o.RejectionReason())
	assert.Equal(t, event.TypeOrderRejected, res.Event.Type)
	h.email.AssertNotCalled(t, "SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessNextStep_ResubmitsRejectedDraft(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")
	_, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", DecisionRejected, "no")
	require.NoError(t, err)

	res, err := h.engine.ProcessNextStep(context.Background(), created.Order.ID, "pm-1")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StatePendingApproval, domainwf.StateOf(res.Order))
	assert.Empty(t, res.Order.RejectedBy)
	assert.Empty(t, res.Order.RejectionReason())
}

func TestProcessApproval_NotPending(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, vendorNoEmail, 50_000, "", "fw-1")

	_, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", DecisionApproved, "")
	var notPending *domainwf.NotPendingError
	require.True(t, errors.As(err, &notPending))
	assert.Equal(t, domainwf.StateCreatedNoApprove, notPending.Actual)
}

func TestProcessApproval_UnknownDecisionAndUsers(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")

	_, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", Decision("maybe"), "")
	assert.Error(t, err)

	_, err = h.engine.ProcessApproval(context.Background(), created.Order.ID, "nobody", DecisionApproved, "")
	var userErr *domainwf.UserNotFoundError
	assert.True(t, errors.As(err, &userErr))

	_, err = h.engine.ProcessApproval(context.Background(), 999, "hq-1", DecisionApproved, "")
	var orderErr *domainwf.OrderNotFoundError
	assert.True(t, errors.As(err, &orderErr))
}

// barrierOrders makes the first n GetByID calls wait for each other so racing callers read the same snapshot
type barrierOrders struct {
	*porttest.Orders
	calls   atomic.Int32
	n       int32
	arrived sync.WaitGroup
}

func newBarrierOrders(n int) *barrierOrders {
	b := &barrierOrders{Orders: porttest.NewOrders(), n: int32(n)}
	b.arrived.Add(n)
	return b
}

func (b *barrierOrders) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	o, err := b.Orders.GetByID(ctx, id)
	if b.calls.Add(1) <= b.n {
		b.arrived.Done()
		b.arrived.Wait()
	}
	return o, err
}

func TestProcessApproval_ConcurrentDecisions(t *testing.T) {
	barrier := newBarrierOrders(2)
	h := newHarness(t, func(h *harness, d *Dependencies) {
		h.mem = barrier.Orders
		h.orders = barrier
	})

	// seed a pending order directly so only the racing reads hit the barrier
	pending := entity.NewDraftOrder(vendorNoEmail, "pm-1", amt(5_000_000), "", entity.OriginManual, t0)
	pending.ID = 1
	pending.OrderNumber = "PO-2025-00001"
	pending.OrderStatus = entity.OrderStatusCreated
	pending.Gate = entity.GatePending{NextApproverID: "hq-1"}
	pending.ApprovalRequestedAt = &t0
	barrier.Put(pending)

	type outcome struct {
		res *Result
		err error
	}
	outcomes := make([]outcome, 2)
	var wg sync.WaitGroup
	decide := func(i int, approver string, d Decision) {
		defer wg.Done()
		res, err := h.engine.ProcessApproval(context.Background(), 1, approver, d, "")
		outcomes[i] = outcome{res, err}
	}
	wg.Add(2)
	go decide(0, "hq-1", DecisionApproved)
	go decide(1, "hq-2", DecisionRejected)
	wg.Wait()

	var winner *Result
	conflicts := 0
	for _, o := range outcomes {
		if o.err == nil {
			winner = o.res
			continue
		}
		var conflict *domainwf.ConflictError
		if assert.True(t, errors.As(o.err, &conflict), "unexpected error %v", o.err) {
			conflicts++
		}
	}
	require.NotNil(t, winner)
	assert.Equal(t, 1, conflicts)

	stored := h.stored(t, 1)
	assert.Equal(t, domainwf.StateOf(winner.Order), domainwf.StateOf(stored))
	if stored.ApprovalStatus() == entity.ApprovalApproved {
		assert.Equal(t, "hq-1", stored.ApprovedBy)
		assert.Empty(t, stored.RejectedBy)
	} else {
		assert.Equal(t, "hq-2", stored.RejectedBy)
		assert.Empty(t, stored.ApprovedBy)
	}
}

func TestConfirmDelivery(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	created := h.create(t, vendorWithEmail, 50_000, "rebar", "fw-1")
	require.Equal(t, domainwf.StateSent, domainwf.StateOf(created.Order))

	receivedAt := t0.Add(48 * time.Hour)
	res, err := h.engine.ConfirmDelivery(context.Background(), created.Order.ID, "fw-1", orderstate.DeliveryMetadata{
		Notes:       "one bundle damaged",
		DeliveredAt: &receivedAt,
		ReceivedBy:  "site-lead",
	})
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, domainwf.StateDelivered, domainwf.StateOf(o))
	assert.Equal(t, receivedAt, *o.DeliveredAt)
	assert.Equal(t, "site-lead", o.DeliveredBy)
	assert.Equal(t, "rebar\n[delivery] one bundle damaged", o.Notes)
	assert.Equal(t, event.TypeDeliveryConfirmed, res.Event.Type)
	assert.Equal(t, "site-lead", res.Event.GetPayloadString("received_by"))
}

func TestConfirmDelivery_NotSent(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, vendorNoEmail, 50_000, "", "fw-1")
	before := h.stored(t, created.Order.ID)
	eventsBefore := len(h.sink.Events())

	_, err := h.engine.ConfirmDelivery(context.Background(), created.Order.ID, "fw-1", orderstate.DeliveryMetadata{})

	var invalid *domainwf.InvalidStateError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, domainwf.StateCreatedNoApprove, invalid.Actual)
	assert.Equal(t, before, h.stored(t, created.Order.ID))
	assert.Len(t, h.sink.Events(), eventsBefore)
}

func TestProcessNextStep_NoOpStates(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")

	res, err := h.engine.ProcessNextStep(context.Background(), created.Order.ID, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Transitions)
	assert.Nil(t, res.Event)
	assert.Equal(t, []domainwf.Trigger{domainwf.TriggerApprove, domainwf.TriggerReject}, res.Awaiting)
	assert.Equal(t, domainwf.StatePendingApproval, domainwf.StateOf(h.stored(t, created.Order.ID)))
}

func TestProcessNextStep_DeliveredAwaitsNothing(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	created := h.create(t, vendorWithEmail, 50_000, "", "fw-1")

	res, err := h.engine.ProcessNextStep(context.Background(), created.Order.ID, "fw-1")
	require.NoError(t, err)
	assert.Equal(t, []domainwf.Trigger{domainwf.TriggerConfirmDelivery}, res.Awaiting)

	_, err = h.engine.ConfirmDelivery(context.Background(), created.Order.ID, "fw-1", orderstate.DeliveryMetadata{})
	require.NoError(t, err)

	res, err = h.engine.ProcessNextStep(context.Background(), created.Order.ID, "fw-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Transitions)
	assert.Empty(t, res.Awaiting)

	status, err := h.engine.TrackWorkflowProgress(context.Background(), created.Order.ID)
	require.NoError(t, err)
	assert.True(t, status.Step.Complete)
	assert.Empty(t, status.Step.NextStep)
	assert.Empty(t, status.AllowedActions)
}

func TestProcessNextStep_SendsHeldOrder(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("mailbox full")).Once()
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	created := h.create(t, vendorWithEmail, 50_000, "", "fw-1")
	require.Equal(t, domainwf.StateCreatedNoApprove, domainwf.StateOf(created.Order))

	res, err := h.engine.ProcessNextStep(context.Background(), created.Order.ID, "fw-1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateSent, domainwf.StateOf(res.Order))
	h.email.AssertNumberOfCalls(t, "SendPurchaseOrder", 2)
}

func TestHistoryFailureDegradesButCommits(t *testing.T) {
	h := newHarness(t)
	h.history.FailAppend = errors.New("history table locked")

	res := h.create(t, vendorNoEmail, 5_000_000, "", "pm-1")

	assert.True(t, res.Degraded)
	assert.Equal(t, domainwf.StatePendingApproval, domainwf.StateOf(h.stored(t, res.Order.ID)))
	assert.NotEmpty(t, res.Warnings)
	assert.Len(t, h.sink.Events(), 2, "notification still follows a degraded history write")
}

func TestNotifyFailureIsOnlyAWarning(t *testing.T) {
	h := newHarness(t)
	h.sink.Err = errors.New("dispatcher closed")

	res := h.create(t, vendorNoEmail, 5_000_000, "", "pm-1")

	assert.False(t, res.Degraded)
	assert.Equal(t, domainwf.StatePendingApproval, domainwf.StateOf(h.stored(t, res.Order.ID)))
	assert.Len(t, res.Warnings, 2)
}

func TestTrackWorkflowProgress(t *testing.T) {
	h := newHarness(t)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	created := h.create(t, vendorWithEmail, 5_000_000, "", "pm-1")
	h.clock.Advance(time.Hour)
	_, err := h.engine.ProcessApproval(context.Background(), created.Order.ID, "hq-1", DecisionApproved, "")
	require.NoError(t, err)

	status, err := h.engine.TrackWorkflowProgress(context.Background(), created.Order.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.OrderStatusSent, status.OrderStatus)
	assert.Equal(t, entity.ApprovalNotRequired, status.ApprovalStatus)
	assert.Equal(t, "Await delivery", status.Step.NextStep)
	assert.False(t, status.Step.Complete)
	assert.Equal(t, []domainwf.Trigger{domainwf.TriggerConfirmDelivery}, status.AllowedActions)
	require.NotNil(t, status.Step.EstimatedCompletion)
	assert.Equal(t, h.clock.Now().Add(7*24*time.Hour), *status.Step.EstimatedCompletion)
	assert.True(t, status.HistoryConsistent)

	var kinds []string
	for _, e := range status.History {
		kinds = append(kinds, e.EventType)
	}
	assert.Equal(t, []string{
		entity.HistoryOrderCreated,
		entity.HistoryApprovalRequested,
		entity.HistoryApproved,
		entity.HistorySent,
	}, kinds)
}

func TestTrackWorkflowProgress_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.TrackWorkflowProgress(context.Background(), 42)
	var notFound *domainwf.OrderNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestCheckAuthority_Report(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.CheckAuthority(context.Background(), "pm-1", amt(5_000_000))
	require.NoError(t, err)
	assert.True(t, report.Check.RequiresApproval)
	assert.Equal(t, "hq-1", report.Check.NextApproverID)
	require.Len(t, report.RequiredApprovers, 2)
	assert.Equal(t, "hq-1", report.RequiredApprovers[0].UserID)
	assert.Equal(t, "ex-1", report.RequiredApprovers[1].UserID, "chain stops at the first role able to direct-approve")
}

// countingRetrier retries transient failures a fixed number of times
type countingRetrier struct {
	attempts int
	calls    map[string]int
}

func (r *countingRetrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < r.attempts; i++ {
		r.calls[op]++
		if err = fn(ctx); err == nil || !domainwf.IsTransient(err) {
			return err
		}
	}
	return err
}

type flakyVendors struct {
	port.VendorRepository
	failures int
}

func (f *flakyVendors) GetByID(ctx context.Context, id int64) (*entity.Vendor, error) {
	if f.failures > 0 {
		f.failures--
		return nil, &domainwf.TransientError{Op: "vendor lookup", Err: errors.New("database is locked")}
	}
	return f.VendorRepository.GetByID(ctx, id)
}

func TestReadsAreRetriedOnTransientErrors(t *testing.T) {
	retrier := &countingRetrier{attempts: 3, calls: map[string]int{}}
	h := newHarness(t, func(h *harness, d *Dependencies) {
		d.Vendors = &flakyVendors{VendorRepository: d.Vendors, failures: 2}
	})
	engine, err := NewEngine(h.engine.(*engineImpl).Dependencies, WithRetrier(retrier))
	require.NoError(t, err)
	h.email.On("SendPurchaseOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := engine.CreateOrder(context.Background(), NewOrder{VendorID: vendorWithEmail, TotalAmount: amt(10)}, "fw-1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateSent, domainwf.StateOf(res.Order))
	assert.Equal(t, 3, retrier.calls["load vendor"])
}

type blockingAuthorities struct{}

func (blockingAuthorities) GetActiveByRole(ctx context.Context, role string) (*entity.ApprovalAuthority, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingAuthorities) ListActive(ctx context.Context) ([]*entity.ApprovalAuthority, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type blockingNumbers struct{}

func (blockingNumbers) Next(ctx context.Context, at time.Time) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type blockingDeliveries struct {
	port.OrderRepository
}

func (blockingDeliveries) HasDeliveredForVendorSince(ctx context.Context, vendorID int64, since time.Time, excludeOrderID int64) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

// shortTimeout rebuilds the harness engine with a storage timeout well below the caller's deadline
func (h *harness) shortTimeout(t *testing.T) WorkflowEngine {
	t.Helper()
	engine, err := NewEngine(h.engine.(*engineImpl).Dependencies, WithStorageTimeout(50*time.Millisecond))
	require.NoError(t, err)
	return engine
}

func callerContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStorageCallsAreBounded(t *testing.T) {
	t.Run("authority lookup while routing", func(t *testing.T) {
		h := newHarness(t, func(h *harness, d *Dependencies) {
			d.Authority = authority.NewResolver(blockingAuthorities{}, d.Users, porttest.NopLogger{})
		})
		engine := h.shortTimeout(t)

		start := time.Now()
		res, err := engine.CreateOrder(callerContext(t), NewOrder{VendorID: vendorWithEmail, TotalAmount: amt(50_000)}, "fw-1")
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, domainwf.StateDraft, domainwf.StateOf(h.stored(t, res.Order.ID)))
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "routing failed")
		assert.Contains(t, res.Warnings[0], context.DeadlineExceeded.Error())
	})

	t.Run("authority report", func(t *testing.T) {
		h := newHarness(t, func(h *harness, d *Dependencies) {
			d.Authority = authority.NewResolver(blockingAuthorities{}, d.Users, porttest.NopLogger{})
		})
		engine := h.shortTimeout(t)

		start := time.Now()
		_, err := engine.CheckAuthority(callerContext(t), "pm-1", amt(1_000))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("repeat order lookup", func(t *testing.T) {
		h := newHarness(t, func(h *harness, d *Dependencies) {
			h.orders = blockingDeliveries{OrderRepository: h.mem}
		})
		engine := h.shortTimeout(t)

		start := time.Now()
		res, err := engine.CreateOrder(callerContext(t), NewOrder{VendorID: vendorWithEmail, TotalAmount: amt(200_000)}, "fw-1")
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, domainwf.StateDraft, domainwf.StateOf(h.stored(t, res.Order.ID)))
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "check repeat order")
	})

	t.Run("order number allocation", func(t *testing.T) {
		h := newHarness(t, func(h *harness, d *Dependencies) {
			d.Numbers = blockingNumbers{}
		})
		engine := h.shortTimeout(t)

		start := time.Now()
		_, err := engine.CreateOrder(callerContext(t), NewOrder{VendorID: vendorWithEmail, TotalAmount: amt(50_000)}, "fw-1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)

		missing, err := h.mem.GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}
