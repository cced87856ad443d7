package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/authority"
	"github.com/garyjia/po-workflow/internal/application/orderstate"
	"github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/container"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
	"github.com/garyjia/po-workflow/pkg/utils"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) result(args mock.Arguments) (*workflow.Result, error) {
	res, _ := args.Get(0).(*workflow.Result)
	return res, args.Error(1)
}

func (m *mockEngine) CreateOrder(ctx context.Context, input workflow.NewOrder, actorID string) (*workflow.Result, error) {
	return m.result(m.Called(ctx, input, actorID))
}

func (m *mockEngine) ProcessNextStep(ctx context.Context, orderID int64, actorID string) (*workflow.Result, error) {
	return m.result(m.Called(ctx, orderID, actorID))
}

func (m *mockEngine) ProcessApproval(ctx context.Context, orderID int64, approverID string, decision workflow.Decision, comments string) (*workflow.Result, error) {
	return m.result(m.Called(ctx, orderID, approverID, decision, comments))
}

func (m *mockEngine) ConfirmDelivery(ctx context.Context, orderID int64, actorID string, meta orderstate.DeliveryMetadata) (*workflow.Result, error) {
	return m.result(m.Called(ctx, orderID, actorID, meta))
}

func (m *mockEngine) TrackWorkflowProgress(ctx context.Context, orderID int64) (*workflow.WorkflowStatus, error) {
	args := m.Called(ctx, orderID)
	status, _ := args.Get(0).(*workflow.WorkflowStatus)
	return status, args.Error(1)
}

func (m *mockEngine) CheckAuthority(ctx context.Context, userID string, amount decimal.Decimal) (*workflow.AuthorityReport, error) {
	args := m.Called(ctx, userID, amount)
	report, _ := args.Get(0).(*workflow.AuthorityReport)
	return report, args.Error(1)
}

type fakeSubscriptions struct {
	orderID int64
	called  bool
}

func (f *fakeSubscriptions) ServeWS(w http.ResponseWriter, _ *http.Request, orderID int64) error {
	f.called = true
	f.orderID = orderID
	w.WriteHeader(http.StatusOK)
	return nil
}

type fakeHealth struct {
	healthy bool
}

func (f fakeHealth) Health(context.Context) *container.HealthStatus {
	return &container.HealthStatus{
		Overall:    f.healthy,
		Components: map[string]container.ComponentHealth{"database": {Healthy: f.healthy}},
	}
}

type testServer struct {
	engine *mockEngine
	subs   *fakeSubscriptions
	server *Server
}

func newTestServer(t *testing.T, healthy bool) *testServer {
	t.Helper()
	ts := &testServer{engine: &mockEngine{}, subs: &fakeSubscriptions{}}
	ts.server = NewServer(DefaultServerConfig(), ts.engine, ts.subs, fakeHealth{healthy: healthy}, utils.NewKVLogger(zap.NewNop()))
	t.Cleanup(func() { ts.engine.AssertExpectations(t) })
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, actor, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func pendingOrder() *entity.Order {
	return &entity.Order{
		ID:          7,
		OrderNumber: "PO-2025-00007",
		OrderStatus: entity.OrderStatusCreated,
		Gate:        entity.GatePending{NextApproverID: "hq-1"},
		TotalAmount: decimal.NewFromInt(5_000_000),
	}
}

func TestHealthCheck(t *testing.T) {
	w, resp := newTestServer(t, true).do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = newTestServer(t, false).do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)
}

func TestSubscribe_OrderFilter(t *testing.T) {
	ts := newTestServer(t, true)

	ts.do(t, http.MethodGet, "/ws?order_id=42", "", "")
	assert.True(t, ts.subs.called)
	assert.Equal(t, int64(42), ts.subs.orderID)

	w, _ := ts.do(t, http.MethodGet, "/ws?order_id=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("CreateOrder", mock.Anything, mock.MatchedBy(func(in workflow.NewOrder) bool {
		return in.VendorID == 3 && in.TotalAmount.Equal(decimal.NewFromInt(5_000_000)) && in.Origin == entity.OriginManual
	}), "pm-1").Return(&workflow.Result{Order: pendingOrder(), Transitions: 1}, nil).Once()

	w, resp := ts.do(t, http.MethodPost, "/api/v1/orders", "pm-1",
		`{"vendor_id":3,"total_amount":"5000000","origin":"manual"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	order := data["order"].(map[string]interface{})
	assert.Equal(t, "pending", order["approval_status"])
	assert.Equal(t, "hq-1", order["next_approver_id"])
	assert.Equal(t, "PO-2025-00007", order["order_number"])
}

func TestCreateOrder_RejectsBadInput(t *testing.T) {
	ts := newTestServer(t, true)

	cases := map[string]struct {
		actor string
		body  string
		code  int
	}{
		"missing actor":   {"", `{"vendor_id":3,"total_amount":"10"}`, http.StatusUnauthorized},
		"missing vendor":  {"pm-1", `{"total_amount":"10"}`, http.StatusBadRequest},
		"negative amount": {"pm-1", `{"vendor_id":3,"total_amount":"-1"}`, http.StatusBadRequest},
		"unknown origin":  {"pm-1", `{"vendor_id":3,"total_amount":"1","origin":"fax"}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w, resp := ts.do(t, http.MethodPost, "/api/v1/orders", tc.actor, tc.body)
			assert.Equal(t, tc.code, w.Code)
			assert.False(t, resp.Success)
		})
	}
	ts.engine.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessApproval_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("ProcessApproval", mock.Anything, int64(7), "hq-2", workflow.DecisionApproved, "").
		Return(nil, &domainwf.ConflictError{OrderID: 7, Expected: domainwf.StatePendingApproval, Actual: domainwf.StateSent}).Once()
	ts.engine.On("ProcessApproval", mock.Anything, int64(8), "hq-1", workflow.DecisionRejected, "too much").
		Return(nil, &domainwf.OrderNotFoundError{OrderID: 8}).Once()
	ts.engine.On("ProcessApproval", mock.Anything, int64(9), "hq-1", workflow.DecisionApproved, "").
		Return(nil, &domainwf.TransientError{Op: "load order", Err: errors.New("database is locked")}).Once()

	w, resp := ts.do(t, http.MethodPost, "/api/v1/orders/7/approval", "hq-2", `{"decision":"approved"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, resp.Error, "changed concurrently")

	w, _ = ts.do(t, http.MethodPost, "/api/v1/orders/8/approval", "hq-1", `{"decision":"rejected","comments":"too much"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/orders/9/approval", "hq-1", `{"decision":"approved"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/orders/7/approval", "hq-1", `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessNextStep_ReturnsWarnings(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("ProcessNextStep", mock.Anything, int64(7), "fw-1").
		Return(&workflow.Result{Order: pendingOrder(), Warnings: []string{"no approver available"}}, nil).Once()

	w, resp := ts.do(t, http.MethodPost, "/api/v1/orders/7/next", "fw-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"no approver available"}, resp.Warnings)
}

func TestProcessNextStep_ReportsAwaitedTriggers(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("ProcessNextStep", mock.Anything, int64(7), "hq-1").
		Return(&workflow.Result{Order: pendingOrder(), Awaiting: []domainwf.Trigger{domainwf.TriggerApprove, domainwf.TriggerReject}}, nil).Once()

	w, _ := ts.do(t, http.MethodPost, "/api/v1/orders/7/next", "hq-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"awaiting":["approve","reject"]`)
}

func TestConfirmDelivery(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("ConfirmDelivery", mock.Anything, int64(7), "fw-1", mock.MatchedBy(func(m orderstate.DeliveryMetadata) bool {
		return m.ReceivedBy == "Kim" && m.DeliveredAt != nil && m.Notes == "2 pallets"
	})).Return(&workflow.Result{Order: pendingOrder(), Transitions: 1}, nil).Once()
	ts.engine.On("ConfirmDelivery", mock.Anything, int64(8), "fw-1", orderstate.DeliveryMetadata{}).
		Return(nil, &domainwf.InvalidStateError{OrderID: 8, Actual: domainwf.StatePendingApproval, Required: "sent"}).Once()

	w, _ := ts.do(t, http.MethodPost, "/api/v1/orders/7/delivery", "fw-1",
		`{"notes":"2 pallets","received_by":"Kim","delivered_at":"2025-03-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = ts.do(t, http.MethodPost, "/api/v1/orders/8/delivery", "fw-1", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTrackWorkflow(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("TrackWorkflowProgress", mock.Anything, int64(7)).
		Return(&workflow.WorkflowStatus{OrderID: 7, OrderStatus: entity.OrderStatusSent, HistoryConsistent: true}, nil).Once()

	w, resp := ts.do(t, http.MethodGet, "/api/v1/orders/7/workflow", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "sent", data["order_status"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/orders/zero/workflow", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckAuthority(t *testing.T) {
	ts := newTestServer(t, true)
	ts.engine.On("CheckAuthority", mock.Anything, "pm-1", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.NewFromInt(250_000))
	})).Return(&workflow.AuthorityReport{
		UserID: "pm-1",
		Amount: decimal.NewFromInt(250_000),
		Check:  &authority.Check{CanDirectApprove: true, BypassReason: entity.BypassDirectApproval},
	}, nil).Once()

	w, resp := ts.do(t, http.MethodGet, "/api/v1/authority?user_id=pm-1&amount=250000", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	check := resp.Data.(map[string]interface{})["check"].(map[string]interface{})
	assert.Equal(t, true, check["can_direct_approve"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/authority?user_id=pm-1&amount=lots", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
