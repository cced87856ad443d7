package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/orderstate"
	"github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// ActorHeader names the header carrying the acting user's id. Authentication is upstream.
const ActorHeader = "X-User-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine        workflow.WorkflowEngine
	subscriptions Subscriptions
	health        HealthReporter
	logger        Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.WorkflowEngine, subscriptions Subscriptions, health HealthReporter, logger Logger) *Handlers {
	return &Handlers{
		engine:        engine,
		subscriptions: subscriptions,
		health:        health,
		logger:        logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// OrderResponse is an order with its compound state spelled out
type OrderResponse struct {
	*entity.Order
	ApprovalStatus  entity.ApprovalStatus `json:"approval_status"`
	BypassReason    entity.BypassReason   `json:"bypass_reason,omitempty"`
	NextApproverID  string                `json:"next_approver_id,omitempty"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
}

func newOrderResponse(o *entity.Order) *OrderResponse {
	if o == nil {
		return nil
	}
	return &OrderResponse{
		Order:           o,
		ApprovalStatus:  o.ApprovalStatus(),
		BypassReason:    o.BypassReason(),
		NextApproverID:  o.NextApproverID(),
		RejectionReason: o.RejectionReason(),
	}
}

// ResultResponse is the body returned by mutating endpoints
type ResultResponse struct {
	Order       *OrderResponse `json:"order"`
	Transitions int            `json:"transitions"`
	Awaiting    []string       `json:"awaiting,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// CreateOrderRequest is the body of POST /api/v1/orders
type CreateOrderRequest struct {
	VendorID    int64           `json:"vendor_id" binding:"required,gt=0"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes"`
	Origin      string          `json:"origin" binding:"omitempty,oneof=manual excel_import"`
}

// ApprovalRequest is the body of POST /api/v1/orders/:id/approval
type ApprovalRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
	Comments string `json:"comments"`
}

// DeliveryRequest is the body of POST /api/v1/orders/:id/delivery
type DeliveryRequest struct {
	Notes       string     `json:"notes"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReceivedBy  string     `json:"received_by"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := h.health.Health(c.Request.Context())
	code := http.StatusOK
	if !status.Overall {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, Response{Success: status.Overall, Data: status})
}

// Subscribe handles GET /ws?order_id=
func (h *Handlers) Subscribe(c *gin.Context) {
	var orderID int64
	if raw := c.Query("order_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.fail(c, http.StatusBadRequest, "invalid order_id")
			return
		}
		orderID = id
	}
	if err := h.subscriptions.ServeWS(c.Writer, c.Request, orderID); err != nil {
		h.logger.Warn("Websocket subscription failed", "order_id", orderID, "error", err)
	}
}

// CreateOrder handles POST /api/v1/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TotalAmount.IsNegative() {
		h.fail(c, http.StatusBadRequest, "total_amount must not be negative")
		return
	}

	res, err := h.engine.CreateOrder(c.Request.Context(), workflow.NewOrder{
		VendorID:    req.VendorID,
		TotalAmount: req.TotalAmount,
		Notes:       req.Notes,
		Origin:      req.Origin,
	}, actor)
	h.respondResult(c, http.StatusCreated, res, err)
}

// ProcessNextStep handles POST /api/v1/orders/:id/next
func (h *Handlers) ProcessNextStep(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	res, err := h.engine.ProcessNextStep(c.Request.Context(), id, actor)
	h.respondResult(c, http.StatusOK, res, err)
}

// ProcessApproval handles POST /api/v1/orders/:id/approval
func (h *Handlers) ProcessApproval(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.engine.ProcessApproval(c.Request.Context(), id, actor, workflow.Decision(req.Decision), req.Comments)
	h.respondResult(c, http.StatusOK, res, err)
}

// ConfirmDelivery handles POST /api/v1/orders/:id/delivery
func (h *Handlers) ConfirmDelivery(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	var req DeliveryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	res, err := h.engine.ConfirmDelivery(c.Request.Context(), id, actor, orderstate.DeliveryMetadata{
		Notes:       req.Notes,
		DeliveredAt: req.DeliveredAt,
		ReceivedBy:  req.ReceivedBy,
	})
	h.respondResult(c, http.StatusOK, res, err)
}

// TrackWorkflow handles GET /api/v1/orders/:id/workflow
func (h *Handlers) TrackWorkflow(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	status, err := h.engine.TrackWorkflowProgress(c.Request.Context(), id)
	if err != nil {
		h.fail(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}

// CheckAuthority handles GET /api/v1/authority?user_id=&amount=
func (h *Handlers) CheckAuthority(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		h.fail(c, http.StatusBadRequest, "user_id is required")
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || amount.IsNegative() {
		h.fail(c, http.StatusBadRequest, "amount must be a non-negative decimal")
		return
	}

	report, err := h.engine.CheckAuthority(c.Request.Context(), userID, amount)
	if err != nil {
		h.fail(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}

func (h *Handlers) actor(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(ActorHeader))
	if actor == "" {
		h.fail(c, http.StatusUnauthorized, ActorHeader+" header is required")
		return "", false
	}
	return actor, true
}

func (h *Handlers) orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func (h *Handlers) respondResult(c *gin.Context, okStatus int, res *workflow.Result, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.Error("Workflow call failed", "path", c.FullPath(), "error", err)
		}
		h.fail(c, code, err.Error())
		return
	}
	c.JSON(okStatus, Response{
		Success: true,
		Data: ResultResponse{
			Order:       newOrderResponse(res.Order),
			Transitions: res.Transitions,
			Awaiting:    triggerNames(res.Awaiting),
			Degraded:    res.Degraded,
		},
		Warnings: res.Warnings,
	})
}

func triggerNames(triggers []domainwf.Trigger) []string {
	if len(triggers) == 0 {
		return nil
	}
	names := make([]string, len(triggers))
	for i, t := range triggers {
		names[i] = t.String()
	}
	return names
}

func (h *Handlers) fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, Response{Success: false, Error: msg})
}

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	var (
		orderNotFound *domainwf.OrderNotFoundError
		userNotFound  *domainwf.UserNotFoundError
		notPending    *domainwf.NotPendingError
		invalidState  *domainwf.InvalidStateError
		conflict      *domainwf.ConflictError
	)
	switch {
	case errors.As(err, &orderNotFound), errors.As(err, &userNotFound):
		return http.StatusNotFound
	case errors.As(err, &notPending), errors.As(err, &invalidState), errors.As(err, &conflict):
		return http.StatusConflict
	case domainwf.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
