// Package porttest provides in-memory implementations of the application ports for tests.
package porttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (NopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (NopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Clock is a manually advanced clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Orders is an in-memory OrderRepository with the same compare-and-swap semantics as the sqlite one
type Orders struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*entity.Order
}

// NewOrders creates an empty order store
func NewOrders() *Orders {
	return &Orders{rows: make(map[int64]*entity.Order)}
}

func (o *Orders) Create(ctx context.Context, order *entity.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	order.ID = o.nextID
	o.rows[order.ID] = order.Clone()
	return nil
}

// Put stores order as-is, keeping its ID
func (o *Orders) Put(order *entity.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if order.ID > o.nextID {
		o.nextID = order.ID
	}
	o.rows[order.ID] = order.Clone()
}

func (o *Orders) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	row, ok := o.rows[id]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

func (o *Orders) CompareAndSwap(ctx context.Context, expected domainwf.State, order *entity.Order) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	row, ok := o.rows[order.ID]
	if !ok || domainwf.StateOf(row) != expected {
		return false, nil
	}
	o.rows[order.ID] = order.Clone()
	return true, nil
}

func (o *Orders) HasDeliveredForVendorSince(ctx context.Context, vendorID int64, since time.Time, excludeOrderID int64) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, row := range o.rows {
		if id == excludeOrderID || row.VendorID != vendorID || row.OrderStatus != entity.OrderStatusDelivered {
			continue
		}
		if row.DeliveredAt != nil && !row.DeliveredAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// Authorities is an in-memory AuthorityRepository
type Authorities struct {
	List []*entity.ApprovalAuthority
}

func (a *Authorities) GetActiveByRole(ctx context.Context, role string) (*entity.ApprovalAuthority, error) {
	for _, auth := range a.List {
		if auth.Role == role && auth.IsActive {
			return auth, nil
		}
	}
	return nil, nil
}

func (a *Authorities) ListActive(ctx context.Context) ([]*entity.ApprovalAuthority, error) {
	out := make([]*entity.ApprovalAuthority, 0, len(a.List))
	for _, auth := range a.List {
		if auth.IsActive {
			out = append(out, auth)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MaxAmount.LessThan(out[j].MaxAmount) })
	return out, nil
}

// Users is an in-memory UserRepository; FindActiveByRole returns the first match in slice order
type Users struct {
	List []*entity.User
}

func (u *Users) GetByID(ctx context.Context, id string) (*entity.User, error) {
	for _, user := range u.List {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, nil
}

func (u *Users) FindActiveByRole(ctx context.Context, role string) (*entity.User, error) {
	for _, user := range u.List {
		if user.Role == role && user.IsActive {
			return user, nil
		}
	}
	return nil, nil
}

// Vendors is an in-memory VendorRepository
type Vendors struct {
	List []*entity.Vendor
}

func (v *Vendors) GetByID(ctx context.Context, id int64) (*entity.Vendor, error) {
	for _, vendor := range v.List {
		if vendor.ID == id {
			return vendor, nil
		}
	}
	return nil, nil
}

// History is an in-memory HistoryRepository; FailAppend makes every Append fail
type History struct {
	mu         sync.Mutex
	entries    []*entity.HistoryEntry
	FailAppend error
}

func (h *History) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailAppend != nil {
		return h.FailAppend
	}
	cp := *entry
	h.entries = append(h.entries, &cp)
	return nil
}

func (h *History) ListByOrder(ctx context.Context, orderID int64) ([]*entity.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*entity.HistoryEntry
	for _, e := range h.entries {
		if e.OrderID == orderID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Sink records notifications
type Sink struct {
	mu     sync.Mutex
	events []*event.Event
	Err    error
}

func (s *Sink) Notify(ctx context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.Err
}

// Events returns a snapshot of everything notified so far
func (s *Sink) Events() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.Event(nil), s.events...)
}

// Numbers issues sequential PO numbers
type Numbers struct {
	mu  sync.Mutex
	seq int
}

func (n *Numbers) Next(ctx context.Context, at time.Time) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return fmt.Sprintf("PO-%d-%05d", at.Year(), n.seq), nil
}

// TxManager runs fn directly
type TxManager struct{}

func (TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var (
	_ port.Clock                = (*Clock)(nil)
	_ port.OrderRepository      = (*Orders)(nil)
	_ port.AuthorityRepository  = (*Authorities)(nil)
	_ port.UserRepository       = (*Users)(nil)
	_ port.VendorRepository     = (*Vendors)(nil)
	_ port.HistoryRepository    = (*History)(nil)
	_ port.NotificationSink     = (*Sink)(nil)
	_ port.OrderNumberGenerator = (*Numbers)(nil)
	_ port.TransactionManager   = TxManager{}
)
