package om

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/ledger"
	"main/internal/schema"
)

// ErrOrderIDCollision marks a duplicate order ID assignment. Order IDs are
// unique for the lifetime of a session; a collision means the manager state
// is corrupt and the session must halt.
var ErrOrderIDCollision = errors.New("order id collision")

// Config controls the order manager.
type Config struct {
	Session    string
	StaleAfter time.Duration
}

// Manager owns the lifecycle of every order from submission to terminal
// state. It deduplicates intents, reconciles transport acknowledgments and
// fills, and keeps the ledger's reservations in step with order outcomes.
type Manager struct {
	cfg       Config
	sm        *StateMachine
	ledger    *ledger.Ledger
	transport Transport

	liveByIntent map[uint64]uint64
	lastOrderID  uint64
}

// NewManager creates an order manager bound to a ledger and a transport.
func NewManager(cfg Config, led *ledger.Ledger, transport Transport) *Manager {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	return &Manager{
		cfg:          cfg,
		sm:           NewStateMachine(),
		ledger:       led,
		transport:    transport,
		liveByIntent: make(map[uint64]uint64),
	}
}

// Order returns the current state of an order.
func (m *Manager) Order(id uint64) (*Order, bool) {
	return m.sm.Order(id)
}

// Open returns all non-terminal orders.
func (m *Manager) Open() []*Order {
	return m.sm.Open()
}

// Submit creates a Pending order for an admitted intent and dispatches it
// to the transport without blocking. Resubmitting an intent that already
// has a live order returns that order with created=false instead of
// creating a second one.
func (m *Manager) Submit(ctx context.Context, intent schema.OrderIntent, now int64) (order *Order, created bool, err error) {
	if orderID, ok := m.liveByIntent[intent.IntentID]; ok {
		if o, ok := m.sm.Order(orderID); ok {
			return o, false, nil
		}
		delete(m.liveByIntent, intent.IntentID)
	}

	m.lastOrderID++
	orderID := m.lastOrderID
	o, err := m.sm.Create(orderID, intent, now)
	if err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			return nil, false, ErrOrderIDCollision
		}
		return nil, false, err
	}
	if err := m.ledger.BindOrder(intent.IntentID, orderID); err != nil {
		m.sm.Remove(orderID)
		return nil, false, err
	}
	m.liveByIntent[intent.IntentID] = orderID

	snapshot := *o
	go func() {
		if err := m.transport.SubmitOrder(ctx, snapshot); err != nil {
			logs.Errorf("submit order %d, err: %+v", snapshot.ID, err)
		}
	}()
	return o, true, nil
}

// HandleAck applies a transport acknowledgment. Rejections and confirmed
// cancellations release the remaining reservation.
func (m *Manager) HandleAck(ack schema.OrderAck, now int64) (*Order, error) {
	o, err := m.sm.ApplyAck(ack, now)
	if err != nil {
		return o, err
	}
	if o.State.Terminal() {
		m.ledger.ReleaseOrder(o.ID)
		delete(m.liveByIntent, o.IntentID)
	}
	return o, nil
}

// HandleFill applies a (possibly partial) fill and posts it to the ledger.
// Stale fills bubble up as ErrStaleFill for the caller to count and drop.
func (m *Manager) HandleFill(fill schema.Fill, now int64) (*Order, error) {
	o, err := m.sm.ApplyFill(fill, now)
	if err != nil {
		return o, err
	}
	if err := m.ledger.ConfirmFill(o.ID, fill.Qty, fill.Price); err != nil {
		return o, err
	}
	if o.State == OrderStateFilled {
		m.ledger.ReleaseOrder(o.ID)
		delete(m.liveByIntent, o.IntentID)
	}
	return o, nil
}

// Cancel requests cancellation from the transport. The order transitions to
// Canceled only when the confirmation comes back as an ack event.
func (m *Manager) Cancel(ctx context.Context, orderID uint64) error {
	o, ok := m.sm.Order(orderID)
	if !ok {
		return ErrUnknownOrder
	}
	switch o.State {
	case OrderStatePending, OrderStateAcked, OrderStatePartFilled:
	default:
		return ErrInvalidTransition
	}

	go func() {
		if err := m.transport.CancelOrder(ctx, orderID); err != nil {
			logs.Errorf("cancel order %d, err: %+v", orderID, err)
		}
	}()
	return nil
}

// Stale returns open orders with no transport response within the
// configured window. They are surfaced to the operator, never silently
// auto-cancelled.
func (m *Manager) Stale(now int64) []*Order {
	if m.cfg.StaleAfter <= 0 {
		return nil
	}
	window := int64(m.cfg.StaleAfter)
	var out []*Order
	for _, o := range m.sm.Open() {
		switch o.State {
		case OrderStatePending, OrderStateAcked:
			if now-o.UpdatedTs > window {
				out = append(out, o)
			}
		}
	}
	return out
}
