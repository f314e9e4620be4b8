package om

import (
	"errors"

	"main/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")

	// ErrStaleFill marks a fill for an unknown or already-terminal order.
	// Duplicate and late acknowledgments are expected in distributed
	// routing; callers count and discard these.
	ErrStaleFill = errors.New("stale fill event")

	// ErrOverfill marks a fill beyond the order quantity. Unlike a stale
	// fill this is an invariant violation and must halt the session.
	ErrOverfill = errors.New("fill exceeds order quantity")
)

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStatePending
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "pending"
	case OrderStateAcked:
		return "acked"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCanceled:
		return "canceled"
	case OrderStateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves the state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// Order is the manager's authoritative view of one order. The ID is
// assigned once at creation and never changes.
type Order struct {
	ID         uint64
	IntentID   uint64
	StrategyID uint32
	SymbolID   uint32
	Side       schema.OrderSide
	Type       schema.OrderType
	Price      schema.Price
	Qty        schema.Quantity
	FilledQty  schema.Quantity
	State      OrderState
	CreatedTs  int64
	UpdatedTs  int64
}

// LeavesQty returns the open quantity.
func (o *Order) LeavesQty() schema.Quantity {
	return o.Qty - o.FilledQty
}

// StateMachine updates orders from intent/ack/fill events. It enforces the
// lifecycle Pending -> Acked -> {PartFilled -> Filled | Canceled | Rejected}
// with Pending->Rejected and Pending/Acked->Canceled as direct transitions.
type StateMachine struct {
	orders map[uint64]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[uint64]*Order)}
}

// Order returns the current order state.
func (m *StateMachine) Order(id uint64) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Count returns the number of tracked orders, terminal ones included.
func (m *StateMachine) Count() int {
	return len(m.orders)
}

// Open returns all orders not yet in a terminal state.
func (m *StateMachine) Open() []*Order {
	var out []*Order
	for _, o := range m.orders {
		if !o.State.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Create registers a new Pending order for an admitted intent.
func (m *StateMachine) Create(orderID uint64, intent schema.OrderIntent, now int64) (*Order, error) {
	if orderID == 0 {
		return nil, ErrUnknownOrder
	}
	if _, ok := m.orders[orderID]; ok {
		return nil, ErrDuplicateOrder
	}
	o := &Order{
		ID:         orderID,
		IntentID:   intent.IntentID,
		StrategyID: intent.StrategyID,
		SymbolID:   intent.SymbolID,
		Side:       intent.Side,
		Type:       intent.Type,
		Price:      intent.Price,
		Qty:        intent.Qty,
		State:      OrderStatePending,
		CreatedTs:  now,
		UpdatedTs:  now,
	}
	m.orders[o.ID] = o
	return o, nil
}

// Remove drops an order from tracking. Only creation rollback uses it;
// orders that reached the transport stay tracked so late fills are
// recognized as stale.
func (m *StateMachine) Remove(id uint64) {
	delete(m.orders, id)
}

// ApplyAck updates an order from a transport acknowledgment.
func (m *StateMachine) ApplyAck(ack schema.OrderAck, now int64) (*Order, error) {
	o, ok := m.orders[ack.OrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.State.Terminal() {
		return o, ErrInvalidTransition
	}

	switch ack.Status {
	case schema.OrderAckStatusAcked:
		if o.State != OrderStatePending {
			return o, ErrInvalidTransition
		}
		o.State = OrderStateAcked
	case schema.OrderAckStatusRejected:
		if o.State != OrderStatePending {
			return o, ErrInvalidTransition
		}
		o.State = OrderStateRejected
	case schema.OrderAckStatusCanceled, schema.OrderAckStatusExpired:
		o.State = OrderStateCanceled
	default:
		return o, ErrInvalidTransition
	}
	o.UpdatedTs = now
	return o, nil
}

// ApplyFill updates an order from a fill event. A fill for an unknown or
// terminal order returns ErrStaleFill; a fill beyond the open quantity
// returns ErrOverfill.
func (m *StateMachine) ApplyFill(fill schema.Fill, now int64) (*Order, error) {
	o, ok := m.orders[fill.OrderID]
	if !ok {
		return nil, ErrStaleFill
	}
	if o.State.Terminal() {
		return o, ErrStaleFill
	}
	if fill.Qty <= 0 {
		return o, ErrInvalidFill
	}
	if fill.Qty > o.LeavesQty() {
		return o, ErrOverfill
	}

	o.FilledQty += fill.Qty
	if o.FilledQty == o.Qty {
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartFilled
	}
	o.UpdatedTs = now
	return o, nil
}
