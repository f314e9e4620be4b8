package ledger

import (
	"errors"
	"sync"

	"main/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

var (
	ErrPositionLimit   = errors.New("position limit exceeded")
	ErrNotionalLimit   = errors.New("order notional limit exceeded")
	ErrGrossExposure   = errors.New("gross exposure limit exceeded")
	ErrDuplicateIntent = errors.New("reservation already exists for intent")
	ErrUnknownOrder    = errors.New("no reservation bound to order")
	ErrOrderBound      = errors.New("order already bound to a reservation")

	// ErrReservationUnderflow signals a fill larger than the remaining
	// reservation. The ledger is inconsistent at that point; callers must
	// treat it as fatal.
	ErrReservationUnderflow = errors.New("reservation underflow")
)

// Limits are the hard risk limits for one session. They are immutable while
// the session runs; a new session installs a new value under a bumped
// Version.
type Limits struct {
	Version              uint16          `json:"version"`
	MaxPositionPerSymbol schema.Quantity `json:"maxPositionPerSymbol"`
	MaxOrderNotional     schema.Notional `json:"maxOrderNotional"`
	MaxGrossExposure     schema.Notional `json:"maxGrossExposure"`
}

// Position is the confirmed holding for one instrument. Cost basis is kept
// as notional so average cost never loses precision to integer division.
type Position struct {
	SymbolID    uint32
	NetQty      schema.Quantity
	CostBasis   schema.Notional
	RealizedPnL schema.Notional
}

// AvgCost returns the weighted average cost per unit, zero for a flat book.
func (p Position) AvgCost() schema.Price {
	if p.NetQty == 0 {
		return 0
	}
	qty := int64(p.NetQty)
	if qty < 0 {
		qty = -qty
	}
	basis := int64(p.CostBasis)
	if basis < 0 {
		basis = -basis
	}
	return schema.Price(basis / qty)
}

// Reservation is a provisional hold against the limits between risk
// admission and order outcome.
type Reservation struct {
	IntentID uint64
	SymbolID uint32
	Side     schema.OrderSide
	Price    schema.Price
	Qty      schema.Quantity
	Notional schema.Notional
}

// View is the read-only ledger surface handed to strategies and the risk
// gate. Reads are consistent with respect to concurrent reservations.
type View interface {
	Position(symbolID uint32) Position
	Reserved(symbolID uint32) schema.Quantity
	Exposure() schema.Notional
	Limits() Limits
}

// Ledger is the authoritative record of holdings, reservations and limit
// state. It is updated only through Reserve/ConfirmFill/Release; strategies
// read it through View.
type Ledger struct {
	mu sync.Mutex

	limits           Limits
	positions        map[uint32]*Position
	reservations     map[uint64]*Reservation
	intentByOrder    map[uint64]uint64
	reservedQty      map[uint32]schema.Quantity
	reservedNotional schema.Notional
}

// New creates a ledger with the given session limits.
func New(limits Limits) *Ledger {
	return &Ledger{
		limits:        limits,
		positions:     make(map[uint32]*Position),
		reservations:  make(map[uint64]*Reservation),
		intentByOrder: make(map[uint64]uint64),
		reservedQty:   make(map[uint32]schema.Quantity),
	}
}

// Limits returns the session limits.
func (l *Ledger) Limits() Limits {
	return l.limits
}

// Position returns a copy of the position for a symbol. A symbol never
// traded reads as a zero position.
func (l *Ledger) Position(symbolID uint32) Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbolID]; ok {
		return *p
	}
	return Position{SymbolID: symbolID}
}

// Reserved returns the signed sum of open reserved quantities for a symbol.
func (l *Ledger) Reserved(symbolID uint32) schema.Quantity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservedQty[symbolID]
}

// Reservation returns a copy of the open reservation for an intent.
func (l *Ledger) Reservation(intentID uint64) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.reservations[intentID]; ok {
		return *r, true
	}
	return Reservation{}, false
}

// OpenReservations returns the number of open reservations.
func (l *Ledger) OpenReservations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reservations)
}

// Exposure returns confirmed position notional plus all outstanding
// reservation notional.
func (l *Ledger) Exposure() schema.Notional {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exposureLocked()
}

func (l *Ledger) exposureLocked() schema.Notional {
	total := int64(l.reservedNotional)
	for _, p := range l.positions {
		total += absInt64(int64(p.CostBasis))
	}
	return schema.Notional(total)
}

// Reserve atomically checks an intent against the limits, given the current
// position plus all other outstanding reservations, and records the
// reservation if every check passes. Admission is all-or-nothing.
func (l *Ledger) Reserve(intent schema.OrderIntent) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reservations[intent.IntentID]; ok {
		return Reservation{}, ErrDuplicateIntent
	}

	notional, overflow := mulNotional(intent.Price, intent.Qty)
	if overflow {
		return Reservation{}, ErrNotionalLimit
	}
	if l.limits.MaxOrderNotional > 0 && notional > l.limits.MaxOrderNotional {
		return Reservation{}, ErrNotionalLimit
	}

	var pos schema.Quantity
	if p, ok := l.positions[intent.SymbolID]; ok {
		pos = p.NetQty
	}
	next := int64(pos) + int64(l.reservedQty[intent.SymbolID]) + signedQty(intent.Side, intent.Qty)
	if l.limits.MaxPositionPerSymbol > 0 && absInt64(next) > int64(l.limits.MaxPositionPerSymbol) {
		return Reservation{}, ErrPositionLimit
	}

	if l.limits.MaxGrossExposure > 0 {
		if int64(l.exposureLocked())+int64(notional) > int64(l.limits.MaxGrossExposure) {
			return Reservation{}, ErrGrossExposure
		}
	}

	r := &Reservation{
		IntentID: intent.IntentID,
		SymbolID: intent.SymbolID,
		Side:     intent.Side,
		Price:    intent.Price,
		Qty:      intent.Qty,
		Notional: notional,
	}
	l.reservations[intent.IntentID] = r
	l.reservedQty[intent.SymbolID] += schema.Quantity(signedQty(intent.Side, intent.Qty))
	l.reservedNotional += notional
	return *r, nil
}

// BindOrder links a live order to the reservation made for its intent, so
// fills carrying only the order ID can locate the reservation.
func (l *Ledger) BindOrder(intentID, orderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reservations[intentID]; !ok {
		return ErrUnknownOrder
	}
	if _, ok := l.intentByOrder[orderID]; ok {
		return ErrOrderBound
	}
	l.intentByOrder[orderID] = intentID
	return nil
}

// ConfirmFill converts part of a reservation into realized position change.
// Average cost follows weighted-average-cost accounting; position-reducing
// fills realize PnL against the average cost.
func (l *Ledger) ConfirmFill(orderID uint64, qty schema.Quantity, price schema.Price) error {
	if qty <= 0 {
		return ErrReservationUnderflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	intentID, ok := l.intentByOrder[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	r, ok := l.reservations[intentID]
	if !ok {
		return ErrUnknownOrder
	}
	if qty > r.Qty {
		return ErrReservationUnderflow
	}

	released, overflow := mulNotional(r.Price, qty)
	if overflow || released > r.Notional {
		released = r.Notional
	}
	r.Qty -= qty
	r.Notional -= released
	l.reservedQty[r.SymbolID] += schema.Quantity(-signedQty(r.Side, qty))
	l.reservedNotional -= released
	if r.Qty == 0 {
		delete(l.reservations, intentID)
	}

	l.applyFillLocked(r.SymbolID, r.Side, qty, price)
	return nil
}

// Release drops the unfilled remainder of a reservation without touching
// the position. Releasing an unknown intent is a no-op so terminal order
// transitions stay idempotent.
func (l *Ledger) Release(intentID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[intentID]
	if !ok {
		return
	}
	l.reservedQty[r.SymbolID] += schema.Quantity(-signedQty(r.Side, r.Qty))
	l.reservedNotional -= r.Notional
	delete(l.reservations, intentID)
}

// ReleaseOrder releases the reservation bound to an order and forgets the
// binding.
func (l *Ledger) ReleaseOrder(orderID uint64) {
	l.mu.Lock()
	intentID, ok := l.intentByOrder[orderID]
	delete(l.intentByOrder, orderID)
	l.mu.Unlock()
	if ok {
		l.Release(intentID)
	}
}

func (l *Ledger) applyFillLocked(symbolID uint32, side schema.OrderSide, qty schema.Quantity, price schema.Price) {
	p, ok := l.positions[symbolID]
	if !ok {
		p = &Position{SymbolID: symbolID}
		l.positions[symbolID] = p
	}

	delta := signedQty(side, qty)
	cost, _ := mulNotional(price, qty)
	current := int64(p.NetQty)

	switch {
	case current == 0 || (current > 0) == (delta > 0):
		// extend
		p.NetQty = schema.Quantity(current + delta)
		p.CostBasis += schema.Notional(sign(delta) * int64(cost))
	case absInt64(delta) <= absInt64(current):
		// reduce, realize against average cost
		avg := p.AvgCost()
		closeCost, _ := mulNotional(avg, qty)
		fillCost := int64(cost)
		pnl := int64(fillCost) - int64(closeCost)
		if current < 0 {
			pnl = -pnl
		}
		p.RealizedPnL += schema.Notional(pnl)
		p.NetQty = schema.Quantity(current + delta)
		p.CostBasis -= schema.Notional(sign(current) * int64(closeCost))
		if p.NetQty == 0 {
			p.CostBasis = 0
		}
	default:
		// cross through zero: close the whole position, open the rest at
		// the fill price
		closeQty := schema.Quantity(absInt64(current))
		avg := p.AvgCost()
		closeCost, _ := mulNotional(avg, closeQty)
		closeFill, _ := mulNotional(price, closeQty)
		pnl := int64(closeFill) - int64(closeCost)
		if current < 0 {
			pnl = -pnl
		}
		p.RealizedPnL += schema.Notional(pnl)

		rest := schema.Quantity(absInt64(delta) - absInt64(current))
		restCost, _ := mulNotional(price, rest)
		p.NetQty = schema.Quantity(sign(delta) * int64(rest))
		p.CostBasis = schema.Notional(sign(delta) * int64(restCost))
	}
}

// RestorePositions installs recovered positions wholesale. Only recovery
// may call this, before the session starts processing events.
func (l *Ledger) RestorePositions(positions []Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.positions {
		delete(l.positions, key)
	}
	for _, p := range positions {
		cp := p
		l.positions[p.SymbolID] = &cp
	}
}

// Positions returns a copy of every position, including flat ones.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// ReplayFill posts a journaled fill directly to the position book, without
// a reservation. Only recovery may call this: live fills always come
// through ConfirmFill.
func (l *Ledger) ReplayFill(symbolID uint32, side schema.OrderSide, qty schema.Quantity, price schema.Price) {
	if qty <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyFillLocked(symbolID, side, qty, price)
}

// CheckInvariants recomputes aggregate reservation state from scratch and
// compares it with the tracked aggregates. Any mismatch means the ledger
// can no longer be trusted and the session must halt.
func (l *Ledger) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var notional int64
	perSymbol := make(map[uint32]int64)
	for _, r := range l.reservations {
		if r.Qty < 0 || r.Notional < 0 {
			return ErrReservationUnderflow
		}
		notional += int64(r.Notional)
		perSymbol[r.SymbolID] += signedQty(r.Side, r.Qty)
	}
	if notional != int64(l.reservedNotional) {
		return ErrReservationUnderflow
	}
	for symbolID, qty := range l.reservedQty {
		if qty != schema.Quantity(perSymbol[symbolID]) {
			return ErrReservationUnderflow
		}
	}
	return nil
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return schema.Notional(p * q), false
}

func signedQty(side schema.OrderSide, qty schema.Quantity) int64 {
	switch side {
	case schema.OrderSideBuy:
		return int64(qty)
	case schema.OrderSideSell:
		return -int64(qty)
	default:
		return 0
	}
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
