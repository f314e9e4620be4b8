package om

import (
	"context"
	"sync"

	"main/internal/schema"
)

// SimMode selects how the simulated transport answers submissions.
type SimMode uint16

const (
	// SimModeFill acknowledges and fully fills every order at its limit
	// price.
	SimModeFill SimMode = iota
	// SimModeAck acknowledges orders and leaves them open.
	SimModeAck
	// SimModePartial acknowledges and fills half of the order quantity,
	// leaving the rest open.
	SimModePartial
	// SimModeReject rejects every submission at the transport level.
	SimModeReject
	// SimModeSilent swallows submissions without any response, for
	// stale-order testing.
	SimModeSilent
)

// SimConfig controls the simulated transport.
type SimConfig struct {
	Mode SimMode
}

// SimTransport is a deterministic in-process broker connector for paper
// sessions and tests. Responses are published back as events, never
// returned inline, matching the asynchronous contract of a real connector.
type SimTransport struct {
	cfg SimConfig
	pub Publisher

	mu     sync.Mutex
	orders map[uint64]Order
}

// NewSimTransport creates a simulated transport publishing through pub.
func NewSimTransport(cfg SimConfig, pub Publisher) *SimTransport {
	return &SimTransport{
		cfg:    cfg,
		pub:    pub,
		orders: make(map[uint64]Order),
	}
}

// SubmitOrder answers a submission according to the configured mode.
func (t *SimTransport) SubmitOrder(_ context.Context, order Order) error {
	t.mu.Lock()
	t.orders[order.ID] = order
	t.mu.Unlock()

	if t.cfg.Mode == SimModeSilent {
		return nil
	}

	if t.cfg.Mode == SimModeReject {
		t.pub.PublishAck(schema.OrderAck{
			OrderID:   order.ID,
			IntentID:  order.IntentID,
			SymbolID:  order.SymbolID,
			Status:    schema.OrderAckStatusRejected,
			Reason:    schema.OrderAckReasonExchangeReject,
			Price:     order.Price,
			Qty:       order.Qty,
			LeavesQty: order.Qty,
		})
		return nil
	}

	t.pub.PublishAck(schema.OrderAck{
		OrderID:   order.ID,
		IntentID:  order.IntentID,
		SymbolID:  order.SymbolID,
		Status:    schema.OrderAckStatusAcked,
		Price:     order.Price,
		Qty:       order.Qty,
		LeavesQty: order.Qty,
	})

	switch t.cfg.Mode {
	case SimModeFill:
		t.pub.PublishFill(schema.Fill{
			OrderID:  order.ID,
			SymbolID: order.SymbolID,
			Side:     order.Side,
			Price:    order.Price,
			Qty:      order.Qty,
		})
	case SimModePartial:
		half := order.Qty / 2
		if half <= 0 {
			half = order.Qty
		}
		t.pub.PublishFill(schema.Fill{
			OrderID:  order.ID,
			SymbolID: order.SymbolID,
			Side:     order.Side,
			Price:    order.Price,
			Qty:      half,
		})
	}
	return nil
}

// CancelOrder confirms cancellation of a known order.
func (t *SimTransport) CancelOrder(_ context.Context, orderID uint64) error {
	t.mu.Lock()
	order, ok := t.orders[orderID]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownOrder
	}
	if t.cfg.Mode == SimModeSilent {
		return nil
	}

	t.pub.PublishAck(schema.OrderAck{
		OrderID:  order.ID,
		IntentID: order.IntentID,
		SymbolID: order.SymbolID,
		Status:   schema.OrderAckStatusCanceled,
		Price:    order.Price,
		Qty:      order.Qty,
	})
	return nil
}
