package strategy

import (
	"main/internal/ledger"
	"main/internal/schema"
)

// Momentum emits an intent in the direction of the price move when the
// change across the rolling window exceeds the threshold and the window
// carries enough traded notional.
type Momentum struct {
	params  Params
	windows map[uint32]*tickWindow
}

// NewMomentum builds a momentum strategy.
func NewMomentum(params Params) *Momentum {
	return &Momentum{
		params:  params.withDefaults(),
		windows: make(map[uint32]*tickWindow),
	}
}

// Name returns the strategy identifier used in logs and the journal.
func (s *Momentum) Name() string { return "momentum" }

// Reset drops the rolling window for a symbol after a feed gap.
func (s *Momentum) Reset(symbolID uint32) {
	if w, ok := s.windows[symbolID]; ok {
		w.reset()
	}
}

// Evaluate observes one event and emits at most one intent.
func (s *Momentum) Evaluate(md schema.MarketData, view ledger.View) []schema.OrderIntent {
	price := eventPrice(md)
	if price <= 0 || md.SymbolID == 0 {
		return nil
	}

	w, ok := s.windows[md.SymbolID]
	if !ok {
		w = newTickWindow(s.params.WindowTicks)
		s.windows[md.SymbolID] = w
	}
	w.push(price, md.Size)
	if !w.full() {
		return nil
	}

	change := deltaBps(w.first(), w.last())
	side := schema.OrderSideUnknown
	switch {
	case change >= s.params.ThresholdBps:
		side = schema.OrderSideBuy
	case change <= -s.params.ThresholdBps:
		side = schema.OrderSideSell
	default:
		return nil
	}
	if s.params.MinNotional > 0 && w.notional() < s.params.MinNotional {
		return nil
	}

	// Already loaded in the signal direction, counting open reservations:
	// stay put instead of pyramiding.
	exposure := int64(view.Position(md.SymbolID).NetQty) + int64(view.Reserved(md.SymbolID))
	if side == schema.OrderSideBuy && exposure > 0 {
		return nil
	}
	if side == schema.OrderSideSell && exposure < 0 {
		return nil
	}

	return []schema.OrderIntent{{
		StrategyID:  s.params.StrategyID,
		SymbolID:    md.SymbolID,
		Side:        side,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       price,
		Qty:         s.params.OrderQty,
	}}
}
