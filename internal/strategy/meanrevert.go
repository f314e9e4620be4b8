package strategy

import (
	"main/internal/ledger"
	"main/internal/schema"
)

// MeanRevert fades moves away from the rolling mean: it sells when price
// stretches above the mean by the threshold and buys when it stretches
// below.
type MeanRevert struct {
	params  Params
	windows map[uint32]*tickWindow
}

// NewMeanRevert builds a mean reversion strategy.
func NewMeanRevert(params Params) *MeanRevert {
	return &MeanRevert{
		params:  params.withDefaults(),
		windows: make(map[uint32]*tickWindow),
	}
}

// Name returns the strategy identifier used in logs and the journal.
func (s *MeanRevert) Name() string { return "mean_revert" }

// Reset drops the rolling window for a symbol after a feed gap.
func (s *MeanRevert) Reset(symbolID uint32) {
	if w, ok := s.windows[symbolID]; ok {
		w.reset()
	}
}

// Evaluate observes one event and emits at most one intent.
func (s *MeanRevert) Evaluate(md schema.MarketData, view ledger.View) []schema.OrderIntent {
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

	stretch := deltaBps(w.mean(), price)
	side := schema.OrderSideUnknown
	switch {
	case stretch >= s.params.ThresholdBps:
		side = schema.OrderSideSell
	case stretch <= -s.params.ThresholdBps:
		side = schema.OrderSideBuy
	default:
		return nil
	}

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
