package strategy

import (
	"fmt"
	"strings"

	"main/internal/ledger"
	"main/internal/schema"
)

// Strategy evaluates one market data event against a ledger view and
// returns candidate order intents. Implementations must be deterministic:
// identical event sequences and identical views produce identical intents.
// Internal state may only derive from the events observed; wall-clock reads
// and unseeded randomness are not allowed.
type Strategy interface {
	Name() string
	Evaluate(md schema.MarketData, view ledger.View) []schema.OrderIntent

	// Reset drops continuity-dependent state after a feed gap.
	Reset(symbolID uint32)
}

// Params expresses the tunable knobs shared by strategy constructors.
// Alpha values are configuration, not code.
type Params struct {
	StrategyID   uint32          `json:"strategyId"`
	OrderQty     schema.Quantity `json:"orderQty"`
	WindowTicks  int             `json:"windowTicks"`
	ThresholdBps int64           `json:"thresholdBps"`
	MinNotional  schema.Notional `json:"minNotional"`
}

func (p Params) withDefaults() Params {
	if p.StrategyID == 0 {
		p.StrategyID = 1
	}
	if p.OrderQty <= 0 {
		p.OrderQty = 1
	}
	if p.WindowTicks <= 0 {
		p.WindowTicks = 16
	}
	if p.ThresholdBps <= 0 {
		p.ThresholdBps = 50
	}
	return p
}

// Build returns the strategy implementation matching the configured mode.
// Selection happens once at session configuration time.
func Build(mode string, params Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "momentum":
		return NewMomentum(params), nil
	case "mean_revert", "meanrevert":
		return NewMeanRevert(params), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode: %s", mode)
	}
}

// tickWindow is a fixed-capacity rolling window of observed prices.
type tickWindow struct {
	prices []schema.Price
	sizes  []schema.Quantity
	cap    int
}

func newTickWindow(capacity int) *tickWindow {
	return &tickWindow{cap: capacity}
}

func (w *tickWindow) push(price schema.Price, size schema.Quantity) {
	w.prices = append(w.prices, price)
	w.sizes = append(w.sizes, size)
	if len(w.prices) > w.cap {
		w.prices = w.prices[1:]
		w.sizes = w.sizes[1:]
	}
}

func (w *tickWindow) full() bool {
	return len(w.prices) >= w.cap
}

func (w *tickWindow) first() schema.Price {
	if len(w.prices) == 0 {
		return 0
	}
	return w.prices[0]
}

func (w *tickWindow) last() schema.Price {
	if len(w.prices) == 0 {
		return 0
	}
	return w.prices[len(w.prices)-1]
}

func (w *tickWindow) mean() schema.Price {
	if len(w.prices) == 0 {
		return 0
	}
	var sum int64
	for _, p := range w.prices {
		sum += int64(p)
	}
	return schema.Price(sum / int64(len(w.prices)))
}

func (w *tickWindow) notional() schema.Notional {
	var total int64
	for i := range w.prices {
		total += int64(w.prices[i]) * int64(w.sizes[i])
	}
	if total < 0 {
		total = -total
	}
	return schema.Notional(total)
}

func (w *tickWindow) reset() {
	w.prices = w.prices[:0]
	w.sizes = w.sizes[:0]
}

// eventPrice extracts the reference price from a market data event: the
// trade price for trades, the mid for quotes.
func eventPrice(md schema.MarketData) schema.Price {
	switch md.Kind {
	case schema.MarketDataTrade:
		return md.Price
	case schema.MarketDataQuote:
		if md.BidPrice > 0 && md.AskPrice > 0 {
			return (md.BidPrice + md.AskPrice) / 2
		}
		return md.Price
	default:
		return 0
	}
}

// deltaBps returns the move from base to price in basis points.
func deltaBps(base, price schema.Price) int64 {
	if base <= 0 {
		return 0
	}
	return (int64(price) - int64(base)) * 10000 / int64(base)
}
