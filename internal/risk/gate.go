package risk

import (
	"errors"
	"time"

	"main/internal/ledger"
	"main/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Config defines session-level checks applied before the ledger reserves
// exposure for an intent.
type Config struct {
	Version              uint16          `json:"version"`
	KillSwitch           bool            `json:"killSwitch"`
	MaxOrderQty          schema.Quantity `json:"maxOrderQty"`
	OrderRateLimit       int             `json:"orderRateLimit"`
	OrderRateWindow      time.Duration   `json:"orderRateWindow"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps"`
}

// Gate validates candidate intents and reserves exposure for the ones it
// admits. No intent becomes an order without passing through here.
type Gate struct {
	cfg             Config
	ledger          *ledger.Ledger
	rateWindowStart int64
	rateCount       int
}

// NewGate creates a risk gate bound to a ledger.
func NewGate(cfg Config, led *ledger.Ledger) *Gate {
	return &Gate{cfg: cfg, ledger: led}
}

// Config returns the active session limits.
func (g *Gate) Config() Config {
	return g.cfg
}

// SetConfig swaps session limits. The new config is ignored unless its
// version is strictly greater than the active one.
func (g *Gate) SetConfig(cfg Config) bool {
	if cfg.Version <= g.cfg.Version {
		return false
	}
	g.cfg = cfg
	return true
}

// Admit checks an intent against session limits and, when every check
// passes, records a reservation in the ledger. Admission is all-or-nothing:
// a denied intent reserves nothing. The returned decision carries the
// violated limit for journaling.
func (g *Gate) Admit(intent schema.OrderIntent, refPrice schema.Price, now int64) (schema.RiskDecision, ledger.Reservation) {
	limits := g.ledger.Limits()
	decision := schema.RiskDecision{
		IntentID:      intent.IntentID,
		StrategyID:    intent.StrategyID,
		SymbolID:      intent.SymbolID,
		Action:        schema.RiskActionAllow,
		Reason:        schema.RiskReasonNone,
		ProposedQty:   intent.Qty,
		ProposedPrice: intent.Price,
		CurrentPos:    g.ledger.Position(intent.SymbolID).NetQty,
		ReservedQty:   g.ledger.Reserved(intent.SymbolID),
		MaxPos:        limits.MaxPositionPerSymbol,
	}

	if now == 0 {
		now = time.Now().UTC().UnixNano()
	}

	if g.cfg.KillSwitch {
		return deny(decision, schema.RiskReasonKillSwitch), ledger.Reservation{}
	}

	if g.cfg.OrderRateLimit > 0 && g.cfg.OrderRateWindow > 0 {
		window := int64(g.cfg.OrderRateWindow)
		if g.rateWindowStart == 0 || now-g.rateWindowStart >= window {
			g.rateWindowStart = now
			g.rateCount = 0
		}
		g.rateCount++
		if g.rateCount > g.cfg.OrderRateLimit {
			return deny(decision, schema.RiskReasonRateLimit), ledger.Reservation{}
		}
	}

	if g.cfg.MaxOrderQty > 0 && intent.Qty > g.cfg.MaxOrderQty {
		return deny(decision, schema.RiskReasonMaxQty), ledger.Reservation{}
	}

	if g.cfg.MaxPriceDeviationBps > 0 && intent.Type == schema.OrderTypeLimit && intent.Price > 0 && refPrice > 0 {
		diff := absInt64(int64(intent.Price) - int64(refPrice))
		if exceedsDeviation(diff, int64(refPrice), g.cfg.MaxPriceDeviationBps) {
			return deny(decision, schema.RiskReasonPriceBand), ledger.Reservation{}
		}
	}

	reservation, err := g.ledger.Reserve(intent)
	if err != nil {
		return deny(decision, reserveReason(err)), ledger.Reservation{}
	}
	return decision, reservation
}

func deny(decision schema.RiskDecision, reason schema.RiskReason) schema.RiskDecision {
	decision.Action = schema.RiskActionDeny
	decision.Reason = reason
	return decision
}

func reserveReason(err error) schema.RiskReason {
	switch {
	case errors.Is(err, ledger.ErrPositionLimit):
		return schema.RiskReasonPositionLimit
	case errors.Is(err, ledger.ErrNotionalLimit):
		return schema.RiskReasonMaxNotional
	case errors.Is(err, ledger.ErrGrossExposure):
		return schema.RiskReasonGrossExposure
	default:
		return schema.RiskReasonPositionLimit
	}
}

func exceedsDeviation(diff, ref, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
