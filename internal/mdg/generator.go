package mdg

import (
	"fmt"
	"math/rand"

	"main/internal/schema"
)

// GeneratorConfig controls the synthetic tick generator.
type GeneratorConfig struct {
	Seed      int64                 `json:"seed"`
	BasePrice int64                 `json:"basePrice"`
	BaseSize  int64                 `json:"baseSize"`
	Spread    int64                 `json:"spread"`
	StepBps   int64                 `json:"stepBps"`
	Kind      schema.MarketDataKind `json:"-"`
}

// Generator creates a deterministic synthetic tick stream for paper
// sessions and backtests. All randomness comes from the configured seed so
// two runs with the same seed produce byte-identical ticks.
type Generator struct {
	cfg     GeneratorConfig
	symbols []schema.Symbol
	prices  []int64
	rng     *rand.Rand
	index   int
	feedSeq uint64
}

// NewGenerator creates a generator for all symbols in the registry.
func NewGenerator(reg *schema.Registry, cfg GeneratorConfig) (*Generator, error) {
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if cfg.BasePrice <= 0 {
		return nil, fmt.Errorf("basePrice must be > 0")
	}
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 1
	}
	if cfg.Spread < 0 {
		cfg.Spread = 0
	}
	if cfg.StepBps <= 0 {
		cfg.StepBps = 10
	}
	if cfg.Kind == schema.MarketDataUnknown {
		cfg.Kind = schema.MarketDataTrade
	}

	symbols := make([]schema.Symbol, 0, reg.SymbolCount())
	prices := make([]int64, 0, reg.SymbolCount())
	for i := 0; i < reg.SymbolCount(); i++ {
		symbol, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		symbols = append(symbols, symbol)
		prices = append(prices, cfg.BasePrice)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}

	return &Generator{
		cfg:     cfg,
		symbols: symbols,
		prices:  prices,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Next creates the next raw tick: a seeded random walk over the registry's
// symbols in round-robin order. The caller supplies event time.
func (g *Generator) Next(tsEvent int64) RawTick {
	i := g.index
	g.index = (g.index + 1) % len(g.symbols)
	g.feedSeq++

	step := g.prices[i] * g.cfg.StepBps / 10000
	if step <= 0 {
		step = 1
	}
	switch g.rng.Intn(3) {
	case 0:
		g.prices[i] += step
	case 1:
		if g.prices[i] > step {
			g.prices[i] -= step
		}
	}

	price := g.prices[i]
	return RawTick{
		Symbol:   g.symbols[i].Name,
		Kind:     g.cfg.Kind,
		Price:    price,
		Size:     g.cfg.BaseSize,
		BidPrice: price - g.cfg.Spread,
		BidSize:  g.cfg.BaseSize,
		AskPrice: price + g.cfg.Spread,
		AskSize:  g.cfg.BaseSize,
		FeedSeq:  g.feedSeq,
		TsEvent:  tsEvent,
		TsRecv:   tsEvent,
	}
}
