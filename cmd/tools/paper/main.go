package main

import (
	"context"
	"flag"
	"log"
	"time"

	"main/internal/engine"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/mdg"
	"main/internal/om"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	ticks := flag.Int("ticks", 10_000, "Number of synthetic ticks")
	interval := flag.Duration("interval", time.Millisecond, "Tick interval")
	seed := flag.Int64("seed", 1, "Generator seed")
	mode := flag.String("fill-mode", "fill", "Sim transport mode: fill, partial, ack, reject, silent")
	journalDir := flag.String("journal-dir", "", "Journal directory (empty=no journal)")
	snapshotPath := flag.String("snapshot-path", "", "Snapshot output (empty=no snapshot)")
	flag.Parse()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	loaded.Generator.Seed = *seed

	simMode, ok := parseMode(*mode)
	if !ok {
		log.Fatalf("unknown fill-mode: %s", *mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	led := ledger.New(loaded.Limits)
	gate := risk.NewGate(loaded.Risk, led)
	strat, err := strategy.Build(loaded.Strategy.Mode, loaded.Strategy.Params)
	if err != nil {
		log.Fatalf("strategy build failed: %v", err)
	}

	var writer *journal.Writer
	if *journalDir != "" {
		cfg := loaded.Journal
		cfg.Dir = *journalDir
		writer, err = journal.NewWriter(cfg)
		if err != nil {
			log.Fatalf("journal init failed: %v", err)
		}
		if err := writer.Start(ctx); err != nil {
			log.Fatalf("journal start failed: %v", err)
		}
	}

	eng := engine.New(engine.Config{
		SessionID:      "paper",
		QueueSize:      loaded.Engine.QueueSize,
		ClockTolerance: loaded.Engine.ClockTolerance,
		StaleAfter:     loaded.Engine.StaleAfter,
	}, engine.Deps{
		Registry:   loaded.Registry,
		Ledger:     led,
		Gate:       gate,
		Strategies: []strategy.Strategy{strat},
		Journal:    writer,
		TraceSeed:  uint64(*seed),
	})
	eng.SetTransport(om.NewSimTransport(om.SimConfig{Mode: simMode}, eng))

	gen, err := mdg.NewGenerator(loaded.Registry, loaded.Generator)
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}
	norm := mdg.NewNormalizer(loaded.Registry)

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for i := 0; i < *ticks; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			now := time.Now().UTC().UnixNano()
			tick := gen.Next(now)
			md, err := norm.Normalize(tick)
			if err != nil {
				continue
			}
			eng.PublishMarketData(md, tick.TsEvent)
		}
		// drain window for in-flight acks and fills
		time.Sleep(200 * time.Millisecond)
		eng.Stop()
	}()

	if err := eng.Run(ctx); err != nil {
		log.Fatalf("paper session failed: %v", err)
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Fatalf("journal close failed: %v", err)
		}
	}
	if *snapshotPath != "" {
		if err := state.Write(*snapshotPath, eng.Snapshot()); err != nil {
			log.Fatalf("snapshot write failed: %v", err)
		}
	}

	report(eng, loaded.Registry)
}

func report(eng *engine.Engine, reg *schema.Registry) {
	st := eng.Status()
	snap := eng.Metrics().Snapshot()
	log.Printf("session done: events=%v rejects=%v stale_fills=%d open_orders=%d open_reservations=%d",
		snap.EventCounts, snap.RiskReasonCounts, snap.StaleFills, st.OpenOrders, st.OpenReservations)
	for _, p := range st.Positions {
		name := ""
		if sym, ok := reg.Symbol(schema.SymbolID(p.SymbolID)); ok {
			name = sym.Name
		}
		log.Printf("position %s: qty=%d avg_cost=%d realized_pnl=%d", name, p.NetQty, p.AvgCost(), p.RealizedPnL)
	}
}

func parseMode(s string) (om.SimMode, bool) {
	switch s {
	case "fill", "":
		return om.SimModeFill, true
	case "partial":
		return om.SimModePartial, true
	case "ack":
		return om.SimModeAck, true
	case "reject":
		return om.SimModeReject, true
	case "silent":
		return om.SimModeSilent, true
	default:
		return 0, false
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path != "" {
		return ops.Load(path)
	}
	reg := schema.NewRegistry()
	scale := schema.ScaleSpec{
		PriceScale:    8,
		QuantityScale: 8,
		NotionalScale: 8,
		FeeScale:      8,
	}
	if _, err := reg.AddSymbol("TEST-USD", "SIM", scale); err != nil {
		return ops.Loaded{}, err
	}
	return ops.Loaded{
		SessionID: "paper",
		Registry:  reg,
		Limits: ledger.Limits{
			MaxPositionPerSymbol: schema.Quantity(5_000),
			MaxOrderNotional:     schema.Notional(1_000_000_000_000),
			MaxGrossExposure:     schema.Notional(10_000_000_000_000),
		},
		Risk: risk.Config{
			MaxOrderQty:     schema.Quantity(1_000),
			OrderRateLimit:  1_000,
			OrderRateWindow: time.Second,
		},
		Strategy: ops.StrategyConfig{
			Mode: "momentum",
			Params: strategy.Params{
				StrategyID:   1,
				OrderQty:     10,
				WindowTicks:  16,
				ThresholdBps: 5,
			},
		},
		Engine: ops.EngineConfig{
			QueueSize:      1 << 16,
			ClockTolerance: 5 * time.Millisecond,
			StaleAfter:     30 * time.Second,
		},
		Journal: journal.DefaultConfig(""),
		Generator: mdg.GeneratorConfig{
			BasePrice: 100_00000000,
			BaseSize:  1_00000000,
			Spread:    10000,
			StepBps:   3,
		},
	}, nil
}
