package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/archive"
	"main/internal/engine"
	"main/internal/ingest"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/mdg"
	"main/internal/obs"
	"main/internal/om"
	"main/internal/ops"
	"main/internal/opsrv"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Risk config reload interval (0=disable)")
	journalDir := flag.String("journal-dir", "testdata/journal", "Journal directory")
	snapshotPath := flag.String("snapshot-path", "", "Position snapshot output (default: <journal-dir>/positions.json)")
	recoverEnabled := flag.Bool("recover", false, "Recover positions from snapshot + journal before starting")
	tickInterval := flag.Duration("tick-interval", 10*time.Millisecond, "Synthetic tick interval")
	duration := flag.Duration("duration", 0, "Session duration (0=run until signal)")
	profile := flag.Bool("profile", false, "Enable continuous profiling")
	profileAddr := flag.String("profile-addr", "http://localhost:4040", "Profiler server address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "auratrader",
			ServerAddress:   *profileAddr,
			Tags:            map[string]string{"env": "local"},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("profiler start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if loaded.Journal.Dir == "" {
		loaded.Journal.Dir = *journalDir
	}
	snapshotOut := resolveSnapshotPath(loaded.Journal.Dir, *snapshotPath)
	if loaded.Engine.SnapshotPath != "" {
		snapshotOut = loaded.Engine.SnapshotPath
	}

	if err := run(ctx, loaded, runOptions{
		configPath:     *configPath,
		configReload:   *configReload,
		snapshotPath:   snapshotOut,
		recoverEnabled: *recoverEnabled,
		tickInterval:   *tickInterval,
		duration:       *duration,
	}); err != nil {
		log.Fatalf("session failed: %v", err)
	}
}

type runOptions struct {
	configPath     string
	configReload   time.Duration
	snapshotPath   string
	recoverEnabled bool
	tickInterval   time.Duration
	duration       time.Duration
}

func run(ctx context.Context, loaded ops.Loaded, opts runOptions) error {
	led := ledger.New(loaded.Limits)
	gate := risk.NewGate(loaded.Risk, led)
	strat, err := strategy.Build(loaded.Strategy.Mode, loaded.Strategy.Params)
	if err != nil {
		return err
	}

	writer, err := journal.NewWriter(loaded.Journal)
	if err != nil {
		return err
	}
	if err := writer.Start(ctx); err != nil {
		return err
	}

	var arch *archive.Archive
	var archiver engine.Archiver
	if loaded.Archive.Enabled {
		arch, err = archive.New(archive.Config{
			DSN:       loaded.Archive.DSN,
			SessionID: loaded.SessionID,
		}, loaded.Registry)
		if err != nil {
			return err
		}
		archiver = arch
	}

	eng := engine.New(engine.Config{
		SessionID:      loaded.SessionID,
		QueueSize:      loaded.Engine.QueueSize,
		ClockTolerance: loaded.Engine.ClockTolerance,
		StaleAfter:     loaded.Engine.StaleAfter,
		StaleInterval:  loaded.Engine.StaleAfter,
	}, engine.Deps{
		Registry:   loaded.Registry,
		Ledger:     led,
		Gate:       gate,
		Strategies: []strategy.Strategy{strat},
		Journal:    writer,
		Archive:    archiver,
		Metrics:    obs.NewMetrics(),
	})
	eng.SetTransport(om.NewSimTransport(om.SimConfig{Mode: om.SimModeFill}, eng))

	if opts.recoverEnabled {
		result, err := state.Recover(ctx, state.RecoverConfig{
			SnapshotPath: opts.snapshotPath,
			JournalDir:   loaded.Journal.Dir,
			FilePrefix:   loaded.Journal.FilePrefix,
		}, led)
		if err != nil {
			return err
		}
		eng.RestoreCursor(result.LastSeq, result.LastEventTs)
	}

	var server *opsrv.Server
	if loaded.Server.Addr != "" {
		server = opsrv.NewServer(loaded.Server.Addr, eng, loaded.Registry)
		server.Start()
	}

	if opts.configPath != "" && opts.configReload > 0 {
		go watchRiskConfig(ctx, opts.configPath, opts.configReload, eng)
	}

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	if opts.duration > 0 {
		var cancelTimer context.CancelFunc
		feedCtx, cancelTimer = context.WithTimeout(feedCtx, opts.duration)
		defer cancelTimer()
	}

	if loaded.Feed.Enabled {
		if err := startLiveFeed(feedCtx, loaded, eng); err != nil {
			return err
		}
	} else {
		go runGenerator(feedCtx, loaded, eng, opts.tickInterval)
	}

	go func() {
		<-feedCtx.Done()
		// drain window for in-flight acks and fills
		time.Sleep(100 * time.Millisecond)
		eng.Stop()
	}()

	runErr := eng.Run(ctx)

	if err := state.Write(opts.snapshotPath, eng.Snapshot()); err != nil {
		logs.Errorf("write snapshot: %+v", err)
	}
	if err := writer.Close(); err != nil {
		logs.Errorf("close journal: %+v", err)
	}
	if arch != nil {
		if err := arch.Close(); err != nil {
			logs.Errorf("close archive: %+v", err)
		}
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logs.Errorf("shutdown server: %+v", err)
		}
	}

	snap := eng.Metrics().Snapshot()
	log.Printf("metrics: events=%v risk_reasons=%v drops=%d stale_fills=%d gaps=%d order_flow=%+v risk_eval=%+v",
		snap.EventCounts, snap.RiskReasonCounts, snap.QueueDrops, snap.StaleFills, snap.FeedGaps,
		snap.OrderFlowLatency, snap.RiskEvalLatency)
	return runErr
}

func runGenerator(ctx context.Context, loaded ops.Loaded, eng *engine.Engine, interval time.Duration) {
	gen, err := mdg.NewGenerator(loaded.Registry, loaded.Generator)
	if err != nil {
		logs.Errorf("generator init: %+v", err)
		return
	}
	norm := mdg.NewNormalizer(loaded.Registry)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC().UnixNano()
			tick := gen.Next(now)
			publishTick(eng, norm, tick)
		}
	}
}

func startLiveFeed(ctx context.Context, loaded ops.Loaded, eng *engine.Engine) error {
	feed := ingest.NewFeed(ctx, ingest.Config{
		URL:    loaded.Feed.URL,
		Source: loaded.Feed.Source,
	}, loaded.Registry)
	if err := feed.Start(ctx); err != nil {
		return err
	}
	for _, symbol := range loaded.Feed.Streams {
		if err := feed.SubscribeTrades(ctx, symbol); err != nil {
			return err
		}
	}
	norm := mdg.NewNormalizer(loaded.Registry)
	feed.ObserveTrades(ctx, func(tick mdg.RawTick) {
		publishTick(eng, norm, tick)
	})
	go func() {
		<-ctx.Done()
		feed.Close()
	}()
	return nil
}

func publishTick(eng *engine.Engine, norm *mdg.Normalizer, tick mdg.RawTick) {
	if gap, ok := norm.ObserveFeedSeq(tick.Source, tick.FeedSeq); ok {
		eng.PublishFeedGap(gap, tick.TsEvent)
	}
	md, err := norm.Normalize(tick)
	if err != nil {
		logs.Errorf("normalize tick %s: %+v", tick.Symbol, err)
		return
	}
	eng.PublishMarketData(md, tick.TsEvent)
}

func watchRiskConfig(ctx context.Context, path string, interval time.Duration, eng *engine.Engine) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("config stat failed: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			cfg, err := ops.LoadRisk(path)
			if err != nil {
				logs.Errorf("config reload failed: %+v", err)
				continue
			}
			if eng.UpdateRiskConfig(cfg) {
				logs.Infof("risk config reloaded, version=%d", cfg.Version)
			}
		}
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

func defaultLoaded() (ops.Loaded, error) {
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
		SessionID: "local",
		Registry:  reg,
		Limits: ledger.Limits{
			MaxPositionPerSymbol: schema.Quantity(5_000),
			MaxOrderNotional:     schema.Notional(1_000_000_000),
			MaxGrossExposure:     schema.Notional(10_000_000_000),
		},
		Risk: risk.Config{
			MaxOrderQty:     schema.Quantity(1_000),
			OrderRateLimit:  100,
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
			Seed:      1,
			BasePrice: 100_00000000,
			BaseSize:  1_00000000,
			Spread:    10000,
			StepBps:   3,
		},
	}, nil
}

func resolveSnapshotPath(dir string, path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(dir, "positions.json")
}
