package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"main/internal/chaos"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/mdg"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/strategy"
)

// FileConfig mirrors the JSON config layout. Prices, quantities, and
// notionals are scaled integers per the symbol's scale spec.
type FileConfig struct {
	Registry  RegistryConfig      `json:"registry"`
	Limits    ledger.Limits       `json:"limits"`
	Risk      risk.Config         `json:"risk"`
	Strategy  StrategyConfig      `json:"strategy"`
	Engine    EngineConfig        `json:"engine"`
	Journal   journal.Config      `json:"journal"`
	Generator mdg.GeneratorConfig `json:"generator"`
	Feed      FeedConfig          `json:"feed"`
	Chaos     chaos.Config        `json:"chaos"`
	Archive   ArchiveConfig       `json:"archive"`
	Server    ServerConfig        `json:"server"`
}

// RegistryConfig defines the tradable symbols.
type RegistryConfig struct {
	Symbols []SymbolConfig `json:"symbols"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name  string           `json:"name"`
	Venue string           `json:"venue"`
	Scale schema.ScaleSpec `json:"scale"`
}

// StrategyConfig selects and parameterizes the evaluator.
type StrategyConfig struct {
	Mode   string          `json:"mode"`
	Params strategy.Params `json:"params"`
}

// EngineConfig holds event loop settings.
type EngineConfig struct {
	QueueSize      int           `json:"queueSize"`
	ClockTolerance time.Duration `json:"clockTolerance"`
	StaleAfter     time.Duration `json:"staleAfter"`
	SnapshotPath   string        `json:"snapshotPath"`
}

// FeedConfig describes the live market data source.
type FeedConfig struct {
	Enabled bool     `json:"enabled"`
	URL     string   `json:"url"`
	Source  uint16   `json:"source"`
	Streams []string `json:"streams"`
}

// ArchiveConfig describes the terminal-order archive database.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// ServerConfig describes the operator HTTP listener.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	SessionID string
	Registry  *schema.Registry
	Limits    ledger.Limits
	Risk      risk.Config
	Strategy  StrategyConfig
	Engine    EngineConfig
	Journal   journal.Config
	Generator mdg.GeneratorConfig
	Feed      FeedConfig
	Chaos     chaos.Config
	Archive   ArchiveConfig
	Server    ServerConfig
}

// Load reads a JSON config file, validates it, and builds the registry.
// Each call mints a fresh session ID.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateLimits(cfg.Limits); err != nil {
		return Loaded{}, err
	}
	if err := validateRisk(cfg.Risk); err != nil {
		return Loaded{}, err
	}
	return Loaded{
		SessionID: uuid.NewString(),
		Registry:  registry,
		Limits:    cfg.Limits,
		Risk:      cfg.Risk,
		Strategy:  cfg.Strategy,
		Engine:    resolveEngine(cfg.Engine),
		Journal:   cfg.Journal,
		Generator: cfg.Generator,
		Feed:      cfg.Feed,
		Chaos:     cfg.Chaos,
		Archive:   cfg.Archive,
		Server:    cfg.Server,
	}, nil
}

// LoadRisk reads the config file and returns only the risk section.
// Used by the hot-reload path so a bad edit elsewhere cannot take down
// a running session.
func LoadRisk(path string) (risk.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return risk.Config{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return risk.Config{}, err
	}
	if err := validateRisk(cfg.Risk); err != nil {
		return risk.Config{}, err
	}
	return cfg.Risk, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	reg := schema.NewRegistry()
	for _, sym := range cfg.Symbols {
		if err := validateScale(sym.Scale); err != nil {
			return nil, fmt.Errorf("invalid scale for %s: %w", sym.Name, err)
		}
		if _, err := reg.AddSymbol(sym.Name, sym.Venue, sym.Scale); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func validateScale(scale schema.ScaleSpec) error {
	if scale.PriceScale < 0 || scale.QuantityScale < 0 || scale.NotionalScale < 0 || scale.FeeScale < 0 {
		return fmt.Errorf("scale must be >= 0")
	}
	return nil
}

func validateLimits(limits ledger.Limits) error {
	if limits.MaxPositionPerSymbol <= 0 {
		return fmt.Errorf("limits.maxPositionPerSymbol must be > 0")
	}
	if limits.MaxOrderNotional <= 0 {
		return fmt.Errorf("limits.maxOrderNotional must be > 0")
	}
	if limits.MaxGrossExposure <= 0 {
		return fmt.Errorf("limits.maxGrossExposure must be > 0")
	}
	return nil
}

func validateRisk(cfg risk.Config) error {
	if cfg.MaxOrderQty <= 0 {
		return fmt.Errorf("risk.maxOrderQty must be > 0")
	}
	if cfg.OrderRateLimit < 0 {
		return fmt.Errorf("risk.orderRateLimit must be >= 0")
	}
	if cfg.OrderRateWindow < 0 {
		return fmt.Errorf("risk.orderRateWindow must be >= 0")
	}
	if cfg.MaxPriceDeviationBps < 0 {
		return fmt.Errorf("risk.maxPriceDeviationBps must be >= 0")
	}
	return nil
}

func resolveEngine(cfg EngineConfig) EngineConfig {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1 << 16
	}
	if cfg.ClockTolerance <= 0 {
		cfg.ClockTolerance = 5 * time.Millisecond
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	return cfg
}
