package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"main/internal/ledger"
	"main/internal/schema"
)

// Snapshot captures confirmed positions at a point in time, together with
// the journal cursor they are consistent with. Reservations and open orders
// are deliberately absent: they do not survive a restart, and orders left
// open at a crash are an operator problem, not a replay problem.
type Snapshot struct {
	Timestamp   int64           `json:"timestamp"`
	SessionID   string          `json:"sessionId,omitempty"`
	LastSeq     uint64          `json:"lastSeq"`
	LastEventTs int64           `json:"lastEventTs"`
	Positions   []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	SymbolID    uint32          `json:"symbolId"`
	NetQty      schema.Quantity `json:"netQty"`
	CostBasis   schema.Notional `json:"costBasis"`
	RealizedPnL schema.Notional `json:"realizedPnl"`
}

// Capture builds a snapshot from the ledger's current positions.
func Capture(led *ledger.Ledger, sessionID string, lastSeq uint64, lastEventTs int64) Snapshot {
	positions := led.Positions()
	entries := make([]PositionEntry, 0, len(positions))
	for _, p := range positions {
		entries = append(entries, PositionEntry{
			SymbolID:    p.SymbolID,
			NetQty:      p.NetQty,
			CostBasis:   p.CostBasis,
			RealizedPnL: p.RealizedPnL,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SymbolID < entries[j].SymbolID
	})
	return Snapshot{
		Timestamp:   time.Now().UTC().UnixNano(),
		SessionID:   sessionID,
		LastSeq:     lastSeq,
		LastEventTs: lastEventTs,
		Positions:   entries,
	}
}

// Write writes a snapshot to disk as JSON.
func Write(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Read loads a snapshot from disk.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Compare checks if two snapshots hold the same positions.
func Compare(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[uint32]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.SymbolID] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.SymbolID]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %d", entry.SymbolID)
		}
		if want.NetQty != entry.NetQty {
			return fmt.Errorf("snapshot qty mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.NetQty, entry.NetQty)
		}
		if want.CostBasis != entry.CostBasis {
			return fmt.Errorf("snapshot cost mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.CostBasis, entry.CostBasis)
		}
		if want.RealizedPnL != entry.RealizedPnL {
			return fmt.Errorf("snapshot pnl mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.RealizedPnL, entry.RealizedPnL)
		}
	}
	return nil
}
