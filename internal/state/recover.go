package state

import (
	"context"
	"os"

	"github.com/yanun0323/logs"

	"main/internal/codec"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/schema"
)

// RecoverConfig controls startup recovery.
type RecoverConfig struct {
	SnapshotPath string
	JournalDir   string
	FilePrefix   string
}

// RecoverResult reports what recovery restored.
type RecoverResult struct {
	SnapshotLoaded bool
	LastSeq        uint64
	LastEventTs    int64
	ReplayedFills  uint64
	SkippedEvents  uint64
}

// Recover restores the ledger's confirmed positions from the latest
// snapshot, then replays journal fills past the snapshot's cursor.
// The engine journals a fill only after the order manager accepts it, so
// every journaled fill is one the live ledger applied and each can be
// replayed without order state. Reservations and open orders are not
// restored.
func Recover(ctx context.Context, cfg RecoverConfig, led *ledger.Ledger) (RecoverResult, error) {
	var result RecoverResult

	snap, err := Read(cfg.SnapshotPath)
	switch {
	case err == nil:
		positions := make([]ledger.Position, 0, len(snap.Positions))
		for _, entry := range snap.Positions {
			positions = append(positions, ledger.Position{
				SymbolID:    entry.SymbolID,
				NetQty:      entry.NetQty,
				CostBasis:   entry.CostBasis,
				RealizedPnL: entry.RealizedPnL,
			})
		}
		led.RestorePositions(positions)
		result.SnapshotLoaded = true
		result.LastSeq = snap.LastSeq
		result.LastEventTs = snap.LastEventTs
		logs.Infof("recover: snapshot loaded, positions=%d lastSeq=%d", len(positions), snap.LastSeq)
	case os.IsNotExist(err):
		logs.Infof("recover: no snapshot at %s, cold start", cfg.SnapshotPath)
	default:
		return result, err
	}

	if cfg.JournalDir == "" {
		return result, nil
	}
	if _, err := os.Stat(cfg.JournalDir); os.IsNotExist(err) {
		return result, nil
	}

	playback, err := journal.NewPlayback(journal.PlaybackConfig{
		Dir:        cfg.JournalDir,
		FilePrefix: cfg.FilePrefix,
	})
	if err != nil {
		return result, err
	}

	cursor := result.LastSeq
	err = playback.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		if cursor > 0 && header.Seq <= cursor {
			result.SkippedEvents++
			return nil
		}
		if header.Seq > result.LastSeq {
			result.LastSeq = header.Seq
		}
		if header.TsEvent > result.LastEventTs {
			result.LastEventTs = header.TsEvent
		}
		if schema.EventType(header.Type) != schema.EventFill {
			return nil
		}
		fill, ok := codec.DecodeFill(payload)
		if !ok {
			logs.Errorf("recover: short fill payload, seq=%d len=%d", header.Seq, len(payload))
			return nil
		}
		led.ReplayFill(fill.SymbolID, fill.Side, fill.Qty, fill.Price)
		result.ReplayedFills++
		return nil
	})
	if err != nil {
		return result, err
	}

	logs.Infof("recover: replayed fills=%d skipped=%d lastSeq=%d", result.ReplayedFills, result.SkippedEvents, result.LastSeq)
	return result, nil
}
