package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"main/internal/codec"
	"main/internal/engine"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/om"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
)

func main() {
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	useRecv := flag.Bool("use-recv-time", false, "Use receive timestamp for pacing")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Print each record with decoded payload")
	snapshotPath := flag.String("snapshot", "", "Snapshot path for verification")
	verify := flag.Bool("verify", false, "Rebuild state and verify against snapshot")
	maxPosition := flag.Int64("max-position", 1_000_000, "Position limit used while rebuilding")
	maxNotional := flag.Int64("max-notional", 1_000_000_000_000, "Order notional limit used while rebuilding")
	maxExposure := flag.Int64("max-exposure", 1_000_000_000_000, "Gross exposure limit used while rebuilding")
	flag.Parse()

	cfg := journal.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		UseRecvTime:     *useRecv,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	}
	pb, err := journal.NewPlayback(cfg)
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	ctx := context.Background()

	var eng *engine.Engine
	if *verify {
		led := ledger.New(ledger.Limits{
			MaxPositionPerSymbol: schema.Quantity(*maxPosition),
			MaxOrderNotional:     schema.Notional(*maxNotional),
			MaxGrossExposure:     schema.Notional(*maxExposure),
		})
		eng = engine.New(engine.Config{
			SessionID: "replay",
			Replay:    true,
		}, engine.Deps{
			Registry: schema.NewRegistry(),
			Ledger:   led,
			Gate:     risk.NewGate(risk.Config{MaxOrderQty: schema.Quantity(*maxPosition)}, led),
		})
		eng.SetTransport(replayTransport{})
	}

	var index int
	counts := make(map[schema.EventType]int)
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		index++
		counts[header.Type]++
		if *decode {
			fmt.Printf("%06d seq=%d type=%s ts_event=%d ts_recv=%d len=%d\n",
				index, header.Seq, eventTypeName(header.Type), header.TsEvent, header.TsRecv, len(payload))
			printDecoded(header.Type, payload)
		}
		if eng != nil {
			copied := make([]byte, len(payload))
			copy(copied, payload)
			return eng.Apply(header, copied)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}

	log.Printf("replay completed: total=%d counts=%v", index, counts)

	if *verify {
		if *snapshotPath == "" {
			log.Fatalf("verify requires -snapshot")
		}
		expected, err := state.Read(*snapshotPath)
		if err != nil {
			log.Fatalf("read snapshot failed: %v", err)
		}
		actual := eng.Snapshot()
		if err := state.Compare(expected, actual); err != nil {
			log.Fatalf("snapshot mismatch: %v", err)
		}
		log.Printf("snapshot verified: positions=%d", len(actual.Positions))
	}
}

// replayTransport swallows submissions; journaled acks and fills drive the
// rebuilt order lifecycle instead.
type replayTransport struct{}

func (replayTransport) SubmitOrder(context.Context, om.Order) error { return nil }

func (replayTransport) CancelOrder(context.Context, uint64) error { return nil }

func eventTypeName(t schema.EventType) string {
	switch t {
	case schema.EventMarketData:
		return "MarketData"
	case schema.EventOrderIntent:
		return "OrderIntent"
	case schema.EventRiskDecision:
		return "RiskDecision"
	case schema.EventOrderAck:
		return "OrderAck"
	case schema.EventFill:
		return "Fill"
	case schema.EventFeedGap:
		return "FeedGap"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

func printDecoded(t schema.EventType, payload []byte) {
	switch t {
	case schema.EventMarketData:
		if md, ok := codec.DecodeMarketData(payload); ok {
			fmt.Printf("       symbol=%d kind=%d price=%d size=%d bid=%d ask=%d\n",
				md.SymbolID, md.Kind, md.Price, md.Size, md.BidPrice, md.AskPrice)
		}
	case schema.EventOrderIntent:
		if intent, ok := codec.DecodeOrderIntent(payload); ok {
			fmt.Printf("       intent=%d strategy=%d symbol=%d side=%d price=%d qty=%d\n",
				intent.IntentID, intent.StrategyID, intent.SymbolID, intent.Side, intent.Price, intent.Qty)
		}
	case schema.EventRiskDecision:
		if d, ok := codec.DecodeRiskDecision(payload); ok {
			fmt.Printf("       intent=%d action=%d reason=%d pos=%d reserved=%d\n",
				d.IntentID, d.Action, d.Reason, d.CurrentPos, d.ReservedQty)
		}
	case schema.EventOrderAck:
		if ack, ok := codec.DecodeOrderAck(payload); ok {
			fmt.Printf("       order=%d intent=%d status=%d reason=%d leaves=%d\n",
				ack.OrderID, ack.IntentID, ack.Status, ack.Reason, ack.LeavesQty)
		}
	case schema.EventFill:
		if fill, ok := codec.DecodeFill(payload); ok {
			fmt.Printf("       order=%d symbol=%d side=%d price=%d qty=%d fee=%d\n",
				fill.OrderID, fill.SymbolID, fill.Side, fill.Price, fill.Qty, fill.Fee)
		}
	case schema.EventFeedGap:
		if gap, ok := codec.DecodeFeedGap(payload); ok {
			fmt.Printf("       symbol=%d source=%d last=%d next=%d\n",
				gap.SymbolID, gap.Source, gap.LastSeq, gap.NextSeq)
		}
	}
}
