package main

import (
	"context"
	"flag"
	"log"

	"main/internal/bus"
	"main/internal/chaos"
	"main/internal/journal"
	"main/internal/schema"
)

func main() {
	inputDir := flag.String("input-dir", "testdata/journal", "Input journal directory")
	inputPrefix := flag.String("input-prefix", "", "Input journal file prefix (default: journal)")
	outputDir := flag.String("output-dir", "testdata/journal_chaos", "Output journal directory")
	outputPrefix := flag.String("output-prefix", "chaos", "Output journal file prefix")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max receive delay")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	flag.Parse()

	pb, err := journal.NewPlayback(journal.PlaybackConfig{
		Dir:             *inputDir,
		FilePrefix:      *inputPrefix,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	eng, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	outCfg := journal.DefaultConfig(*outputDir)
	outCfg.FilePrefix = *outputPrefix
	outCfg.CopyPayload = true
	writer, err := journal.NewWriter(outCfg)
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		log.Fatalf("writer start failed: %v", err)
	}

	var in, out int
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		in++
		ev := bus.Event{
			Header:  header,
			Payload: copyPayload(payload),
		}
		for _, faulted := range eng.Process(ev) {
			out++
			if err := writer.TryAppend(faulted.Header, faulted.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		for _, faulted := range eng.Flush() {
			out++
			if err := writer.TryAppend(faulted.Header, faulted.Payload); err != nil {
				log.Fatalf("append failed: %v", err)
			}
		}
	}

	if err != nil {
		log.Fatalf("playback failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}
	log.Printf("chaos journal written: in=%d out=%d dir=%s", in, out, *outputDir)
}

func copyPayload(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp
}
