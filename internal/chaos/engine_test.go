package chaos

import (
	"testing"

	"main/internal/bus"
	"main/internal/schema"
)

func event(seq uint64) bus.Event {
	return bus.Event{
		Header:  schema.EventHeader{Type: schema.EventMarketData, Seq: seq, TsEvent: int64(seq) * 1000},
		Payload: []byte{byte(seq)},
	}
}

func run(t *testing.T, cfg Config, count int) []bus.Event {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	var out []bus.Event
	for i := 1; i <= count; i++ {
		out = append(out, e.Process(event(uint64(i)))...)
	}
	return append(out, e.Flush()...)
}

func TestZeroConfigPassesThrough(t *testing.T) {
	out := run(t, Config{Seed: 1}, 10)
	if len(out) != 10 {
		t.Fatalf("events = %d, want 10", len(out))
	}
	for i, ev := range out {
		if ev.Header.Seq != uint64(i+1) {
			t.Fatalf("seq order broken: %v", out)
		}
	}
}

func TestSeedDeterminism(t *testing.T) {
	cfg := Config{
		Seed:          99,
		DropRate:      0.2,
		DuplicateRate: 0.2,
		ReorderWindow: 3,
	}
	first := run(t, cfg, 50)
	second := run(t, cfg, 50)
	if len(first) != len(second) {
		t.Fatalf("runs diverged: %d vs %d events", len(first), len(second))
	}
	for i := range first {
		if first[i].Header != second[i].Header {
			t.Fatalf("event %d diverged: %+v vs %+v", i, first[i].Header, second[i].Header)
		}
	}
}

func TestDropAll(t *testing.T) {
	out := run(t, Config{Seed: 1, DropRate: 1}, 20)
	if len(out) != 0 {
		t.Fatalf("events = %d, want all dropped", len(out))
	}
}

func TestDuplicateAll(t *testing.T) {
	out := run(t, Config{Seed: 1, DuplicateRate: 1}, 5)
	if len(out) != 10 {
		t.Fatalf("events = %d, want every event doubled", len(out))
	}
	for i := 0; i < len(out); i += 2 {
		if out[i].Header.Seq != out[i+1].Header.Seq {
			t.Fatalf("pair %d not a duplicate: %d vs %d", i/2, out[i].Header.Seq, out[i+1].Header.Seq)
		}
		if len(out[i+1].Payload) > 0 && &out[i].Payload[0] == &out[i+1].Payload[0] {
			t.Fatal("duplicate shares payload buffer")
		}
	}
}

func TestReorderFlushDeliversEverything(t *testing.T) {
	out := run(t, Config{Seed: 7, ReorderWindow: 4}, 10)
	if len(out) != 10 {
		t.Fatalf("events = %d, want 10", len(out))
	}
	seen := make(map[uint64]bool)
	for _, ev := range out {
		seen[ev.Header.Seq] = true
	}
	for i := uint64(1); i <= 10; i++ {
		if !seen[i] {
			t.Fatalf("seq %d lost in reorder", i)
		}
	}
}

func TestDelayBumpsRecvTime(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, MaxDelay: 1000})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ev := event(1)
	ev.Header.TsRecv = ev.Header.TsEvent
	for i := 0; i < 100; i++ {
		out := e.Process(ev)
		if len(out) != 1 {
			t.Fatalf("events = %d, want 1", len(out))
		}
		if out[0].Header.TsRecv < ev.Header.TsEvent {
			t.Fatalf("recv time went backwards: %d", out[0].Header.TsRecv)
		}
		if out[0].Header.TsRecv > ev.Header.TsEvent+1000 {
			t.Fatalf("delay exceeds max: %d", out[0].Header.TsRecv-ev.Header.TsEvent)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewEngine(Config{DropRate: 1.5}); err == nil {
		t.Fatal("dropRate over 1 accepted")
	}
	if _, err := NewEngine(Config{DuplicateRate: -0.1}); err == nil {
		t.Fatal("negative duplicateRate accepted")
	}
	if _, err := NewEngine(Config{MaxDelay: -1}); err == nil {
		t.Fatal("negative delay accepted")
	}
}
