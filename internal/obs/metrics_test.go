package obs

import (
	"sync"
	"testing"
	"time"

	"main/internal/schema"
)

func TestObserveEventCountsAndLatency(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventHeader{Type: schema.EventMarketData, TsEvent: 100, TsRecv: 400})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventMarketData, TsEvent: 100, TsRecv: 200})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventFill, TsEvent: 0, TsRecv: 200})

	snap := m.Snapshot()
	if snap.EventCounts[schema.EventMarketData] != 2 {
		t.Fatalf("market data count = %d, want 2", snap.EventCounts[schema.EventMarketData])
	}
	if snap.EventCounts[schema.EventFill] != 1 {
		t.Fatalf("fill count = %d, want 1", snap.EventCounts[schema.EventFill])
	}
	// The zero-timestamp event contributes no latency sample.
	if snap.EventLatency.Count != 2 {
		t.Fatalf("latency samples = %d, want 2", snap.EventLatency.Count)
	}
	if snap.EventLatency.Min != 100 || snap.EventLatency.Max != 300 || snap.EventLatency.Avg != 200 {
		t.Fatalf("latency = %+v", snap.EventLatency)
	}
}

func TestCountersSurviveConcurrentUse(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.IncStaleFill()
				m.IncRiskReason(schema.RiskReasonRateLimit)
				m.ObserveOrderFlow(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.StaleFills != 8000 {
		t.Fatalf("stale fills = %d, want 8000", snap.StaleFills)
	}
	if snap.RiskReasonCounts[schema.RiskReasonRateLimit] != 8000 {
		t.Fatalf("rate limit count = %d, want 8000", snap.RiskReasonCounts[schema.RiskReasonRateLimit])
	}
	if snap.OrderFlowLatency.Count != 8000 || snap.OrderFlowLatency.Avg != time.Microsecond {
		t.Fatalf("order flow latency = %+v", snap.OrderFlowLatency)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(schema.EventHeader{Type: schema.EventFill})
	m.IncQueueDrop()
	m.IncFeedGap()
	if snap := m.Snapshot(); snap.QueueDrops != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestOutOfRangeIndicesIgnored(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventHeader{Type: schema.EventType(200)})
	m.IncRiskReason(schema.RiskReason(200))
	snap := m.Snapshot()
	if len(snap.EventCounts) != 0 || len(snap.RiskReasonCounts) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTraceGeneratorMonotonic(t *testing.T) {
	g := NewTraceGenerator(100)
	if got := g.Next(); got != 101 {
		t.Fatalf("first id = %d, want 101", got)
	}
	if got := g.Next(); got != 102 {
		t.Fatalf("second id = %d, want 102", got)
	}

	var nilGen *TraceGenerator
	if got := nilGen.Next(); got != 0 {
		t.Fatalf("nil generator id = %d, want 0", got)
	}

	if NewTraceGenerator(0).Next() == 0 {
		t.Fatal("zero seed must self-seed")
	}
}
