package strategy

import (
	"testing"

	"main/internal/ledger"
	"main/internal/schema"
)

func testParams() Params {
	return Params{
		StrategyID:   7,
		OrderQty:     5,
		WindowTicks:  4,
		ThresholdBps: 100,
	}
}

func trade(symbolID uint32, price schema.Price) schema.MarketData {
	return schema.MarketData{
		SymbolID: symbolID,
		Kind:     schema.MarketDataTrade,
		Price:    price,
		Size:     1,
	}
}

func flatView() ledger.View {
	return ledger.New(ledger.Limits{
		MaxPositionPerSymbol: 1_000,
		MaxOrderNotional:     1_000_000_000,
		MaxGrossExposure:     1_000_000_000,
	})
}

func feed(t *testing.T, s Strategy, view ledger.View, prices []schema.Price) []schema.OrderIntent {
	t.Helper()
	var intents []schema.OrderIntent
	for _, p := range prices {
		intents = append(intents, s.Evaluate(trade(1, p), view)...)
	}
	return intents
}

func TestMomentumEmitsOnThreshold(t *testing.T) {
	s := NewMomentum(testParams())
	view := flatView()

	// Window of 4, 100bps threshold: 10000 -> 10100 across the window.
	intents := feed(t, s, view, []schema.Price{10000, 10030, 10060, 10100})
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}
	got := intents[0]
	if got.Side != schema.OrderSideBuy {
		t.Fatalf("side = %v, want buy", got.Side)
	}
	if got.Price != 10100 || got.Qty != 5 || got.StrategyID != 7 {
		t.Fatalf("intent = %+v", got)
	}
	if got.Type != schema.OrderTypeLimit || got.TimeInForce != schema.TimeInForceGTC {
		t.Fatalf("intent = %+v, want limit GTC", got)
	}
}

func TestMomentumBelowThresholdIsSilent(t *testing.T) {
	s := NewMomentum(testParams())
	view := flatView()

	// 99bps move stays under the 100bps threshold.
	intents := feed(t, s, view, []schema.Price{10000, 10030, 10060, 10099})
	if len(intents) != 0 {
		t.Fatalf("intents = %v, want none", intents)
	}
}

func TestMomentumSellOnDrop(t *testing.T) {
	s := NewMomentum(testParams())
	view := flatView()

	intents := feed(t, s, view, []schema.Price{10100, 10060, 10030, 9999})
	if len(intents) != 1 || intents[0].Side != schema.OrderSideSell {
		t.Fatalf("intents = %v, want one sell", intents)
	}
}

func TestMomentumMinNotionalFilter(t *testing.T) {
	params := testParams()
	params.MinNotional = 1_000_000
	s := NewMomentum(params)
	view := flatView()

	// Signal fires but window notional (4 ticks of size 1) is far below the floor.
	intents := feed(t, s, view, []schema.Price{10000, 10030, 10060, 10100})
	if len(intents) != 0 {
		t.Fatalf("intents = %v, want none below notional floor", intents)
	}
}

func TestMomentumSkipsWhenAlreadyLong(t *testing.T) {
	s := NewMomentum(testParams())
	led := ledger.New(ledger.Limits{
		MaxPositionPerSymbol: 1_000,
		MaxOrderNotional:     1_000_000_000,
		MaxGrossExposure:     1_000_000_000,
	})
	if _, err := led.Reserve(schema.OrderIntent{
		IntentID: 1,
		SymbolID: 1,
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Price:    10000,
		Qty:      5,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	intents := feed(t, s, led, []schema.Price{10000, 10030, 10060, 10100})
	if len(intents) != 0 {
		t.Fatalf("intents = %v, want none while exposure is long", intents)
	}
}

func TestMomentumDeterministicAcrossRuns(t *testing.T) {
	prices := []schema.Price{
		10000, 10020, 10050, 10110, 10100, 10090, 10010, 9980, 9950, 9900,
	}

	first := feed(t, NewMomentum(testParams()), flatView(), prices)
	second := feed(t, NewMomentum(testParams()), flatView(), prices)

	if len(first) != len(second) {
		t.Fatalf("runs diverged: %d vs %d intents", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("intent %d diverged: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestMomentumResetClearsWindow(t *testing.T) {
	s := NewMomentum(testParams())
	view := flatView()

	feed(t, s, view, []schema.Price{10000, 10030, 10060})
	s.Reset(1)

	// After the reset the window refills from scratch: the first three
	// post-gap ticks cannot trigger, the fourth can.
	intents := feed(t, s, view, []schema.Price{10000, 10030, 10060})
	if len(intents) != 0 {
		t.Fatalf("intents = %v, want none before window refills", intents)
	}
	intents = feed(t, s, view, []schema.Price{10100})
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1 after refill", len(intents))
	}
}

func TestMeanRevertFadesStretch(t *testing.T) {
	s := NewMeanRevert(testParams())
	view := flatView()

	// Mean of [10000,10000,10000,10250] is 10062; 10250 is ~186bps above.
	intents := feed(t, s, view, []schema.Price{10000, 10000, 10000, 10250})
	if len(intents) != 1 || intents[0].Side != schema.OrderSideSell {
		t.Fatalf("intents = %v, want one sell", intents)
	}

	s.Reset(1)
	intents = feed(t, s, view, []schema.Price{10000, 10000, 10000, 9750})
	if len(intents) != 1 || intents[0].Side != schema.OrderSideBuy {
		t.Fatalf("intents = %v, want one buy", intents)
	}
}

func TestQuoteMidPrice(t *testing.T) {
	s := NewMomentum(testParams())
	view := flatView()

	quote := schema.MarketData{
		SymbolID: 1,
		Kind:     schema.MarketDataQuote,
		BidPrice: 10000,
		AskPrice: 10020,
		Size:     1,
	}
	prices := []schema.Price{10010, 10040, 10070}
	for _, p := range prices {
		s.Evaluate(trade(1, p), view)
	}
	quote.BidPrice = 10100
	quote.AskPrice = 10140
	intents := s.Evaluate(quote, view)
	if len(intents) != 1 || intents[0].Price != 10120 {
		t.Fatalf("intents = %v, want one at mid 10120", intents)
	}
}

func TestBuildSelectsMode(t *testing.T) {
	cases := []struct {
		mode string
		want string
	}{
		{"", "momentum"},
		{"momentum", "momentum"},
		{"mean_revert", "mean_revert"},
		{"MeanRevert", "mean_revert"},
	}
	for _, c := range cases {
		s, err := Build(c.mode, Params{})
		if err != nil {
			t.Fatalf("build %q: %v", c.mode, err)
		}
		if s.Name() != c.want {
			t.Fatalf("build %q: name = %s, want %s", c.mode, s.Name(), c.want)
		}
	}
	if _, err := Build("arb", Params{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
