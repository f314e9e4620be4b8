package mdg

import (
	"errors"
	"testing"

	"main/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	scale := schema.ScaleSpec{PriceScale: 8, QuantityScale: 8, NotionalScale: 8, FeeScale: 8}
	if _, err := reg.AddSymbol("TEST-USD", "SIM", scale); err != nil {
		t.Fatalf("add symbol: %v", err)
	}
	return reg
}

func TestNormalizeTrade(t *testing.T) {
	n := NewNormalizer(testRegistry(t))

	md, err := n.Normalize(RawTick{
		Symbol:  "TEST-USD",
		Kind:    schema.MarketDataTrade,
		Price:   12345,
		Size:    10,
		FeedSeq: 1,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if md.SymbolID != 1 || md.Price != 12345 || md.Size != 10 {
		t.Fatalf("md = %+v", md)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	n := NewNormalizer(testRegistry(t))

	cases := []struct {
		name string
		tick RawTick
		want error
	}{
		{"unknown symbol", RawTick{Symbol: "NOPE", Kind: schema.MarketDataTrade, Price: 1, Size: 1}, ErrUnknownSymbol},
		{"zero price", RawTick{Symbol: "TEST-USD", Kind: schema.MarketDataTrade, Price: 0, Size: 1}, ErrInvalidPrice},
		{"negative size", RawTick{Symbol: "TEST-USD", Kind: schema.MarketDataTrade, Price: 1, Size: -1}, ErrInvalidSize},
		{"quote missing ask", RawTick{Symbol: "TEST-USD", Kind: schema.MarketDataQuote, BidPrice: 100}, ErrInvalidPrice},
	}
	for _, c := range cases {
		if _, err := n.Normalize(c.tick); !errors.Is(err, c.want) {
			t.Fatalf("%s: err = %v, want %v", c.name, err, c.want)
		}
	}
	if n.Rejected() != uint64(len(cases)) {
		t.Fatalf("rejected = %d, want %d", n.Rejected(), len(cases))
	}
}

func TestObserveFeedSeqGap(t *testing.T) {
	n := NewNormalizer(testRegistry(t))

	if _, gapped := n.ObserveFeedSeq(1, 1); gapped {
		t.Fatal("first observation must not gap")
	}
	if _, gapped := n.ObserveFeedSeq(1, 2); gapped {
		t.Fatal("contiguous sequence gapped")
	}
	gap, gapped := n.ObserveFeedSeq(1, 5)
	if !gapped {
		t.Fatal("jump 2 -> 5 must gap")
	}
	if gap.Source != 1 || gap.LastSeq != 2 || gap.NextSeq != 5 {
		t.Fatalf("gap = %+v", gap)
	}

	// Sources track independently; seq zero means unsequenced.
	if _, gapped := n.ObserveFeedSeq(2, 9); gapped {
		t.Fatal("fresh source gapped")
	}
	if _, gapped := n.ObserveFeedSeq(3, 0); gapped {
		t.Fatal("unsequenced source gapped")
	}
	if n.Gaps() != 1 {
		t.Fatalf("gaps = %d, want 1", n.Gaps())
	}
}

func TestObserveFeedSeqResetSource(t *testing.T) {
	n := NewNormalizer(testRegistry(t))

	n.ObserveFeedSeq(1, 10)
	n.ResetSource(1)
	if _, gapped := n.ObserveFeedSeq(1, 1); gapped {
		t.Fatal("post-reset restart must not gap")
	}
}

func TestGeneratorSeedDeterminism(t *testing.T) {
	reg := testRegistry(t)
	cfg := GeneratorConfig{Seed: 42, BasePrice: 10_000_000, BaseSize: 100, Spread: 50, StepBps: 10}

	g1, err := NewGenerator(reg, cfg)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	g2, err := NewGenerator(reg, cfg)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}

	for i := int64(0); i < 100; i++ {
		a := g1.Next(i)
		b := g2.Next(i)
		if a != b {
			t.Fatalf("tick %d diverged: %+v vs %+v", i, a, b)
		}
		if a.Price <= 0 {
			t.Fatalf("tick %d has non-positive price %d", i, a.Price)
		}
		if a.FeedSeq != uint64(i)+1 {
			t.Fatalf("tick %d feed seq = %d", i, a.FeedSeq)
		}
	}
}

func TestGeneratorOutputNormalizes(t *testing.T) {
	reg := testRegistry(t)
	g, err := NewGenerator(reg, GeneratorConfig{Seed: 7, BasePrice: 10_000_000})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	n := NewNormalizer(reg)
	for i := int64(0); i < 50; i++ {
		tick := g.Next(i)
		if _, err := n.Normalize(tick); err != nil {
			t.Fatalf("tick %d rejected: %v", i, err)
		}
	}
	if n.Rejected() != 0 {
		t.Fatalf("rejected = %d, want 0", n.Rejected())
	}
}

func TestGeneratorValidation(t *testing.T) {
	reg := testRegistry(t)
	if _, err := NewGenerator(reg, GeneratorConfig{BasePrice: 0}); err == nil {
		t.Fatal("expected error for zero base price")
	}
	if _, err := NewGenerator(schema.NewRegistry(), GeneratorConfig{BasePrice: 1}); err == nil {
		t.Fatal("expected error for empty registry")
	}
}
