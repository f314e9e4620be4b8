package codec

import (
	"testing"

	"main/internal/schema"
)

func TestMarketDataRoundTrip(t *testing.T) {
	md := schema.MarketData{
		SymbolID: 3,
		Kind:     schema.MarketDataQuote,
		Flags:    0x0102,
		Price:    10_000_000,
		Size:     250,
		BidPrice: 9_999_500,
		BidSize:  40,
		AskPrice: 10_000_500,
		AskSize:  60,
	}
	buf := EncodeMarketData(nil, md)
	if len(buf) != MarketDataPayloadSize {
		t.Fatalf("payload size = %d, want %d", len(buf), MarketDataPayloadSize)
	}
	got, ok := DecodeMarketData(buf)
	if !ok {
		t.Fatal("decode failed")
	}
	if got != md {
		t.Fatalf("got %+v, want %+v", got, md)
	}
}

func TestFillRoundTripNegativeFee(t *testing.T) {
	// Rebates land as negative fees; the sign must survive the wire.
	fill := schema.Fill{
		OrderID:  42,
		SymbolID: 1,
		Side:     schema.OrderSideSell,
		Price:    9_950_000,
		Qty:      7,
		Fee:      -125,
	}
	got, ok := DecodeFill(EncodeFill(nil, fill))
	if !ok {
		t.Fatal("decode failed")
	}
	if got != fill {
		t.Fatalf("got %+v, want %+v", got, fill)
	}
}

func TestOrderIntentRoundTrip(t *testing.T) {
	intent := schema.OrderIntent{
		IntentID:    9,
		StrategyID:  2,
		SymbolID:    1,
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       10_050_000,
		Qty:         5,
	}
	got, ok := DecodeOrderIntent(EncodeOrderIntent(nil, intent))
	if !ok {
		t.Fatal("decode failed")
	}
	if got != intent {
		t.Fatalf("got %+v, want %+v", got, intent)
	}
}

func TestOrderAckRoundTrip(t *testing.T) {
	ack := schema.OrderAck{
		OrderID:   42,
		IntentID:  9,
		SymbolID:  1,
		Status:    schema.OrderAckStatusAcked,
		Price:     10_050_000,
		Qty:       2,
		LeavesQty: 3,
	}
	got, ok := DecodeOrderAck(EncodeOrderAck(nil, ack))
	if !ok {
		t.Fatal("decode failed")
	}
	if got != ack {
		t.Fatalf("got %+v, want %+v", got, ack)
	}
}

func TestRiskDecisionRoundTrip(t *testing.T) {
	decision := schema.RiskDecision{
		IntentID:      9,
		StrategyID:    2,
		SymbolID:      1,
		Action:        schema.RiskActionDeny,
		Reason:        schema.RiskReasonPositionLimit,
		ProposedQty:   5,
		ProposedPrice: 10_050_000,
		CurrentPos:    -3,
		ReservedQty:   2,
		MaxPos:        50,
	}
	got, ok := DecodeRiskDecision(EncodeRiskDecision(nil, decision))
	if !ok {
		t.Fatal("decode failed")
	}
	if got != decision {
		t.Fatalf("got %+v, want %+v", got, decision)
	}
}

func TestFeedGapRoundTrip(t *testing.T) {
	gap := schema.FeedGap{Source: 4, LastSeq: 100, NextSeq: 105}
	got, ok := DecodeFeedGap(EncodeFeedGap(nil, gap))
	if !ok {
		t.Fatal("decode failed")
	}
	if got != gap {
		t.Fatalf("got %+v, want %+v", got, gap)
	}
}

func TestDecodeRejectsShortPayloads(t *testing.T) {
	short := make([]byte, 8)
	if _, ok := DecodeMarketData(short); ok {
		t.Fatal("short market data accepted")
	}
	if _, ok := DecodeFill(short); ok {
		t.Fatal("short fill accepted")
	}
	if _, ok := DecodeOrderIntent(short); ok {
		t.Fatal("short intent accepted")
	}
	if _, ok := DecodeOrderAck(short); ok {
		t.Fatal("short ack accepted")
	}
	if _, ok := DecodeRiskDecision(short); ok {
		t.Fatal("short decision accepted")
	}
	if _, ok := DecodeFeedGap(short); ok {
		t.Fatal("short gap accepted")
	}
}

func TestEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	out := EncodeMarketData(buf, schema.MarketData{SymbolID: 1, Kind: schema.MarketDataTrade, Price: 1, Size: 1})
	if &out[0] != &buf[:1][0] {
		t.Fatal("encode allocated despite sufficient capacity")
	}
}
