package mdg

import (
	"errors"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrUnknownSymbol = errors.New("symbol not found")
	ErrInvalidPrice  = errors.New("price must be > 0")
	ErrInvalidSize   = errors.New("size must be > 0")
)

// RawTick is a raw market data input before normalization. Numerics are
// already scaled integers; feed connectors convert venue formats before
// handing ticks over.
type RawTick struct {
	Symbol   string
	Kind     schema.MarketDataKind
	Flags    uint16
	Price    int64
	Size     int64
	BidPrice int64
	BidSize  int64
	AskPrice int64
	AskSize  int64
	Source   uint16
	FeedSeq  uint64
	TsEvent  int64
	TsRecv   int64
}

// Normalizer maps raw ticks to canonical schema.MarketData. Malformed input
// is rejected with a typed error and counted; it never halts the event
// loop. The normalizer also watches per-source feed sequence continuity and
// reports gaps so downstream continuity state can reset.
type Normalizer struct {
	reg      *schema.Registry
	lastSeq  map[uint16]uint64
	rejected atomic.Uint64
	gaps     atomic.Uint64
}

// NewNormalizer creates a normalizer for a registry.
func NewNormalizer(reg *schema.Registry) *Normalizer {
	return &Normalizer{
		reg:     reg,
		lastSeq: make(map[uint16]uint64),
	}
}

// Rejected returns the number of malformed messages dropped so far.
func (n *Normalizer) Rejected() uint64 {
	return n.rejected.Load()
}

// Gaps returns the number of feed gaps observed so far.
func (n *Normalizer) Gaps() uint64 {
	return n.gaps.Load()
}

// Normalize converts a raw tick into a canonical market data payload.
func (n *Normalizer) Normalize(tick RawTick) (schema.MarketData, error) {
	symbolID, ok := n.reg.SymbolIDByName(tick.Symbol)
	if !ok {
		n.rejected.Add(1)
		return schema.MarketData{}, ErrUnknownSymbol
	}
	switch tick.Kind {
	case schema.MarketDataTrade:
		if tick.Price <= 0 {
			n.rejected.Add(1)
			return schema.MarketData{}, ErrInvalidPrice
		}
		if tick.Size <= 0 {
			n.rejected.Add(1)
			return schema.MarketData{}, ErrInvalidSize
		}
	case schema.MarketDataQuote:
		if tick.BidPrice <= 0 || tick.AskPrice <= 0 {
			n.rejected.Add(1)
			return schema.MarketData{}, ErrInvalidPrice
		}
	default:
		n.rejected.Add(1)
		return schema.MarketData{}, ErrInvalidSize
	}

	return schema.MarketData{
		SymbolID: uint32(symbolID),
		Kind:     tick.Kind,
		Flags:    tick.Flags,
		Price:    schema.Price(tick.Price),
		Size:     schema.Quantity(tick.Size),
		BidPrice: schema.Price(tick.BidPrice),
		BidSize:  schema.Quantity(tick.BidSize),
		AskPrice: schema.Price(tick.AskPrice),
		AskSize:  schema.Quantity(tick.AskSize),
	}, nil
}

// ObserveFeedSeq tracks per-source feed sequence numbers and returns a gap
// marker when continuity breaks. FeedSeq zero means the source carries no
// sequence numbers and is never gapped.
func (n *Normalizer) ObserveFeedSeq(source uint16, feedSeq uint64) (schema.FeedGap, bool) {
	if feedSeq == 0 {
		return schema.FeedGap{}, false
	}
	last := n.lastSeq[source]
	n.lastSeq[source] = feedSeq
	if last == 0 || feedSeq == last+1 {
		return schema.FeedGap{}, false
	}
	n.gaps.Add(1)
	return schema.FeedGap{
		Source:  source,
		LastSeq: last,
		NextSeq: feedSeq,
	}, true
}

// ResetSource clears continuity state for a source after a reconnect.
func (n *Normalizer) ResetSource(source uint16) {
	delete(n.lastSeq, source)
}
