package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const FeedGapPayloadSize = 24

// EncodeFeedGap serializes a feed gap marker into a fixed-size payload.
func EncodeFeedGap(dst []byte, gap schema.FeedGap) []byte {
	if cap(dst) < FeedGapPayloadSize {
		dst = make([]byte, FeedGapPayloadSize)
	} else {
		dst = dst[:FeedGapPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], gap.SymbolID)
	binary.LittleEndian.PutUint16(dst[4:6], gap.Source)
	binary.LittleEndian.PutUint16(dst[6:8], gap.Flags)
	binary.LittleEndian.PutUint64(dst[8:16], gap.LastSeq)
	binary.LittleEndian.PutUint64(dst[16:24], gap.NextSeq)

	return dst
}

// DecodeFeedGap parses a fixed-size feed gap payload.
func DecodeFeedGap(src []byte) (schema.FeedGap, bool) {
	if len(src) < FeedGapPayloadSize {
		return schema.FeedGap{}, false
	}
	return schema.FeedGap{
		SymbolID: binary.LittleEndian.Uint32(src[0:4]),
		Source:   binary.LittleEndian.Uint16(src[4:6]),
		Flags:    binary.LittleEndian.Uint16(src[6:8]),
		LastSeq:  binary.LittleEndian.Uint64(src[8:16]),
		NextSeq:  binary.LittleEndian.Uint64(src[16:24]),
	}, true
}
