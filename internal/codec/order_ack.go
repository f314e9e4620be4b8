package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const OrderAckPayloadSize = 52

// EncodeOrderAck serializes an order acknowledgment into a fixed-size payload.
func EncodeOrderAck(dst []byte, ack schema.OrderAck) []byte {
	if cap(dst) < OrderAckPayloadSize {
		dst = make([]byte, OrderAckPayloadSize)
	} else {
		dst = dst[:OrderAckPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], ack.OrderID)
	binary.LittleEndian.PutUint64(dst[8:16], ack.IntentID)
	binary.LittleEndian.PutUint32(dst[16:20], ack.SymbolID)
	binary.LittleEndian.PutUint16(dst[20:22], uint16(ack.Status))
	binary.LittleEndian.PutUint16(dst[22:24], uint16(ack.Reason))
	binary.LittleEndian.PutUint16(dst[24:26], ack.Flags)
	binary.LittleEndian.PutUint16(dst[26:28], ack.Reserved)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(ack.Price))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(ack.Qty))
	binary.LittleEndian.PutUint64(dst[44:52], uint64(ack.LeavesQty))

	return dst
}

// DecodeOrderAck parses a fixed-size order acknowledgment payload.
func DecodeOrderAck(src []byte) (schema.OrderAck, bool) {
	if len(src) < OrderAckPayloadSize {
		return schema.OrderAck{}, false
	}
	return schema.OrderAck{
		OrderID:   binary.LittleEndian.Uint64(src[0:8]),
		IntentID:  binary.LittleEndian.Uint64(src[8:16]),
		SymbolID:  binary.LittleEndian.Uint32(src[16:20]),
		Status:    schema.OrderAckStatus(binary.LittleEndian.Uint16(src[20:22])),
		Reason:    schema.OrderAckReason(binary.LittleEndian.Uint16(src[22:24])),
		Flags:     binary.LittleEndian.Uint16(src[24:26]),
		Reserved:  binary.LittleEndian.Uint16(src[26:28]),
		Price:     schema.Price(int64(binary.LittleEndian.Uint64(src[28:36]))),
		Qty:       schema.Quantity(int64(binary.LittleEndian.Uint64(src[36:44]))),
		LeavesQty: schema.Quantity(int64(binary.LittleEndian.Uint64(src[44:52]))),
	}, true
}
