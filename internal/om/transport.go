package om

import (
	"context"

	"main/internal/schema"
)

// Publisher re-enters transport responses as events on the ordered queue.
// Implementations must not block: acks and fills become new events, never
// nested callbacks inside the submission call stack.
type Publisher interface {
	PublishAck(ack schema.OrderAck)
	PublishFill(fill schema.Fill)
}

// Transport is the broker connector contract the manager depends on. Both
// calls may block on network latency; the manager dispatches them off the
// event loop. Every submission must eventually surface an acknowledgment
// through the transport's Publisher, including transport-level rejections.
type Transport interface {
	SubmitOrder(ctx context.Context, order Order) error
	CancelOrder(ctx context.Context, orderID uint64) error
}
