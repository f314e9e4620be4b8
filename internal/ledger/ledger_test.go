package ledger

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"main/internal/schema"
)

func testLimits() Limits {
	return Limits{
		MaxPositionPerSymbol: 50,
		MaxOrderNotional:     100_000,
		MaxGrossExposure:     1_000_000,
	}
}

func buyIntent(intentID uint64, qty schema.Quantity, price schema.Price) schema.OrderIntent {
	return schema.OrderIntent{
		IntentID: intentID,
		SymbolID: 1,
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Price:    price,
		Qty:      qty,
	}
}

func sellIntent(intentID uint64, qty schema.Quantity, price schema.Price) schema.OrderIntent {
	intent := buyIntent(intentID, qty, price)
	intent.Side = schema.OrderSideSell
	return intent
}

func TestReserveAgainstPositionLimit(t *testing.T) {
	l := New(testLimits())

	if _, err := l.Reserve(buyIntent(1, 30, 100)); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if _, err := l.Reserve(buyIntent(2, 30, 100)); !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("expected position limit, got %v", err)
	}
	if got := l.Reserved(1); got != 30 {
		t.Fatalf("reserved qty = %d, want 30", got)
	}
	if l.OpenReservations() != 1 {
		t.Fatalf("open reservations = %d, want 1", l.OpenReservations())
	}
}

func TestReserveCountsConfirmedPosition(t *testing.T) {
	l := New(testLimits())

	if _, err := l.Reserve(buyIntent(1, 40, 100)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := l.BindOrder(1, 11); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := l.ConfirmFill(11, 40, 100); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	// position is 40 long; another 20 would breach the 50 cap
	if _, err := l.Reserve(buyIntent(2, 20, 100)); !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("expected position limit, got %v", err)
	}
	// but selling 20 moves toward flat and passes
	if _, err := l.Reserve(sellIntent(3, 20, 100)); err != nil {
		t.Fatalf("sell reserve failed: %v", err)
	}
}

func TestReserveNotionalLimits(t *testing.T) {
	l := New(testLimits())

	if _, err := l.Reserve(buyIntent(1, 20, 10_000)); !errors.Is(err, ErrNotionalLimit) {
		t.Fatalf("expected notional limit, got %v", err)
	}

	l2 := New(Limits{MaxPositionPerSymbol: maxQty(), MaxOrderNotional: maxNotional(), MaxGrossExposure: 1000})
	if _, err := l2.Reserve(buyIntent(1, 10, 99)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := l2.Reserve(buyIntent(2, 10, 2)); !errors.Is(err, ErrGrossExposure) {
		t.Fatalf("expected gross exposure, got %v", err)
	}
}

func TestReserveDuplicateIntent(t *testing.T) {
	l := New(testLimits())
	if _, err := l.Reserve(buyIntent(7, 10, 100)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := l.Reserve(buyIntent(7, 10, 100)); !errors.Is(err, ErrDuplicateIntent) {
		t.Fatalf("expected duplicate intent, got %v", err)
	}
}

func TestConfirmFillReducesReservation(t *testing.T) {
	l := New(testLimits())
	if _, err := l.Reserve(buyIntent(1, 10, 100)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := l.BindOrder(1, 11); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	if err := l.ConfirmFill(11, 4, 100); err != nil {
		t.Fatalf("partial confirm failed: %v", err)
	}
	if got := l.Reserved(1); got != 6 {
		t.Fatalf("reserved after partial = %d, want 6", got)
	}
	pos := l.Position(1)
	if pos.NetQty != 4 || pos.CostBasis != 400 {
		t.Fatalf("position = %+v, want qty 4 basis 400", pos)
	}

	if err := l.ConfirmFill(11, 6, 100); err != nil {
		t.Fatalf("final confirm failed: %v", err)
	}
	if got := l.Reserved(1); got != 0 {
		t.Fatalf("reserved after full fill = %d, want 0", got)
	}
	if l.OpenReservations() != 0 {
		t.Fatalf("reservation should be gone")
	}
	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
}

func TestConfirmFillOverflowsReservation(t *testing.T) {
	l := New(testLimits())
	if _, err := l.Reserve(buyIntent(1, 10, 100)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := l.BindOrder(1, 11); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := l.ConfirmFill(11, 11, 100); !errors.Is(err, ErrReservationUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if err := l.ConfirmFill(99, 1, 100); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected unknown order, got %v", err)
	}
}

func TestWeightedAverageCost(t *testing.T) {
	l := New(Limits{MaxPositionPerSymbol: 1000, MaxOrderNotional: maxNotional(), MaxGrossExposure: maxNotional()})

	fill := func(intentID, orderID uint64, side schema.OrderSide, qty schema.Quantity, price schema.Price) {
		t.Helper()
		intent := buyIntent(intentID, qty, price)
		intent.Side = side
		if _, err := l.Reserve(intent); err != nil {
			t.Fatalf("reserve %d: %v", intentID, err)
		}
		if err := l.BindOrder(intentID, orderID); err != nil {
			t.Fatalf("bind %d: %v", intentID, err)
		}
		if err := l.ConfirmFill(orderID, qty, price); err != nil {
			t.Fatalf("confirm %d: %v", intentID, err)
		}
	}

	// buy 10 @ 100, buy 10 @ 200: avg cost 150
	fill(1, 11, schema.OrderSideBuy, 10, 100)
	fill(2, 12, schema.OrderSideBuy, 10, 200)
	pos := l.Position(1)
	if pos.AvgCost() != 150 {
		t.Fatalf("avg cost = %d, want 150", pos.AvgCost())
	}

	// sell 5 @ 180: realize (180-150)*5 = 150
	fill(3, 13, schema.OrderSideSell, 5, 180)
	pos = l.Position(1)
	if pos.NetQty != 15 || pos.RealizedPnL != 150 {
		t.Fatalf("position = %+v, want qty 15 pnl 150", pos)
	}
	if pos.AvgCost() != 150 {
		t.Fatalf("reducing must not move avg cost, got %d", pos.AvgCost())
	}

	// sell 20 @ 100: close 15 @ avg 150 (pnl -750), go short 5 @ 100
	fill(4, 14, schema.OrderSideSell, 20, 100)
	pos = l.Position(1)
	if pos.NetQty != -5 {
		t.Fatalf("net qty = %d, want -5", pos.NetQty)
	}
	if pos.RealizedPnL != 150-750 {
		t.Fatalf("realized pnl = %d, want -600", pos.RealizedPnL)
	}
	if pos.AvgCost() != 100 {
		t.Fatalf("short avg cost = %d, want 100", pos.AvgCost())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(testLimits())
	if _, err := l.Reserve(buyIntent(1, 10, 100)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := l.BindOrder(1, 11); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	l.ReleaseOrder(11)
	if got := l.Reserved(1); got != 0 {
		t.Fatalf("reserved after release = %d, want 0", got)
	}
	// releasing again must be a no-op
	l.ReleaseOrder(11)
	l.Release(1)
	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
	if got := l.Exposure(); got != 0 {
		t.Fatalf("exposure after release = %d, want 0", got)
	}
}

func TestRestoreAndReplay(t *testing.T) {
	l := New(testLimits())
	l.RestorePositions([]Position{
		{SymbolID: 1, NetQty: 10, CostBasis: 1000, RealizedPnL: 50},
	})
	pos := l.Position(1)
	if pos.NetQty != 10 || pos.RealizedPnL != 50 {
		t.Fatalf("restored position = %+v", pos)
	}

	l.ReplayFill(1, schema.OrderSideBuy, 10, 100)
	pos = l.Position(1)
	if pos.NetQty != 20 || pos.CostBasis != 2000 {
		t.Fatalf("replayed position = %+v, want qty 20 basis 2000", pos)
	}
	if l.OpenReservations() != 0 {
		t.Fatalf("replay must not create reservations")
	}
}

func TestConcurrentReservesNeverOverExpose(t *testing.T) {
	l := New(testLimits())

	const workers = 8
	const perWorker = 100
	var confirmed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				intentID := uint64(w*perWorker + i + 1)
				if _, err := l.Reserve(buyIntent(intentID, 10, 100)); err != nil {
					if !errors.Is(err, ErrPositionLimit) && !errors.Is(err, ErrNotionalLimit) && !errors.Is(err, ErrGrossExposure) {
						t.Errorf("reserve %d: %v", intentID, err)
					}
					continue
				}
				switch i % 3 {
				case 0:
					if err := l.BindOrder(intentID, intentID); err != nil {
						t.Errorf("bind %d: %v", intentID, err)
						continue
					}
					if err := l.ConfirmFill(intentID, 10, 100); err != nil {
						t.Errorf("confirm %d: %v", intentID, err)
						continue
					}
					confirmed.Add(1)
				case 1:
					l.Release(intentID)
				}
			}
		}(w)
	}
	wg.Wait()

	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
	pos := l.Position(1)
	reserved := l.Reserved(1)
	limit := testLimits().MaxPositionPerSymbol
	if pos.NetQty+reserved > limit {
		t.Fatalf("position %d + reserved %d exceeds limit %d", pos.NetQty, reserved, limit)
	}
	if pos.NetQty != schema.Quantity(confirmed.Load()*10) {
		t.Fatalf("position = %d, want %d confirmed fills of 10", pos.NetQty, confirmed.Load())
	}
}

func maxQty() schema.Quantity {
	return schema.Quantity(maxInt64)
}

func maxNotional() schema.Notional {
	return schema.Notional(maxInt64)
}
