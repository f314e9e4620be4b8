package clock

import (
	"errors"
	"time"
)

var ErrOutOfOrder = errors.New("event timestamp out of order")

// Sequencer orders and timestamps inbound events. It is the sole arbiter of
// event time: downstream components assume the (Seq, TsEvent) pairs it hands
// out are monotonic non-decreasing.
type Sequencer struct {
	tolerance int64
	lastTs    int64
	seq       uint64
	rejected  uint64
}

// NewSequencer creates a sequencer. Events whose source timestamp precedes
// the last accepted one by more than tolerance are rejected.
func NewSequencer(tolerance time.Duration) *Sequencer {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Sequencer{tolerance: int64(tolerance)}
}

// Next assigns the next sequence number and a monotonic timestamp to an
// event. Source timestamps slightly behind the last accepted one (within
// tolerance) are clamped forward; anything older is rejected.
func (s *Sequencer) Next(tsEvent int64) (uint64, int64, error) {
	if tsEvent < s.lastTs-s.tolerance {
		s.rejected++
		return 0, 0, ErrOutOfOrder
	}
	if tsEvent < s.lastTs {
		tsEvent = s.lastTs
	}
	s.lastTs = tsEvent
	s.seq++
	return s.seq, tsEvent, nil
}

// LastTimestamp returns the last accepted event timestamp.
func (s *Sequencer) LastTimestamp() int64 {
	return s.lastTs
}

// LastSeq returns the last assigned sequence number.
func (s *Sequencer) LastSeq() uint64 {
	return s.seq
}

// Rejected returns the number of out-of-order events dropped so far.
func (s *Sequencer) Rejected() uint64 {
	return s.rejected
}

// Restore primes the sequencer from recovered state so a resumed session
// keeps sequence numbers and timestamps monotonic across restarts.
func (s *Sequencer) Restore(lastSeq uint64, lastTs int64) {
	if lastSeq > s.seq {
		s.seq = lastSeq
	}
	if lastTs > s.lastTs {
		s.lastTs = lastTs
	}
}
