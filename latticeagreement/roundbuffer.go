package latticeagreement

import (
	"sync"

	"dalat/wire"
)

// roundBuffer stores decided_value[r] as rounds finish, and releases
// decide-upcalls in round order starting at 0 even when rounds themselves
// complete out of order.
type roundBuffer struct {
	mu        sync.Mutex
	decided   map[uint64]wire.IntSet
	nextRound uint64
	onDecide  DeliverFunc
}

func newRoundBuffer(onDecide DeliverFunc) *roundBuffer {
	return &roundBuffer{
		decided:  make(map[uint64]wire.IntSet),
		onDecide: onDecide,
	}
}

// insert records round r's decided value and upcalls every releasable
// round in order. It returns the number of rounds released by this
// call, which the caller folds into last_decided for back-pressure.
func (b *roundBuffer) insert(r uint64, value wire.IntSet) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.decided[r]; dup {
		return 0
	}
	b.decided[r] = value

	released := 0
	for {
		v, ok := b.decided[b.nextRound]
		if !ok {
			break
		}
		delete(b.decided, b.nextRound)
		b.onDecide(b.nextRound, v)
		b.nextRound++
		released++
	}
	return released
}
