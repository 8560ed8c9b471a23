// Package fifo re-sequences URB deliveries into per-source FIFO order: a
// min-heap per src_id releasing the contiguous prefix starting at bseq 1.
package fifo

import (
	"container/heap"
	"sync"

	"dalat/wire"
)

// DeliverFunc is invoked once per (src_id, bseq), strictly in increasing
// bseq order within a given src_id.
type DeliverFunc func(frame wire.BroadcastFrame)

type frameHeap []wire.BroadcastFrame

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i].BSeq < h[j].BSeq }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(wire.BroadcastFrame)) }
func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Buffer holds one min-heap and expected-next counter per source.
type Buffer struct {
	mu        sync.Mutex
	heaps     map[uint16]*frameHeap
	next      map[uint16]uint64
	onDeliver DeliverFunc
}

// New constructs an empty FIFO buffer. next_expected starts at 1 to match
// URB's bseq numbering, which itself starts at 1.
func New(onDeliver DeliverFunc) *Buffer {
	return &Buffer{
		heaps:     make(map[uint16]*frameHeap),
		next:      make(map[uint16]uint64),
		onDeliver: onDeliver,
	}
}

// OnURBDeliver is the URB delivery callback: push the frame into its
// source's heap, then release the longest available contiguous prefix.
func (b *Buffer) OnURBDeliver(frame wire.BroadcastFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.heaps[frame.SrcID]
	if !ok {
		h = &frameHeap{}
		heap.Init(h)
		b.heaps[frame.SrcID] = h
		b.next[frame.SrcID] = 1
	}
	heap.Push(h, frame)

	for h.Len() > 0 && (*h)[0].BSeq == b.next[frame.SrcID] {
		next := heap.Pop(h).(wire.BroadcastFrame)
		b.next[frame.SrcID]++
		b.onDeliver(next)
	}
}
