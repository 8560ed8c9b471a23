// Package urb implements Uniform Reliable Broadcast atop Best-Effort
// Broadcast: a relay-once, deliver-on-majority-acks discipline that
// guarantees uniform agreement without providing any ordering across
// sources.
package urb

import (
	"sync"
	"sync/atomic"

	"dalat/beb"
	"dalat/hostfile"
	"dalat/wire"
)

type instanceKey struct {
	srcID uint16
	bseq  uint64
}

// DeliverFunc is invoked at most once per (src_id, bseq), once a
// majority of the fleet has relayed that instance.
type DeliverFunc func(frame wire.BroadcastFrame)

// URB is one process's uniform-reliable-broadcast state: which instances
// it has relayed, who has relayed each instance to it, and which
// instances it has already delivered upward.
type URB struct {
	beb   *beb.Broadcast
	hosts *hostfile.Hosts
	self  uint16

	mu           sync.Mutex
	pending      map[instanceKey]struct{}
	acks         map[instanceKey]map[uint16]struct{}
	deliveredSet map[instanceKey]struct{}

	nextBseq atomic.Uint64

	onDeliver DeliverFunc
}

// New constructs a URB instance. onDeliver is called on the BEB
// delivery goroutine, so it must return promptly.
func New(b *beb.Broadcast, hosts *hostfile.Hosts, self uint16, onDeliver DeliverFunc) *URB {
	u := &URB{
		beb:          b,
		hosts:        hosts,
		self:         self,
		pending:      make(map[instanceKey]struct{}),
		acks:         make(map[instanceKey]map[uint16]struct{}),
		deliveredSet: make(map[instanceKey]struct{}),
		onDeliver:    onDeliver,
	}
	u.nextBseq.Store(1) // bseq numbering starts at 1.
	return u
}

// Broadcast assigns the next bseq for this process, marks the instance
// pending (we relay our own broadcasts immediately), and BEB-broadcasts
// the wrapping BroadcastFrame.
func (u *URB) Broadcast(inner []byte) {
	bseq := u.nextBseq.Add(1) - 1
	frame := wire.BroadcastFrame{SrcID: u.self, BSeq: bseq, Inner: inner}

	key := instanceKey{srcID: u.self, bseq: bseq}
	u.mu.Lock()
	u.pending[key] = struct{}{}
	u.mu.Unlock()

	u.beb.Broadcast(wire.EncodeBroadcastFrame(frame))
}

// OnBEBDeliver is the BEB delivery callback: it implements the
// relay-once, deliver-on-majority rule.
func (u *URB) OnBEBDeliver(relayer uint16, payload []byte) {
	frame, err := wire.DecodeBroadcastFrame(payload)
	if err != nil {
		return
	}
	key := instanceKey{srcID: frame.SrcID, bseq: frame.BSeq}

	u.mu.Lock()
	relayers, ok := u.acks[key]
	if !ok {
		relayers = make(map[uint16]struct{})
		u.acks[key] = relayers
	}
	relayers[relayer] = struct{}{}

	_, alreadyPending := u.pending[key]
	if !alreadyPending {
		u.pending[key] = struct{}{}
	}
	_, alreadyDelivered := u.deliveredSet[key]
	ackCount := len(relayers)
	u.mu.Unlock()

	if !alreadyPending {
		// First time we've seen this instance: relay it verbatim so
		// every correct process eventually observes our ack too.
		u.beb.Broadcast(payload)
	}

	if alreadyDelivered {
		return
	}
	if ackCount < u.hosts.Majority() {
		return
	}

	u.mu.Lock()
	if _, already := u.deliveredSet[key]; already {
		u.mu.Unlock()
		return
	}
	u.deliveredSet[key] = struct{}{}
	u.mu.Unlock()

	u.onDeliver(frame)
}
