// Package latticeagreement implements round-based single-shot lattice
// consensus atop Best-Effort Broadcast: propose(r, S) decides a set that
// is a superset of this process's own proposal for r, comparable (⊆ or ⊇)
// with every other process's decision for r, and contained in the lattice
// join of all decisions for r, with decisions released in strictly
// increasing round order.
//
// Per-round state is kept in round-keyed maps behind a single mutex, with
// quorum counts tallied per round and a round-scoped critical section
// during message handling.
package latticeagreement

import (
	"log"
	"sync"

	"dalat/beb"
	"dalat/hostfile"
	"dalat/wire"
)

// DeliverFunc is invoked once per round, in strictly increasing round
// order starting at 0, once that round has a decided value.
type DeliverFunc func(round uint64, decided wire.IntSet)

// SendFunc unicasts a ProposalFrame to a single peer, bypassing the
// fanout BEB normally performs — ACK/NACK responses only need to reach
// the original proposer, not the whole fleet.
type SendFunc func(dest uint16, payload []byte)

// roundState is the per-round bookkeeping. Every field defaults lazily: a
// round with no entry behaves as all-zero/empty.
type roundState struct {
	active         bool
	activeProposal wire.IntSet
	activePNum     uint32
	ackCount       uint32
	nackCount      uint32
	accepted       wire.IntSet
	decided        bool
	decidedValue   wire.IntSet
}

// LA is one process's Lattice Agreement engine.
type LA struct {
	n      int
	quorum int
	self   uint16
	logger *log.Logger
	beb    *beb.Broadcast
	send   SendFunc

	mu     sync.Mutex
	rounds map[uint64]*roundState
	buffer *roundBuffer

	stopping bool
	cv       *sync.Cond

	lastDecided uint64
	window      uint64
}

// Config bundles the fleet-wide constants New needs.
type Config struct {
	Hosts     *hostfile.Hosts
	Self      uint16
	Logger    *log.Logger
	Broadcast *beb.Broadcast
	Send      SendFunc
	Window    uint64 // back-pressure W, spec default ~200
	OnDecide  DeliverFunc
}

// New constructs an LA engine. quorum is fixed at floor(N/2)+1, matching
// URB's majority-ack rule.
func New(cfg Config) *LA {
	if cfg.Window == 0 {
		cfg.Window = 200
	}
	la := &LA{
		n:      cfg.Hosts.Count(),
		quorum: cfg.Hosts.Majority(),
		self:   cfg.Self,
		logger: cfg.Logger,
		beb:    cfg.Broadcast,
		send:   cfg.Send,
		rounds: make(map[uint64]*roundState),
		buffer: newRoundBuffer(cfg.OnDecide),
		window: cfg.Window,
	}
	la.cv = sync.NewCond(&la.mu)
	return la
}

func (la *LA) roundLocked(r uint64) *roundState {
	rs, ok := la.rounds[r]
	if !ok {
		rs = &roundState{
			activeProposal: wire.NewIntSet(),
			accepted:       wire.NewIntSet(),
		}
		la.rounds[r] = rs
	}
	return rs
}

// Propose starts (or restarts) round r with initial values S. It blocks
// until r - last_decided <= window, giving back-pressure against
// unbounded concurrent in-flight rounds; a concurrent Shutdown unblocks
// any waiter without broadcasting.
func (la *LA) Propose(r uint64, s wire.IntSet) {
	la.mu.Lock()
	for r > la.lastDecided+la.window && !la.stopping {
		la.cv.Wait()
	}
	if la.stopping {
		la.mu.Unlock()
		return
	}

	rs := la.roundLocked(r)
	rs.active = true
	rs.activeProposal = s.Clone()
	rs.activePNum++
	rs.ackCount = 0
	rs.nackCount = 0
	frame := wire.ProposalFrame{PType: wire.Propose, Round: r, PNum: rs.activePNum, Values: rs.activeProposal.Clone()}
	la.mu.Unlock()

	la.logger.Printf("[Round:%d] propose pnum=%d values=%v\n", r, frame.PNum, frame.Values.Sorted())
	la.beb.Broadcast(wire.EncodeBroadcastFrame(wire.BroadcastFrame{
		SrcID: la.self,
		Inner: wire.EncodeProposalFrame(frame),
	}))
}

// OnBEBDeliver is the BEB delivery callback carrying a BroadcastFrame
// whose Inner is a ProposalFrame. For a PROPOSE, the proposer is taken
// from the wrapping BroadcastFrame's SrcID and used to address the
// unicast ACK/NACK reply.
func (la *LA) OnBEBDeliver(payload []byte) {
	bf, err := wire.DecodeBroadcastFrame(payload)
	if err != nil {
		return
	}
	pf, err := wire.DecodeProposalFrame(bf.Inner)
	if err != nil {
		return
	}

	switch pf.PType {
	case wire.Propose:
		la.handlePropose(bf.SrcID, pf)
	case wire.PAck:
		la.handleAck(pf)
	case wire.PNack:
		la.handleNack(pf)
	}
}

func (la *LA) handlePropose(proposer uint16, pf wire.ProposalFrame) {
	la.mu.Lock()
	rs := la.roundLocked(pf.Round)
	var reply wire.ProposalFrame
	if rs.accepted.Subset(pf.Values) {
		rs.accepted = pf.Values.Clone()
		reply = wire.ProposalFrame{PType: wire.PAck, Round: pf.Round, PNum: pf.PNum, Values: wire.NewIntSet()}
	} else {
		rs.accepted = rs.accepted.Union(pf.Values)
		reply = wire.ProposalFrame{PType: wire.PNack, Round: pf.Round, PNum: pf.PNum, Values: rs.accepted.Clone()}
	}
	la.mu.Unlock()

	la.send(proposer, wire.EncodeBroadcastFrame(wire.BroadcastFrame{
		SrcID: la.self,
		Inner: wire.EncodeProposalFrame(reply),
	}))
}

func (la *LA) handleAck(pf wire.ProposalFrame) {
	la.mu.Lock()
	rs := la.roundLocked(pf.Round)
	if rs.active && pf.PNum == rs.activePNum {
		rs.ackCount++
	}
	la.afterDeliveryLocked(pf.Round, rs)
	la.mu.Unlock()
}

func (la *LA) handleNack(pf wire.ProposalFrame) {
	la.mu.Lock()
	rs := la.roundLocked(pf.Round)
	if rs.active && pf.PNum == rs.activePNum {
		rs.nackCount++
		rs.activeProposal = rs.activeProposal.Union(pf.Values)
	}
	la.afterDeliveryLocked(pf.Round, rs)
	la.mu.Unlock()
}

// afterDeliveryLocked applies the post-delivery decision rule: re-propose
// once a quorum of replies has arrived with at least one nack, decide
// once a quorum of acks has arrived. Called with la.mu held.
func (la *LA) afterDeliveryLocked(r uint64, rs *roundState) {
	if !rs.active {
		return
	}
	quorum := uint32(la.quorum)
	if rs.nackCount >= 1 && rs.ackCount+rs.nackCount >= quorum {
		rs.activePNum++
		rs.ackCount = 0
		rs.nackCount = 0
		proposal := rs.activeProposal.Clone()
		pnum := rs.activePNum
		go func() {
			la.logger.Printf("[Round:%d] re-propose pnum=%d values=%v\n", r, pnum, proposal.Sorted())
			la.beb.Broadcast(wire.EncodeBroadcastFrame(wire.BroadcastFrame{
				SrcID: la.self,
				Inner: wire.EncodeProposalFrame(wire.ProposalFrame{PType: wire.Propose, Round: r, PNum: pnum, Values: proposal}),
			}))
		}()
		return
	}
	if rs.ackCount >= quorum {
		rs.active = false
		decided := rs.activeProposal.Clone()
		rs.decided = true
		rs.decidedValue = decided
		la.logger.Printf("[Round:%d] decide values=%v\n", r, decided.Sorted())
		go la.onRoundDecided(r, decided)
	}
}

// onRoundDecided feeds the round buffer and, once a contiguous prefix of
// rounds is releasable, advances last_decided and wakes any blocked
// Propose callers.
func (la *LA) onRoundDecided(r uint64, decided wire.IntSet) {
	released := la.buffer.insert(r, decided)
	if released == 0 {
		return
	}
	la.mu.Lock()
	la.lastDecided += uint64(released)
	la.cv.Broadcast()
	la.mu.Unlock()
}

// Shutdown sets the stopping flag and wakes every blocked Propose call,
// which returns without broadcasting.
func (la *LA) Shutdown() {
	la.mu.Lock()
	la.stopping = true
	la.cv.Broadcast()
	la.mu.Unlock()
}
