// Package perfectlink turns the Fair-Loss Link into exactly-once delivery
// per (sender_id, seq): every sent payload is eventually delivered at the
// destination exactly once, with no payload delivered that was never sent.
package perfectlink

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"dalat/fll"
	"dalat/fragment"
	"dalat/hostfile"
	"dalat/wire"
)

// DeliverFunc is invoked at most once per (sender, seq) DATA frame, in
// the arrival order of first-time deliveries. It runs on the receiver
// goroutine; callers that need to do real work should hand off quickly.
type DeliverFunc func(sender uint16, payload []byte)

// peerState is the per-remote-host bookkeeping: next_send_seq, acked,
// delivered. Entries are created once at Link construction and never
// removed — compaction is out of scope for these bounded workloads.
type peerState struct {
	mu           sync.Mutex
	nextSendSeq  uint64
	acked        map[uint64]struct{}
	delivered    map[uint64]struct{}
	reassembling map[uint64]*fragment.Reassembler
}

// Link is one process's Perfect Link to every other host in the fleet.
type Link struct {
	conn   *fll.Link
	hosts  *hostfile.Hosts
	self   hostfile.Host
	logger *log.Logger

	peers map[uint16]*peerState
	queue *jobQueue

	onDeliver DeliverFunc

	groupCounter atomic.Uint64

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Perfect Link bound to conn, addressing every host in
// hosts (including self — BEB above relies on PL looping back a
// self-send), and starts its sender and receiver goroutines.
func New(conn *fll.Link, hosts *hostfile.Hosts, self hostfile.Host, logger *log.Logger, onDeliver DeliverFunc) *Link {
	peers := make(map[uint16]*peerState, hosts.Count())
	for _, h := range hosts.All() {
		peers[h.ID] = &peerState{
			acked:        make(map[uint64]struct{}),
			delivered:    make(map[uint64]struct{}),
			reassembling: make(map[uint64]*fragment.Reassembler),
		}
	}

	l := &Link{
		conn:      conn,
		hosts:     hosts,
		self:      self,
		logger:    logger,
		peers:     peers,
		queue:     newJobQueue(),
		onDeliver: onDeliver,
	}

	l.wg.Add(2)
	go l.senderLoop()
	go l.receiverLoop()
	return l
}

// Send enqueues payload as a DATA frame to dest and returns immediately;
// delivery attempts run asynchronously on the sender goroutine until
// acked. Oversized payloads are transparently split into erasure-coded
// shards (fragment package) so a single huge message does not force an
// all-or-nothing datagram.
func (l *Link) Send(payload []byte, dest uint16) {
	if len(payload) <= fragment.MaxSafePayload {
		l.enqueueData(dest, payload)
		return
	}

	groupID := l.groupCounter.Add(1)
	dataShards, parityShards := shardCounts(len(payload))
	frames, err := fragment.Split(payload, groupID, dataShards, parityShards)
	if err != nil {
		l.logger.Printf("perfectlink: failed to fragment %d-byte payload to %d: %v", len(payload), dest, err)
		return
	}
	for _, f := range frames {
		l.enqueueData(dest, wire.EncodeFragmentFrame(f))
	}
}

// shardCounts picks erasure-coding parameters for a payload of size n:
// enough data shards to keep each under MaxSafePayload, plus 50% parity
// (minimum 1) to tolerate that fraction of the group's datagrams being
// lost outright before retransmission ever has to kick in.
func shardCounts(n int) (dataShards, parityShards int) {
	dataShards = (n + fragment.MaxSafePayload - 1) / fragment.MaxSafePayload
	if dataShards < 1 {
		dataShards = 1
	}
	parityShards = (dataShards + 1) / 2
	if parityShards < 1 {
		parityShards = 1
	}
	return dataShards, parityShards
}

func (l *Link) enqueueData(dest uint16, payload []byte) {
	ps, ok := l.peers[dest]
	if !ok {
		l.logger.Printf("perfectlink: send to unknown host %d", dest)
		return
	}
	ps.mu.Lock()
	seq := ps.nextSendSeq
	ps.nextSendSeq++
	ps.mu.Unlock()

	frame := wire.TransportFrame{
		TKind:    wire.Data,
		Sender:   l.self.ID,
		Receiver: dest,
		Seq:      seq,
		Payload:  payload,
	}
	l.queue.push(frameJob{dest: dest, frame: frame})
}

// senderLoop implements the stop-and-retransmit discipline: pop one job,
// drop it if already acked, otherwise transmit and re-enqueue at the tail.
func (l *Link) senderLoop() {
	defer l.wg.Done()
	for {
		job, ok := l.queue.pop()
		if !ok {
			return
		}

		ps := l.peers[job.dest]
		ps.mu.Lock()
		_, acked := ps.acked[job.frame.Seq]
		ps.mu.Unlock()
		if acked {
			continue
		}

		host, ok := l.hosts.Get(job.dest)
		if !ok {
			continue
		}
		l.conn.Send(wire.EncodeTransportFrame(job.frame), host.Addr)
		l.queue.push(job)
	}
}

// receiverLoop acks every DATA frame, dedups by seq before upcalling, and
// records every ACK's seq as acked.
func (l *Link) receiverLoop() {
	defer l.wg.Done()
	for {
		buf, from, err := l.conn.Recv()
		if err != nil {
			if errors.Is(err, fll.ErrClosed) {
				return
			}
			l.logger.Printf("perfectlink: recv error: %v", err)
			continue
		}

		frame, err := wire.DecodeTransportFrame(buf)
		if err != nil {
			l.logger.Printf("perfectlink: dropping malformed datagram from %s: %v", from, err)
			continue
		}

		switch frame.TKind {
		case wire.Ack:
			l.handleAck(frame)
		case wire.Data:
			l.handleData(frame)
		}
	}
}

func (l *Link) handleAck(frame wire.TransportFrame) {
	ps, ok := l.peers[frame.Sender]
	if !ok {
		return
	}
	ps.mu.Lock()
	ps.acked[frame.Seq] = struct{}{}
	ps.mu.Unlock()
}

func (l *Link) handleData(frame wire.TransportFrame) {
	if host, ok := l.hosts.Get(frame.Sender); ok {
		ack := wire.TransportFrame{
			TKind:    wire.Ack,
			Sender:   frame.Receiver,
			Receiver: frame.Sender,
			Seq:      frame.Seq,
		}
		l.conn.Send(wire.EncodeTransportFrame(ack), host.Addr)
	}

	ps, ok := l.peers[frame.Sender]
	if !ok {
		return
	}
	ps.mu.Lock()
	if _, dup := ps.delivered[frame.Seq]; dup {
		ps.mu.Unlock()
		return
	}
	ps.delivered[frame.Seq] = struct{}{}
	ps.mu.Unlock()

	if wire.IsFragment(frame.Payload) {
		l.handleFragment(frame.Sender, frame.Payload)
		return
	}
	l.onDeliver(frame.Sender, frame.Payload)
}

func (l *Link) handleFragment(sender uint16, payload []byte) {
	ff, err := wire.DecodeFragmentFrame(payload)
	if err != nil {
		l.logger.Printf("perfectlink: dropping malformed fragment from %d: %v", sender, err)
		return
	}

	ps := l.peers[sender]
	ps.mu.Lock()
	r, ok := ps.reassembling[ff.GroupID]
	if !ok {
		r = fragment.NewReassembler(int(ff.DataShards), int(ff.ParityShards), int(ff.OriginalLen))
		ps.reassembling[ff.GroupID] = r
	}
	ps.mu.Unlock()

	if err := r.Add(ff); err != nil {
		l.logger.Printf("perfectlink: shard from %d group %d failed verification: %v", sender, ff.GroupID, err)
		return
	}
	if !r.Ready() {
		return
	}

	ps.mu.Lock()
	delete(ps.reassembling, ff.GroupID)
	ps.mu.Unlock()

	full, err := r.Reassemble()
	if err != nil {
		l.logger.Printf("perfectlink: reassembly from %d group %d failed: %v", sender, ff.GroupID, err)
		return
	}
	l.onDeliver(sender, full)
}

// Shutdown stops both loops. In-flight queued frames are dropped.
func (l *Link) Shutdown() {
	l.stopOnce.Do(func() {
		l.conn.Shutdown()
		l.queue.close()
	})
	l.wg.Wait()
}
