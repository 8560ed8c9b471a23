// Package wire implements the fixed-layout, little-endian codec shared by
// every layer of the stack. Every frame begins with a single kind byte that
// dispatches the rest of the parse; nested frames (a BroadcastFrame carried
// inside a TransportFrame's payload, a ProposalFrame carried inside a
// BroadcastFrame's inner bytes) carry their own kind byte so Decode can be
// called recursively without the caller tracking context.
//
// No padding, no struct alignment: every field is written with
// encoding/binary at a fixed offset, in declaration order.
package wire

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Kind is the outer tag distinguishing the four frame families that cross
// the wire or nest inside one another's payloads.
type Kind uint8

const (
	KindTransport Kind = 0
	KindBroadcast Kind = 1
	KindProposal  Kind = 2
	KindFragment  Kind = 3
)

// TransportKind distinguishes a DATA frame, which carries a payload and
// demands an ack, from an ACK frame, which carries none.
type TransportKind uint8

const (
	Data TransportKind = 0
	Ack  TransportKind = 1
)

// TransportFrame is the Perfect Link's unit of transmission. An ACK's Seq
// equals the DATA frame's Seq it acknowledges, with Sender/Receiver swapped.
type TransportFrame struct {
	TKind    TransportKind
	Sender   uint16
	Receiver uint16
	Seq      uint64
	Payload  []byte
}

// EncodeTransportFrame writes a TransportFrame to its wire form:
// kind(1) tkind(1) sender(2) receiver(2) seq(8) payload_len(4) payload(n).
func EncodeTransportFrame(f TransportFrame) []byte {
	buf := make([]byte, 1+1+2+2+8+4+len(f.Payload))
	off := 0
	buf[off] = byte(KindTransport)
	off++
	buf[off] = byte(f.TKind)
	off++
	binary.LittleEndian.PutUint16(buf[off:], f.Sender)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], f.Receiver)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], f.Seq)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Payload)))
	off += 4
	copy(buf[off:], f.Payload)
	return buf
}

// DecodeTransportFrame parses a TransportFrame, rejecting any buffer whose
// declared payload length would read past the end of buf.
func DecodeTransportFrame(buf []byte) (TransportFrame, error) {
	const headerLen = 1 + 1 + 2 + 2 + 8 + 4
	if len(buf) < headerLen {
		return TransportFrame{}, fmt.Errorf("wire: transport header truncated: %w", ErrMalformedFrame)
	}
	if Kind(buf[0]) != KindTransport {
		return TransportFrame{}, fmt.Errorf("wire: expected transport kind, got %d: %w", buf[0], ErrMalformedFrame)
	}
	off := 1
	tkind := TransportKind(buf[off])
	off++
	sender := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	receiver := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	seq := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	payloadLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(payloadLen) > uint64(len(buf)) {
		return TransportFrame{}, fmt.Errorf("wire: transport payload truncated: %w", ErrMalformedFrame)
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[off:off+int(payloadLen)])
	return TransportFrame{
		TKind:    tkind,
		Sender:   sender,
		Receiver: receiver,
		Seq:      seq,
		Payload:  payload,
	}, nil
}

// BroadcastFrame is the payload URB/BEB fan out. (SrcID, BSeq) uniquely
// identifies a broadcast instance; a relayer must preserve both fields
// byte-for-byte when it re-broadcasts.
type BroadcastFrame struct {
	SrcID uint16
	BSeq  uint64
	Inner []byte
}

// EncodeBroadcastFrame writes: kind(1) src_id(2) bseq(8) inner_len(4) inner(n).
func EncodeBroadcastFrame(f BroadcastFrame) []byte {
	buf := make([]byte, 1+2+8+4+len(f.Inner))
	off := 0
	buf[off] = byte(KindBroadcast)
	off++
	binary.LittleEndian.PutUint16(buf[off:], f.SrcID)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], f.BSeq)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Inner)))
	off += 4
	copy(buf[off:], f.Inner)
	return buf
}

func DecodeBroadcastFrame(buf []byte) (BroadcastFrame, error) {
	const headerLen = 1 + 2 + 8 + 4
	if len(buf) < headerLen {
		return BroadcastFrame{}, fmt.Errorf("wire: broadcast header truncated: %w", ErrMalformedFrame)
	}
	if Kind(buf[0]) != KindBroadcast {
		return BroadcastFrame{}, fmt.Errorf("wire: expected broadcast kind, got %d: %w", buf[0], ErrMalformedFrame)
	}
	off := 1
	srcID := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	bseq := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	innerLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(innerLen) > uint64(len(buf)) {
		return BroadcastFrame{}, fmt.Errorf("wire: broadcast inner truncated: %w", ErrMalformedFrame)
	}
	inner := make([]byte, innerLen)
	copy(inner, buf[off:off+int(innerLen)])
	return BroadcastFrame{SrcID: srcID, BSeq: bseq, Inner: inner}, nil
}

// ProposalType distinguishes the three message shapes of the Lattice
// Agreement round exchange.
type ProposalType uint8

const (
	Propose ProposalType = 0
	PAck    ProposalType = 1
	PNack   ProposalType = 2
)

// ProposalFrame is LA's wire payload, carried inside a BroadcastFrame's
// Inner bytes.
type ProposalFrame struct {
	PType  ProposalType
	Round  uint64
	PNum   uint32
	Values IntSet
}

// EncodeProposalFrame writes: kind(1) ptype(1) round(8) pnum(4) values_len(4) values(4n),
// with values written in ascending order so re-encoding a decoded frame is
// byte-identical regardless of how the set was built in memory.
func EncodeProposalFrame(f ProposalFrame) []byte {
	values := f.Values.Sorted()
	buf := make([]byte, 1+1+8+4+4+4*len(values))
	off := 0
	buf[off] = byte(KindProposal)
	off++
	buf[off] = byte(f.PType)
	off++
	binary.LittleEndian.PutUint64(buf[off:], f.Round)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.PNum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(values)))
	off += 4
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
		off += 4
	}
	return buf
}

func DecodeProposalFrame(buf []byte) (ProposalFrame, error) {
	const headerLen = 1 + 1 + 8 + 4 + 4
	if len(buf) < headerLen {
		return ProposalFrame{}, fmt.Errorf("wire: proposal header truncated: %w", ErrMalformedFrame)
	}
	if Kind(buf[0]) != KindProposal {
		return ProposalFrame{}, fmt.Errorf("wire: expected proposal kind, got %d: %w", buf[0], ErrMalformedFrame)
	}
	off := 1
	ptype := ProposalType(buf[off])
	off++
	round := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	pnum := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(count)*4 > uint64(len(buf)) {
		return ProposalFrame{}, fmt.Errorf("wire: proposal values truncated: %w", ErrMalformedFrame)
	}
	values := NewIntSet()
	for i := uint32(0); i < count; i++ {
		v := int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		values.Add(v)
	}
	return ProposalFrame{PType: ptype, Round: round, PNum: pnum, Values: values}, nil
}

// IntSet is a set<i32> with a canonical sorted encoding, matching the
// spec's requirement that serialize/deserialize/serialize round-trips
// byte-for-byte.
type IntSet struct {
	m map[int32]struct{}
}

func NewIntSet() IntSet {
	return IntSet{m: make(map[int32]struct{})}
}

func NewIntSetFrom(vs []int32) IntSet {
	s := NewIntSet()
	for _, v := range vs {
		s.Add(v)
	}
	return s
}

func (s IntSet) Add(v int32) {
	s.m[v] = struct{}{}
}

func (s IntSet) Contains(v int32) bool {
	_, ok := s.m[v]
	return ok
}

func (s IntSet) Len() int {
	return len(s.m)
}

// Subset reports whether every element of s is also in other.
func (s IntSet) Subset(other IntSet) bool {
	for v := range s.m {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

func (s IntSet) Equal(other IntSet) bool {
	return s.Subset(other) && other.Subset(s)
}

// Union returns a new set containing every element of s and other.
func (s IntSet) Union(other IntSet) IntSet {
	out := NewIntSet()
	for v := range s.m {
		out.Add(v)
	}
	for v := range other.m {
		out.Add(v)
	}
	return out
}

// Clone returns an independent copy of s.
func (s IntSet) Clone() IntSet {
	return s.Union(NewIntSet())
}

func (s IntSet) Sorted() []int32 {
	out := make([]int32, 0, len(s.m))
	for v := range s.m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
