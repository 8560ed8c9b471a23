package wire

import (
	"encoding/binary"
	"fmt"
)

// RootHashSize is the width of a sha256 digest used as a fragmentation
// group's Merkle root.
const RootHashSize = 32

// FragmentFrame carries one erasure-coded shard of an oversized Perfect
// Link payload. It is never sent directly over the Fair-Loss Link; it is
// always the Payload of an ordinary TransportFrame DATA frame, so PL's
// existing per-(sender,seq) dedup and ack machinery applies to each shard
// independently.
type FragmentFrame struct {
	GroupID      uint64
	ShardIndex   uint16
	DataShards   uint16
	ParityShards uint16
	OriginalLen  uint32
	RootHash     [RootHashSize]byte
	Branch       [][RootHashSize]byte
	Shard        []byte
}

// EncodeFragmentFrame writes:
// kind(1) group_id(8) shard_index(2) data_shards(2) parity_shards(2)
// original_len(4) root_hash(32) branch_len(4) branch(32n) shard_len(4) shard(m).
func EncodeFragmentFrame(f FragmentFrame) []byte {
	size := 1 + 8 + 2 + 2 + 2 + 4 + RootHashSize + 4 + RootHashSize*len(f.Branch) + 4 + len(f.Shard)
	buf := make([]byte, size)
	off := 0
	buf[off] = byte(KindFragment)
	off++
	binary.LittleEndian.PutUint64(buf[off:], f.GroupID)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], f.ShardIndex)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], f.DataShards)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], f.ParityShards)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], f.OriginalLen)
	off += 4
	copy(buf[off:], f.RootHash[:])
	off += RootHashSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Branch)))
	off += 4
	for _, h := range f.Branch {
		copy(buf[off:], h[:])
		off += RootHashSize
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Shard)))
	off += 4
	copy(buf[off:], f.Shard)
	return buf
}

func DecodeFragmentFrame(buf []byte) (FragmentFrame, error) {
	const fixedLen = 1 + 8 + 2 + 2 + 2 + 4 + RootHashSize + 4
	if len(buf) < fixedLen {
		return FragmentFrame{}, fmt.Errorf("wire: fragment header truncated: %w", ErrMalformedFrame)
	}
	if Kind(buf[0]) != KindFragment {
		return FragmentFrame{}, fmt.Errorf("wire: expected fragment kind, got %d: %w", buf[0], ErrMalformedFrame)
	}
	off := 1
	groupID := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	shardIndex := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	dataShards := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	parityShards := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	originalLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	var root [RootHashSize]byte
	copy(root[:], buf[off:off+RootHashSize])
	off += RootHashSize
	branchLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(branchLen)*RootHashSize+4 > uint64(len(buf)) {
		return FragmentFrame{}, fmt.Errorf("wire: fragment branch truncated: %w", ErrMalformedFrame)
	}
	branch := make([][RootHashSize]byte, branchLen)
	for i := range branch {
		copy(branch[i][:], buf[off:off+RootHashSize])
		off += RootHashSize
	}
	shardLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(shardLen) > uint64(len(buf)) {
		return FragmentFrame{}, fmt.Errorf("wire: fragment shard truncated: %w", ErrMalformedFrame)
	}
	shard := make([]byte, shardLen)
	copy(shard, buf[off:off+int(shardLen)])
	return FragmentFrame{
		GroupID:      groupID,
		ShardIndex:   shardIndex,
		DataShards:   dataShards,
		ParityShards: parityShards,
		OriginalLen:  originalLen,
		RootHash:     root,
		Branch:       branch,
		Shard:        shard,
	}, nil
}

// IsFragment reports whether payload looks like a FragmentFrame rather
// than a BroadcastFrame, by inspecting the shared leading kind byte. Used
// by the Perfect Link's receive path to decide whether a DATA frame's
// payload needs reassembly before it is handed upward.
func IsFragment(payload []byte) bool {
	return len(payload) > 0 && Kind(payload[0]) == KindFragment
}
