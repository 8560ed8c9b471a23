// Package fragment splits an oversized Perfect Link payload into
// erasure-coded shards and reassembles them on the receiving side,
// tolerating the loss of some shards outright instead of relying solely
// on retransmission for very large sends. Each shard carries a Merkle
// branch so a receiver can validate it against a group root hash without
// holding the rest of the group.
package fragment

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/bits"

	"github.com/klauspost/reedsolomon"

	"dalat/wire"
)

// MaxSafePayload is the largest TransportFrame payload Perfect Link will
// send as a single datagram. Anything larger is split into shards first.
// Chosen well under common path MTUs (1500B Ethernet, minus IP/UDP
// headers and the TransportFrame's own header) so a single shard never
// itself needs fragmenting at the IP layer.
const MaxSafePayload = 1200

var (
	// ErrTooFewShards is returned by Reassemble when fewer than
	// DataShards verified shards are available to reconstruct.
	ErrTooFewShards = errors.New("fragment: too few shards to reconstruct")
	// ErrShardMismatch is returned by Reassembler.Add when a shard fails
	// Verify against the Merkle root or its index is out of range.
	ErrShardMismatch = errors.New("fragment: shard fails merkle verification")
)

// Split divides payload into dataShards pieces plus parityShards
// recovery pieces, returning one wire.FragmentFrame per shard sharing the
// caller-supplied groupID and a common Merkle root over all shards.
func Split(payload []byte, groupID uint64, dataShards, parityShards int) ([]wire.FragmentFrame, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fragment: construct encoder: %w", err)
	}

	shards, err := enc.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("fragment: split payload: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fragment: encode parity: %w", err)
	}

	tree := buildMerkleTree(shards)
	root := tree[1]

	frames := make([]wire.FragmentFrame, len(shards))
	for i, shard := range shards {
		frames[i] = wire.FragmentFrame{
			GroupID:      groupID,
			ShardIndex:   uint16(i),
			DataShards:   uint16(dataShards),
			ParityShards: uint16(parityShards),
			OriginalLen:  uint32(len(payload)),
			RootHash:     root,
			Branch:       merkleBranch(i, tree),
			Shard:        shard,
		}
	}
	return frames, nil
}

// Verify checks that f.Shard hashes, via f.Branch, to f.RootHash.
func Verify(f wire.FragmentFrame) bool {
	h := sha256.Sum256(f.Shard)
	index := int(f.ShardIndex)
	for _, sibling := range f.Branch {
		var parent [32]byte
		if index&1 == 1 {
			parent = sha256.Sum256(append(append([]byte{}, sibling[:]...), h[:]...))
		} else {
			parent = sha256.Sum256(append(append([]byte{}, h[:]...), sibling[:]...))
		}
		h = parent
		index >>= 1
	}
	return h == f.RootHash
}

// Reassembler accumulates shards for one fragmentation group until enough
// verified shards are present to reconstruct the original payload.
type Reassembler struct {
	dataShards   int
	parityShards int
	total        int
	originalLen  int
	shards       [][]byte
	have         int
}

// NewReassembler starts tracking a group given the shard counts carried
// by its first-seen FragmentFrame.
func NewReassembler(dataShards, parityShards, originalLen int) *Reassembler {
	total := dataShards + parityShards
	return &Reassembler{
		dataShards:   dataShards,
		parityShards: parityShards,
		total:        total,
		originalLen:  originalLen,
		shards:       make([][]byte, total),
	}
}

// Add verifies and records one shard, returning ErrShardMismatch if it
// fails verification. Ready reports once enough shards are present to
// reconstruct.
func (r *Reassembler) Add(f wire.FragmentFrame) error {
	if int(f.ShardIndex) >= r.total {
		return fmt.Errorf("fragment: shard index %d out of range [0,%d): %w", f.ShardIndex, r.total, ErrShardMismatch)
	}
	if !Verify(f) {
		return ErrShardMismatch
	}
	if r.shards[f.ShardIndex] == nil {
		r.shards[f.ShardIndex] = f.Shard
		r.have++
	}
	return nil
}

// Ready reports whether enough verified shards have arrived to reconstruct.
func (r *Reassembler) Ready() bool {
	return r.have >= r.dataShards
}

// Reassemble reconstructs the original payload. Callers must only call
// this once Ready reports true.
func (r *Reassembler) Reassemble() ([]byte, error) {
	if !r.Ready() {
		return nil, ErrTooFewShards
	}
	enc, err := reedsolomon.New(r.dataShards, r.parityShards)
	if err != nil {
		return nil, fmt.Errorf("fragment: construct decoder: %w", err)
	}
	if err := enc.Reconstruct(r.shards); err != nil {
		return nil, fmt.Errorf("fragment: reconstruct: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := enc.Join(buf, r.shards, r.originalLen); err != nil {
		return nil, fmt.Errorf("fragment: join shards: %w", err)
	}
	return buf.Bytes(), nil
}

// buildMerkleTree hashes shards into leaves of a binary tree padded up to
// the next power of two.
func buildMerkleTree(shards [][]byte) [][32]byte {
	n := len(shards)
	bottomRow := nextPowerOfTwo(n)
	tree := make([][32]byte, 2*bottomRow)

	for i, shard := range shards {
		tree[bottomRow+i] = sha256.Sum256(shard)
	}
	for i := bottomRow - 1; i >= 1; i-- {
		tree[i] = sha256.Sum256(append(append([]byte{}, tree[2*i][:]...), tree[2*i+1][:]...))
	}
	return tree
}

func merkleBranch(index int, tree [][32]byte) [][32]byte {
	var branch [][32]byte
	t := index + len(tree)/2
	for t > 1 {
		branch = append(branch, tree[t^1])
		t /= 2
	}
	return branch
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
