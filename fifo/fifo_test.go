package fifo

import (
	"testing"

	"dalat/wire"
)

func TestOutOfOrderDeliveryIsResequenced(t *testing.T) {
	var delivered []uint64
	buf := New(func(f wire.BroadcastFrame) {
		delivered = append(delivered, f.BSeq)
	})

	buf.OnURBDeliver(wire.BroadcastFrame{SrcID: 1, BSeq: 3})
	buf.OnURBDeliver(wire.BroadcastFrame{SrcID: 1, BSeq: 1})
	if len(delivered) != 1 || delivered[0] != 1 {
		t.Fatalf("after bseq 1 arrives, want [1], got %v", delivered)
	}

	buf.OnURBDeliver(wire.BroadcastFrame{SrcID: 1, BSeq: 2})
	want := []uint64{1, 2, 3}
	if !equalSeqs(delivered, want) {
		t.Fatalf("got %v, want %v", delivered, want)
	}
}

func TestIndependentSourcesDoNotBlockEachOther(t *testing.T) {
	var delivered []struct {
		src  uint16
		bseq uint64
	}
	buf := New(func(f wire.BroadcastFrame) {
		delivered = append(delivered, struct {
			src  uint16
			bseq uint64
		}{f.SrcID, f.BSeq})
	})

	buf.OnURBDeliver(wire.BroadcastFrame{SrcID: 2, BSeq: 5}) // stuck, 1-4 missing
	buf.OnURBDeliver(wire.BroadcastFrame{SrcID: 1, BSeq: 1}) // releases immediately

	if len(delivered) != 1 || delivered[0].src != 1 || delivered[0].bseq != 1 {
		t.Fatalf("source 2 being stuck must not block source 1, got %v", delivered)
	}
}

func equalSeqs(got, want []uint64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
