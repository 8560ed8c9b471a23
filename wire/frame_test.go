package wire

import (
	"bytes"
	"testing"
)

func TestTransportFrameRoundTrip(t *testing.T) {
	cases := []TransportFrame{
		{TKind: Data, Sender: 1, Receiver: 2, Seq: 0, Payload: []byte("hello")},
		{TKind: Ack, Sender: 2, Receiver: 1, Seq: 0, Payload: nil},
		{TKind: Data, Sender: 128, Receiver: 1, Seq: 1 << 40, Payload: []byte{}},
	}
	for _, f := range cases {
		buf := EncodeTransportFrame(f)
		got, err := DecodeTransportFrame(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.TKind != f.TKind || got.Sender != f.Sender || got.Receiver != f.Receiver || got.Seq != f.Seq {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
		}
		if !bytes.Equal(got.Payload, f.Payload) {
			t.Fatalf("payload mismatch: got %v, want %v", got.Payload, f.Payload)
		}
		again := EncodeTransportFrame(got)
		if !bytes.Equal(again, buf) {
			t.Fatal("serialize/deserialize/serialize not byte-identical")
		}
	}
}

func TestDecodeTransportFrameRejectsTruncated(t *testing.T) {
	f := TransportFrame{TKind: Data, Sender: 1, Receiver: 2, Seq: 5, Payload: []byte("abcdef")}
	buf := EncodeTransportFrame(f)
	for n := 0; n < len(buf); n++ {
		if _, err := DecodeTransportFrame(buf[:n]); err == nil {
			t.Fatalf("expected error decoding truncated buffer of length %d", n)
		}
	}
}

func TestBroadcastFrameRoundTrip(t *testing.T) {
	f := BroadcastFrame{SrcID: 3, BSeq: 17, Inner: []byte("payload")}
	buf := EncodeBroadcastFrame(f)
	got, err := DecodeBroadcastFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SrcID != f.SrcID || got.BSeq != f.BSeq || !bytes.Equal(got.Inner, f.Inner) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(EncodeBroadcastFrame(got), buf) {
		t.Fatal("serialize/deserialize/serialize not byte-identical")
	}
}

func TestProposalFrameRoundTripIsCanonical(t *testing.T) {
	values := NewIntSet()
	for _, v := range []int32{5, 1, 3, 1, -2} {
		values.Add(v)
	}
	f := ProposalFrame{PType: PNack, Round: 9, PNum: 2, Values: values}
	buf := EncodeProposalFrame(f)

	got, err := DecodeProposalFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Values.Equal(values) {
		t.Fatalf("values mismatch: got %v, want %v", got.Values.Sorted(), values.Sorted())
	}
	again := EncodeProposalFrame(got)
	if !bytes.Equal(again, buf) {
		t.Fatal("serialize/deserialize/serialize not byte-identical")
	}

	// Two sets built in different insertion orders must still encode
	// identically, since the wire format is canonicalized by sorting.
	other := NewIntSet()
	for _, v := range []int32{-2, 3, 5, 1} {
		other.Add(v)
	}
	f2 := ProposalFrame{PType: PNack, Round: 9, PNum: 2, Values: other}
	if !bytes.Equal(EncodeProposalFrame(f2), buf) {
		t.Fatal("encoding is not canonical across insertion order")
	}
}

func TestProposalFrameEmptySet(t *testing.T) {
	f := ProposalFrame{PType: Propose, Round: 0, PNum: 1, Values: NewIntSet()}
	buf := EncodeProposalFrame(f)
	got, err := DecodeProposalFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Values.Len() != 0 {
		t.Fatalf("expected empty set, got %v", got.Values.Sorted())
	}
}

func TestIntSetOperations(t *testing.T) {
	a := NewIntSetFrom([]int32{1, 2})
	b := NewIntSetFrom([]int32{1, 2, 3})

	if !a.Subset(b) {
		t.Fatal("expected a to be a subset of b")
	}
	if b.Subset(a) {
		t.Fatal("did not expect b to be a subset of a")
	}
	u := a.Union(b)
	if !u.Equal(b) {
		t.Fatalf("expected union(a,b) == b, got %v", u.Sorted())
	}
}
