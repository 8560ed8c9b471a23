package outsink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBroadcastAndDeliverLinesFlushToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sink.Broadcast("1")
	sink.Deliver(3, "1")
	sink.Broadcast("2")

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "b 1\nd 3 1\nb 2\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecisionLineFormatsSpaceSeparatedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sink.Decision([]int32{3, 1, 4})
	sink.Decision(nil)

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "3 1 4\n\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
