package urb

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"dalat/beb"
	"dalat/perfectlink"
	"dalat/testharness"
	"dalat/wire"
)

func TestBroadcastDeliversUniformlyToEveryHost(t *testing.T) {
	const n = 3
	cluster := testharness.NewCluster(t, n)

	var mu sync.Mutex
	delivered := make(map[uint16][]wire.BroadcastFrame)
	done := make(chan struct{})

	urbs := make([]*URB, n)

	for i, node := range cluster.Nodes {
		id := node.ID
		idx := i
		pl := perfectlink.New(node.Link, cluster.Hosts, cluster.Self(id), log.New(io.Discard, "", 0), func(sender uint16, payload []byte) {
			urbs[idx].OnBEBDeliver(sender, payload)
		})
		b := beb.New(pl, cluster.Hosts)
		urbs[idx] = New(b, cluster.Hosts, id, func(frame wire.BroadcastFrame) {
			mu.Lock()
			defer mu.Unlock()
			delivered[id] = append(delivered[id], frame)
			if len(delivered) == n {
				allHaveOne := true
				for _, frames := range delivered {
					if len(frames) == 0 {
						allHaveOne = false
					}
				}
				if allHaveOne {
					select {
					case <-done:
					default:
						close(done)
					}
				}
			}
		})
		t.Cleanup(pl.Shutdown)
	}

	urbs[0].Broadcast([]byte("uniform reliable hello"))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("not every host delivered: %v", delivered)
	}

	mu.Lock()
	defer mu.Unlock()
	for id, frames := range delivered {
		if len(frames) != 1 {
			t.Fatalf("host %d delivered %d times, want 1", id, len(frames))
		}
		if frames[0].SrcID != 1 || frames[0].BSeq != 1 {
			t.Fatalf("host %d got wrong instance: %+v", id, frames[0])
		}
	}
}

// TestSurvivingHostsStillDeliverWhenBroadcasterCrashesMidFanout exercises
// uniform agreement when the broadcaster dies right after its initial
// fanout: host 1's BEB send already reached hosts 2 and 3 before host 1's
// link is torn down, so the two survivors relay to each other and reach
// majority (2 of 3) without ever hearing from host 1 again.
func TestSurvivingHostsStillDeliverWhenBroadcasterCrashesMidFanout(t *testing.T) {
	const n = 3
	cluster := testharness.NewCluster(t, n)

	var mu sync.Mutex
	delivered := make(map[uint16][]wire.BroadcastFrame)
	done := make(chan struct{})

	urbs := make([]*URB, n)
	pls := make([]*perfectlink.Link, n)

	for i, node := range cluster.Nodes {
		id := node.ID
		idx := i
		pl := perfectlink.New(node.Link, cluster.Hosts, cluster.Self(id), log.New(io.Discard, "", 0), func(sender uint16, payload []byte) {
			urbs[idx].OnBEBDeliver(sender, payload)
		})
		pls[idx] = pl
		b := beb.New(pl, cluster.Hosts)
		urbs[idx] = New(b, cluster.Hosts, id, func(frame wire.BroadcastFrame) {
			mu.Lock()
			defer mu.Unlock()
			delivered[id] = append(delivered[id], frame)
			if len(delivered[2]) > 0 && len(delivered[3]) > 0 {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		})
		if id != 1 {
			t.Cleanup(pl.Shutdown)
		}
	}

	urbs[0].Broadcast([]byte("crash mid fanout"))
	time.Sleep(50 * time.Millisecond) // let the initial fanout land before the crash.
	pls[0].Shutdown()                 // host 1 crashes before relaying or acking anything further.

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("surviving hosts never reached majority: %v", delivered)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []uint16{2, 3} {
		frames := delivered[id]
		if len(frames) != 1 {
			t.Fatalf("host %d delivered %d times, want 1", id, len(frames))
		}
		if frames[0].SrcID != 1 || frames[0].BSeq != 1 {
			t.Fatalf("host %d got wrong instance: %+v", id, frames[0])
		}
	}
}
