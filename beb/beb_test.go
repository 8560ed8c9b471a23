package beb

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"dalat/perfectlink"
	"dalat/testharness"
)

func TestBroadcastReachesEveryHostIncludingSelf(t *testing.T) {
	const n = 3
	cluster := testharness.NewCluster(t, n)

	var mu sync.Mutex
	delivered := make(map[uint16]int)
	done := make(chan struct{})

	links := make([]*perfectlink.Link, n)
	bebs := make([]*Broadcast, n)
	for i, node := range cluster.Nodes {
		id := node.ID
		l := perfectlink.New(node.Link, cluster.Hosts, cluster.Self(id), log.New(io.Discard, "", 0), func(sender uint16, payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			delivered[id]++
			if allDelivered(delivered, n) {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		})
		t.Cleanup(l.Shutdown)
		links[i] = l
		bebs[i] = New(l, cluster.Hosts)
	}

	bebs[0].Broadcast([]byte("hello fleet"))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("not all hosts delivered: %v", delivered)
	}

	mu.Lock()
	defer mu.Unlock()
	for id, count := range delivered {
		if count != 1 {
			t.Fatalf("host %d delivered %d times, want 1", id, count)
		}
	}
}

func allDelivered(delivered map[uint16]int, n int) bool {
	if len(delivered) != n {
		return false
	}
	for _, c := range delivered {
		if c == 0 {
			return false
		}
	}
	return true
}
