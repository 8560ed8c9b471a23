// Package testharness wires up N in-process Fair-Loss Links on loopback
// UDP ports so higher-layer tests can drive a real, if local, network
// instead of mocking it. The fleet lives in one process's goroutines, and
// the "dial" step is simply picking an ephemeral UDP port per node.
package testharness

import (
	"fmt"
	"io"
	"log"
	"net"
	"testing"

	"dalat/fll"
	"dalat/hostfile"
)

// Node is one simulated fleet member's bound link and assigned host id.
type Node struct {
	ID   uint16
	Link *fll.Link
}

// Cluster is N Fair-Loss Links bound to loopback, plus the Hosts table
// that addresses them.
type Cluster struct {
	Nodes []Node
	Hosts *hostfile.Hosts
}

// NewCluster binds n loopback Fair-Loss Links with ids 1..n and returns
// them alongside a Hosts table describing the group. The links log to
// t.Log when tests run verbose (-v); otherwise their logs are discarded.
func NewCluster(t *testing.T, n int) *Cluster {
	t.Helper()

	nodes := make([]Node, n)
	hosts := make([]hostfile.Host, n)
	logger := log.New(io.Discard, "", 0)
	if testing.Verbose() {
		logger = log.New(testLogWriter{t}, "", 0)
	}

	for i := 0; i < n; i++ {
		id := uint16(i + 1)
		link, err := fll.Bind(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, logger)
		if err != nil {
			t.Fatalf("bind node %d: %v", id, err)
		}
		nodes[i] = Node{ID: id, Link: link}
		hosts[i] = hostfile.Host{ID: id, Addr: link.LocalAddr()}
	}

	hostTable, err := hostfile.NewFromHosts(hosts)
	if err != nil {
		t.Fatalf("build host table: %v", err)
	}

	c := &Cluster{Nodes: nodes, Hosts: hostTable}
	t.Cleanup(c.Shutdown)
	return c
}

// Shutdown closes every node's link. Safe to call more than once.
func (c *Cluster) Shutdown() {
	for _, n := range c.Nodes {
		n.Link.Shutdown()
	}
}

// Self returns the hostfile.Host entry for node i (1-indexed id).
func (c *Cluster) Self(id uint16) hostfile.Host {
	h, ok := c.Hosts.Get(id)
	if !ok {
		panic(fmt.Sprintf("testharness: no such node %d", id))
	}
	return h
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
