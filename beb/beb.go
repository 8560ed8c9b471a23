// Package beb implements Best-Effort Broadcast: fanning a single send out
// to every host via Perfect Link. It adds no state of its own — validity,
// no-duplication, and no-creation all come straight from PL's guarantees.
package beb

import (
	"dalat/hostfile"
	"dalat/perfectlink"
)

// DeliverFunc is invoked once per first-time Perfect Link delivery,
// passed straight through from the layer below.
type DeliverFunc func(sender uint16, payload []byte)

// Broadcast fans a payload out to every host in the fleet, including the
// local process, over Perfect Link.
type Broadcast struct {
	pl    *perfectlink.Link
	hosts *hostfile.Hosts
}

// New wraps an already-constructed Perfect Link. BEB takes no delivery
// callback of its own: the Perfect Link's delivery callback, given to
// perfectlink.New, should be wired to whatever upper layer (URB directly,
// or the LA state machine) is consuming BEB deliveries.
func New(pl *perfectlink.Link, hosts *hostfile.Hosts) *Broadcast {
	return &Broadcast{pl: pl, hosts: hosts}
}

// Broadcast sends payload to every host in the fleet, including self.
func (b *Broadcast) Broadcast(payload []byte) {
	for _, h := range b.hosts.All() {
		b.pl.Send(payload, h.ID)
	}
}
