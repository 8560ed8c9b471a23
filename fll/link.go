// Package fll implements the Fair-Loss Link: a bound UDP endpoint with
// best-effort send and blocking receive. It adds no header of its own and
// never retries; every reliability property above it is built, not
// inherited, from here up.
package fll

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// ErrClosed is returned by Recv once Shutdown has been called.
var ErrClosed = errors.New("fll: link closed")

// maxDatagram is the largest UDP payload this link will ever attempt to
// read in one Recv, matching the practical IPv4 UDP payload ceiling.
const maxDatagram = 65507

// Link is one bound datagram endpoint.
type Link struct {
	conn   *net.UDPConn
	logger *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Bind opens and binds a UDP socket at addr.
func Bind(addr *net.UDPAddr, logger *log.Logger) (*Link, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("fll: bind %s: %w", addr, err)
	}
	return &Link{
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

// Send is a non-blocking, best-effort transmission: a dropped or failed
// write is logged and otherwise ignored — it is the caller's job to retry
// if it wants delivery guarantees.
func (l *Link) Send(payload []byte, to *net.UDPAddr) {
	if _, err := l.conn.WriteToUDP(payload, to); err != nil {
		select {
		case <-l.closed:
			return
		default:
			l.logger.Printf("fll: send to %s failed: %v", to, err)
		}
	}
}

// Recv blocks until a datagram arrives, returning its payload and the
// sender's address. It returns ErrClosed after Shutdown unblocks it.
func (l *Link) Recv() ([]byte, *net.UDPAddr, error) {
	buf := make([]byte, maxDatagram)
	n, from, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		select {
		case <-l.closed:
			return nil, nil, ErrClosed
		default:
			return nil, nil, fmt.Errorf("fll: recv: %w", err)
		}
	}
	return buf[:n], from, nil
}

// Shutdown closes the socket, unblocking any in-flight Recv. Safe to call
// more than once; only the first call takes effect.
func (l *Link) Shutdown() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.conn.Close()
	})
}

// LocalAddr reports the address the link is bound to.
func (l *Link) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}
