// Package outsink implements the append-only text output sink every
// milestone writes its one-event-per-line trace to. The file is
// buffered in memory and flushed explicitly — on graceful shutdown, or
// by the caller at any checkpoint — rather than after every write, so a
// busy fleet doesn't serialize on disk I/O per event. As a safety net
// against an unclean exit, the sink also flushes every flushEvery lines.
package outsink

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// flushEvery bounds how many lines can be lost to an unclean exit
// between explicit Flush calls.
const flushEvery = 64

// Sink is a buffered, mutex-guarded append-only writer.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	written int
}

// Open creates (or truncates) the file at path for writing.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("outsink: open %s: %w", path, err)
	}
	return &Sink{file: f, w: bufio.NewWriter(f)}, nil
}

// Broadcast writes a PL/FRB "b <n>" line.
func (s *Sink) Broadcast(n string) {
	s.writeLine(fmt.Sprintf("b %s", n))
}

// Deliver writes a PL/FRB "d <sender_id> <n>" line.
func (s *Sink) Deliver(senderID uint16, n string) {
	s.writeLine(fmt.Sprintf("d %d %s", senderID, n))
}

// Decision writes one LA-mode line: the decided set's elements
// separated by single spaces, in the order given.
func (s *Sink) Decision(values []int32) {
	line := ""
	for i, v := range values {
		if i > 0 {
			line += " "
		}
		line += fmt.Sprintf("%d", v)
	}
	s.writeLine(line)
}

func (s *Sink) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
	s.written++
	if s.written%flushEvery == 0 {
		s.w.Flush()
	}
}

// Flush pushes buffered output to disk. Safe to call repeatedly.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("outsink: flush: %w", err)
	}
	return s.file.Close()
}
