// Package proc is C3's data model: the Process record, its per-process
// file-descriptor table, and the shared open-file / pipe types FD
// slots point at. Grounded on spec.md §3's Process/Open-file/Pipe
// entities and on mazboot's habit of keeping kernel data structures as
// plain structs with an explicit lock, rather than hiding state behind
// channels or goroutines.
package proc

import "sync"

// PipeCapacity is the fixed ring-buffer size of a Pipe (spec.md §3,
// supplemented from original_source/fs/pipe.rs which pins this at
// 4096 rather than leaving it a tunable).
const PipeCapacity = 4096

// Pipe is a fixed-capacity ring buffer shared between reader and
// writer file descriptors, plus counters recording whether its read
// and write ends are still open (1 or 0; the per-FD-slot refcount
// lives in Handle). Empty when read==write cursor;
// full when advancing write would collide with read.
type Pipe struct {
	mu                 sync.Mutex
	buf                [PipeCapacity]byte
	readCur, writeCur  int
	readers, writers   int
}

// NewPipe creates a pipe with exactly one reader and one writer, the
// state immediately after the pipe syscall constructs it (spec.md
// §4.4).
func NewPipe() *Pipe {
	return &Pipe{readers: 1, writers: 1}
}

func (p *Pipe) empty() bool { return p.readCur == p.writeCur }
func (p *Pipe) full() bool  { return (p.writeCur+1)%PipeCapacity == p.readCur }

// TryRead attempts a non-blocking read into buf. It returns the number
// of bytes actually read (possibly 0 and less than len(buf), mirroring
// POSIX's "short read is allowed" contract) along with whether this
// call observed end-of-file (empty buffer and zero writers — spec.md
// §3 invariant). When n==0 and eof is false, the caller is expected to
// block and retry (spec.md §4.4's read/write-over-a-pipe protocol).
func (p *Pipe) TryRead(buf []byte) (n int, eof bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.empty() {
		return 0, p.writers == 0
	}
	for n < len(buf) && !p.empty() {
		buf[n] = p.buf[p.readCur]
		p.readCur = (p.readCur + 1) % PipeCapacity
		n++
	}
	return n, false
}

// TryWrite attempts a non-blocking write of data. It returns the
// number of bytes actually written and whether the pipe is broken
// (zero readers — spec.md §3 invariant: "a Pipe with zero readers
// causes the next write to fail"). When n==0 and broken is false, the
// caller is expected to block and retry.
func (p *Pipe) TryWrite(data []byte) (n int, broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readers == 0 {
		return 0, true
	}
	for n < len(data) && !p.full() {
		p.buf[p.writeCur] = data[n]
		p.writeCur = (p.writeCur + 1) % PipeCapacity
		n++
	}
	return n, false
}

// RemoveReader/RemoveWriter record that the last FD slot referring to
// this pipe's read/write end has been dropped. Handle (openfile.go)
// holds the refcount for every FD slot sharing one end across fork,
// dup, and dup2; only its final Drop calls through to here, so these
// counters only ever move between 1 (an end is live) and 0 (every
// handle to that end is gone) — they track "is this end still open,"
// not how many FD slots currently point at it. They return the count
// remaining afterwards, so the caller can decide whether to wake the
// other side.
func (p *Pipe) RemoveReader() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers--
	return p.readers
}

func (p *Pipe) RemoveWriter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writers--
	return p.writers
}

// Readers/Writers report the current counts, for tests and diagnostics.
func (p *Pipe) Readers() int { p.mu.Lock(); defer p.mu.Unlock(); return p.readers }
func (p *Pipe) Writers() int { p.mu.Lock(); defer p.mu.Unlock(); return p.writers }
