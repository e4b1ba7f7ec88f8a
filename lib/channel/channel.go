// Package channel implements the byte-level bidirectional transport that
// every Platform is built on top of: raw TCP, TLS-wrapped TCP and SSH
// exec channels, all exposed through one Channel interface so the rest
// of pwncat never has to know which protocol carried the bytes.
package channel

import (
	"sync"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
)

// Channel is a live byte-oriented connection to a single target.
//
// recv returns a short read on any available data; it fails with a
// Blocked *errs.Error (not a hard error) if nothing is buffered and the
// channel is in non-blocking mode, Eof on orderly close, Timeout on
// deadline expiry, and Transport on I/O failure.
//
// Peek(n) never consumes: the bytes it returns are always a prefix of
// whatever the next Recv call returns, no matter how many times Peek is
// called in between.
type Channel interface {
	// Host and Port identify the remote endpoint this channel is bound to.
	Host() string
	Port() int

	// Connected reports whether the channel currently has a live
	// underlying connection.
	Connected() bool

	// Send writes data to the remote end, blocking until all of it has
	// been accepted by the transport.
	Send(data []byte) (n int, err error)

	// Recv reads up to len(max) bytes. It never blocks longer than the
	// channel's configured deadline (see SetDeadline).
	Recv(max int) ([]byte, error)

	// Peek returns up to max bytes without consuming them: the next
	// Recv call will still return these bytes (as a prefix, or in
	// full if Recv's max is large enough).
	Peek(max int) ([]byte, error)

	// RecvUntil reads until delim has been seen (inclusive) or timeout
	// elapses.
	RecvUntil(delim []byte, timeout time.Duration) ([]byte, error)

	// SetDeadline bounds how long Recv/RecvUntil/Send may block. A zero
	// value disables the deadline.
	SetDeadline(t time.Time) error

	// SetNonBlocking switches Recv into non-blocking mode: with no data
	// buffered, Recv returns immediately with a Blocked error.
	SetNonBlocking(nonBlocking bool)

	// Drain discards any data currently buffered without blocking.
	Drain()

	// Close closes the channel exactly once; subsequent calls are no-ops.
	Close() error
}

// peekBuffer implements the ring/rope-style peek semantics described in
// spec.md §4.1: every underlying read is appended to a small buffer that
// Recv drains from first, so Peek never actually consumes bytes.
//
// Embed this into a concrete Channel and route Recv/Peek through
// peekBuffer.recv/peekBuffer.peek; their fill argument performs the
// real, possibly-blocking underlying read.
type peekBuffer struct {
	mu  sync.Mutex
	buf []byte
}

// recv drains from buf first: while buf holds data it returns up to max
// buffered bytes (a short read) without calling fill; only an empty buf
// falls through to fill(max).
func (p *peekBuffer) recv(max int, fill func(int) ([]byte, error)) ([]byte, error) {
	p.mu.Lock()
	if len(p.buf) > 0 {
		n := max
		if n > len(p.buf) {
			n = len(p.buf)
		}
		out := p.buf[:n]
		p.buf = p.buf[n:]
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	if fill == nil {
		return nil, nil
	}
	return fill(max)
}

// peek returns up to max bytes, buffering anything freshly read via fill
// so a subsequent recv() sees it first.
func (p *peekBuffer) peek(max int, fill func(int) ([]byte, error)) ([]byte, error) {
	p.mu.Lock()
	if len(p.buf) >= max {
		out := append([]byte(nil), p.buf[:max]...)
		p.mu.Unlock()
		return out, nil
	}
	need := max - len(p.buf)
	p.mu.Unlock()

	if fill == nil {
		p.mu.Lock()
		out := append([]byte(nil), p.buf...)
		p.mu.Unlock()
		return out, nil
	}

	fresh, err := fill(need)
	p.mu.Lock()
	p.buf = append(p.buf, fresh...)
	out := append([]byte(nil), p.buf...)
	p.mu.Unlock()
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

func (p *peekBuffer) unrecv(data []byte) {
	p.mu.Lock()
	p.buf = append(append([]byte(nil), data...), p.buf...)
	p.mu.Unlock()
}

func (p *peekBuffer) drain() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

// recvUntil is the default RecvUntil implementation, shared by every
// Channel: it reads one byte at a time so it never overshoots delim,
// exactly like the original Python implementation's channel.recvuntil.
func recvUntil(recv func(int) ([]byte, error), delim []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var data []byte
	for len(data) < len(delim) || string(data[len(data)-len(delim):]) != string(delim) {
		if time.Now().After(deadline) {
			return data, errs.New(errs.Timeout, "channel.recvuntil", nil)
		}
		b, err := recv(1)
		if err != nil {
			return data, err
		}
		if len(b) == 0 {
			continue
		}
		data = append(data, b...)
	}
	return data, nil
}
