package channel

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
)

// netChannel adapts any io.ReadWriteCloser (a net.Conn, a tls.Conn, or an
// SSH session's combined stdin/stdout) to the Channel interface. TCP,
// TLS and SSH channels all embed one of these and only differ in how
// they establish the underlying io.ReadWriteCloser.
type netChannel struct {
	host string
	port int

	mu          sync.Mutex
	rw          io.ReadWriteCloser
	deadlineSet func(time.Time) error // optional; nil if rw has no deadlines (e.g. ssh.Session)
	connected   bool
	nonBlocking bool

	peek peekBuffer
}

func newNetChannel(host string, port int, rw io.ReadWriteCloser, deadlineSet func(time.Time) error) *netChannel {
	return &netChannel{
		host:        host,
		port:        port,
		rw:          rw,
		deadlineSet: deadlineSet,
		connected:   true,
	}
}

func (c *netChannel) Host() string { return c.host }
func (c *netChannel) Port() int    { return c.port }

func (c *netChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *netChannel) Send(data []byte) (int, error) {
	c.mu.Lock()
	rw := c.rw
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return 0, errs.New(errs.Transport, "channel.send", io.ErrClosedPipe)
	}
	total := 0
	for total < len(data) {
		n, err := rw.Write(data[total:])
		total += n
		if err != nil {
			c.markDead()
			return total, errs.New(errs.Transport, "channel.send", err)
		}
	}
	return total, nil
}

// rawRead performs exactly one underlying read, translating io.EOF,
// timeouts and non-blocking "nothing available" into the error
// taxonomy of spec.md §7.
func (c *netChannel) rawRead(max int) ([]byte, error) {
	c.mu.Lock()
	rw := c.rw
	nonBlocking := c.nonBlocking
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil, errs.New(errs.Eof, "channel.recv", nil)
	}

	if nonBlocking {
		if nc, ok := rw.(net.Conn); ok {
			_ = nc.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
			defer nc.SetReadDeadline(time.Time{})
		}
	}

	buf := make([]byte, max)
	n, err := rw.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	if err == io.EOF {
		c.markDead()
		return nil, errs.New(errs.Eof, "channel.recv", err)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if nonBlocking {
			return nil, errs.New(errs.Blocked, "channel.recv", err)
		}
		return nil, errs.New(errs.Timeout, "channel.recv", err)
	}
	c.markDead()
	return nil, errs.New(errs.Transport, "channel.recv", err)
}

func (c *netChannel) markDead() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *netChannel) Recv(max int) ([]byte, error) {
	return c.peek.recv(max, c.rawRead)
}

func (c *netChannel) Peek(max int) ([]byte, error) {
	return c.peek.peek(max, c.rawRead)
}

// RecvUntil bounds the whole read by setting the underlying connection's
// deadline (when the transport supports one, i.e. not an ssh.Session
// pipe pair) so a blocked Read actually unblocks with a Timeout instead
// of hanging past timeout forever.
func (c *netChannel) RecvUntil(delim []byte, timeout time.Duration) ([]byte, error) {
	if c.deadlineSet != nil {
		c.deadlineSet(time.Now().Add(timeout))
		defer c.deadlineSet(time.Time{})
	}
	return recvUntil(func(n int) ([]byte, error) { return c.Recv(n) }, delim, timeout)
}

func (c *netChannel) SetDeadline(t time.Time) error {
	if c.deadlineSet == nil {
		return nil
	}
	return c.deadlineSet(t)
}

func (c *netChannel) SetNonBlocking(nonBlocking bool) {
	c.mu.Lock()
	c.nonBlocking = nonBlocking
	c.mu.Unlock()
}

func (c *netChannel) Drain() {
	c.peek.drain()
	c.SetNonBlocking(true)
	defer c.SetNonBlocking(false)
	for {
		b, err := c.Recv(4096)
		if err != nil || len(b) == 0 {
			return
		}
	}
}

func (c *netChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.rw.Close()
}
