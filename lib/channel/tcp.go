package channel

import (
	"fmt"
	"net"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
)

// TCPChannel is the "connect" and "bind" protocol variant of spec.md
// §4.1: a raw TCP socket with no additional framing.
type TCPChannel struct {
	*netChannel
}

// Connect dials out to host:port (the "connect" protocol).
func Connect(host string, port int, timeout time.Duration) (*TCPChannel, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return nil, errs.New(errs.Transport, "tcp.connect", err)
	}
	return &TCPChannel{netChannel: newNetChannel(host, port, conn, conn.SetDeadline)}, nil
}

// Bind listens on host:port and accepts exactly one connection (the
// "bind" protocol). It blocks until a peer connects or Accept fails.
func Bind(host string, port int) (*TCPChannel, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, errs.New(errs.Transport, "tcp.bind", err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, errs.New(errs.Transport, "tcp.bind", err)
	}

	return &TCPChannel{netChannel: connToNetChannel(conn)}, nil
}

func connToNetChannel(conn net.Conn) *netChannel {
	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	p := 0
	fmt.Sscanf(portStr, "%d", &p)
	return newNetChannel(host, p, conn, conn.SetDeadline)
}

// tcpAcceptor opens a persistent net.Listener for use by a Listener
// (lib/channel's C2 component), which accepts many connections over
// its lifetime rather than exactly one.
func tcpAcceptor(host string, port int) (func() (Channel, error), func(), error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, nil, errs.New(errs.Transport, "tcp.listen", err)
	}
	accept := func() (Channel, error) {
		conn, err := ln.Accept()
		if err != nil {
			return nil, errs.New(errs.Transport, "tcp.accept", err)
		}
		return &TCPChannel{netChannel: connToNetChannel(conn)}, nil
	}
	return accept, func() { ln.Close() }, nil
}
