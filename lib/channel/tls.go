package channel

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
)

// TLSChannel is the "ssl-connect" and "ssl-bind" protocol variant:
// identical framing to TCPChannel, but the socket is wrapped in a TLS
// handshake first.
type TLSChannel struct {
	*netChannel
}

// SSLConnect dials out and performs a TLS client handshake.
func SSLConnect(host string, port int, timeout time.Duration, insecureSkipVerify bool) (*TLSChannel, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", fmt.Sprintf("%s:%d", host, port), &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
	})
	if err != nil {
		return nil, errs.New(errs.Transport, "tls.connect", err)
	}
	return &TLSChannel{netChannel: newNetChannel(host, port, conn, conn.SetDeadline)}, nil
}

// SSLBind listens with a TLS server handshake, requiring either a
// combined PEM (cert+key in one file) or separate cert/key files, and
// accepts exactly one connection.
func SSLBind(host string, port int, certFile, keyFile, combinedPEM string) (*TLSChannel, error) {
	var cert tls.Certificate
	var err error
	if combinedPEM != "" {
		cert, err = tls.LoadX509KeyPair(combinedPEM, combinedPEM)
	} else {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	}
	if err != nil {
		return nil, errs.New(errs.Argument, "tls.bind", err)
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf("%s:%d", host, port), &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		return nil, errs.New(errs.Transport, "tls.bind", err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, errs.New(errs.Transport, "tls.bind", err)
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close()
		return nil, errs.New(errs.Protocol, "tls.bind", fmt.Errorf("accepted connection is not TLS"))
	}
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, errs.New(errs.Transport, "tls.bind", err)
	}

	rhost, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	p := 0
	fmt.Sscanf(portStr, "%d", &p)

	return &TLSChannel{netChannel: newNetChannel(rhost, p, tlsConn, tlsConn.SetDeadline)}, nil
}

// tlsAcceptor opens a persistent tls.Listener for a Listener's accept
// loop, mirroring tcpAcceptor but requiring the Spec's certificate.
func tlsAcceptor(spec Spec) (func() (Channel, error), func(), error) {
	var cert tls.Certificate
	var err error
	if spec.CombinedPEM != "" {
		cert, err = tls.LoadX509KeyPair(spec.CombinedPEM, spec.CombinedPEM)
	} else {
		cert, err = tls.LoadX509KeyPair(spec.CertFile, spec.KeyFile)
	}
	if err != nil {
		return nil, nil, errs.New(errs.Argument, "tls.listen", err)
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf("%s:%d", spec.BindHost, spec.BindPort), &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		return nil, nil, errs.New(errs.Transport, "tls.listen", err)
	}

	accept := func() (Channel, error) {
		conn, err := ln.Accept()
		if err != nil {
			return nil, errs.New(errs.Transport, "tls.accept", err)
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			conn.Close()
			return nil, errs.New(errs.Protocol, "tls.accept", fmt.Errorf("accepted connection is not TLS"))
		}
		if err := tlsConn.Handshake(); err != nil {
			tlsConn.Close()
			return nil, errs.New(errs.Transport, "tls.accept", err)
		}
		rhost, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
		p := 0
		fmt.Sscanf(portStr, "%d", &p)
		return &TLSChannel{netChannel: newNetChannel(rhost, p, tlsConn, tlsConn.SetDeadline)}, nil
	}
	return accept, func() { ln.Close() }, nil
}
