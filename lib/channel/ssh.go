package channel

import (
	"fmt"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
	"golang.org/x/crypto/ssh"
)

// SSHChannel is the "ssh" protocol variant: rather than a raw socket to
// a listening payload, pwncat authenticates to an existing sshd and
// drives an interactive shell over the session's combined stdin/stdout.
// Framed execution and PTY upgrade both work unmodified against it
// because netChannel only ever sees an io.ReadWriteCloser.
type SSHChannel struct {
	*netChannel
	client  *ssh.Client
	session *ssh.Session
}

// SSHConfig describes how to authenticate the "ssh" protocol variant.
// Exactly one of Password or PrivateKey should be set.
type SSHConfig struct {
	User       string
	Password   string
	PrivateKey []byte // PEM-encoded
	Passphrase []byte // for an encrypted PrivateKey, may be nil
	Timeout    time.Duration
}

// SSHConnect dials host:port, authenticates per cfg, and starts an
// interactive shell, wiring its stdin/stdout into a Channel.
func SSHConnect(host string, port int, cfg SSHConfig) (*SSHChannel, error) {
	auth, err := cfg.authMethod()
	if err != nil {
		return nil, errs.New(errs.Argument, "ssh.connect", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, port), clientCfg)
	if err != nil {
		return nil, errs.New(errs.Transport, "ssh.connect", err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errs.New(errs.Transport, "ssh.connect", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, errs.New(errs.Transport, "ssh.connect", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, errs.New(errs.Transport, "ssh.connect", err)
	}

	if err := session.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err != nil {
		session.Close()
		client.Close()
		return nil, errs.New(errs.Transport, "ssh.connect", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, errs.New(errs.Transport, "ssh.connect", err)
	}

	rw := &sshReadWriteCloser{r: stdout, w: stdin, session: session, client: client}

	return &SSHChannel{
		netChannel: newNetChannel(host, port, rw, nil),
		client:     client,
		session:    session,
	}, nil
}

func (cfg SSHConfig) authMethod() (ssh.AuthMethod, error) {
	if len(cfg.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if len(cfg.Passphrase) > 0 {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, cfg.Passphrase)
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	if cfg.Password != "" {
		return ssh.Password(cfg.Password), nil
	}
	return nil, fmt.Errorf("ssh channel requires a password or private key")
}

// sshReadWriteCloser adapts an ssh.Session's separate stdin/stdout
// pipes, plus the session and client that own them, to a single
// io.ReadWriteCloser.
type sshReadWriteCloser struct {
	r       interface{ Read([]byte) (int, error) }
	w       interface{ Write([]byte) (int, error) }
	session *ssh.Session
	client  *ssh.Client
}

func (s *sshReadWriteCloser) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *sshReadWriteCloser) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *sshReadWriteCloser) Close() error {
	s.session.Close()
	return s.client.Close()
}

// WindowChange propagates a local terminal resize to the remote PTY,
// mirroring the SIGWINCH handling a raw TCP/TLS channel gets for free
// from the target's own tty.
func (c *SSHChannel) WindowChange(rows, cols int) error {
	return c.session.WindowChange(rows, cols)
}

// HasNativePTY reports that SSHConnect already allocated a PTY via
// RequestPty, so lib/platform's Linux driver can skip its own
// script/python/socat upgrade ladder.
func (c *SSHChannel) HasNativePTY() bool { return true }
