package platform

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/gtfo"
)

func TestBuildCommandLineQuotesArgsNotArgv0(t *testing.T) {
	got := buildCommandLine([]string{"echo", "has space", "it's"}, nil)
	want := "env -i echo 'has space' 'it'\\''s'"
	if got != want {
		t.Fatalf("buildCommandLine = %q, want %q", got, want)
	}
}

func TestBuildCommandLineIncludesEnv(t *testing.T) {
	got := buildCommandLine([]string{"id"}, map[string]string{"LANG": "C"})
	if !strings.Contains(got, "LANG='C'") {
		t.Fatalf("buildCommandLine = %q, want it to carry LANG='C'", got)
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	if got := shellQuote(`it's`); got != `'it'\''s'` {
		t.Fatalf("shellQuote = %q", got)
	}
}

func TestParseIDOutput(t *testing.T) {
	u, err := parseIDOutput("uid=1000(carl) gid=1000(carl) groups=1000(carl),27(sudo)\n")
	if err != nil {
		t.Fatalf("parseIDOutput: %v", err)
	}
	if u.UID != "1000" || u.Name != "carl" || u.GID != "1000" {
		t.Fatalf("parseIDOutput = %+v", u)
	}
}

func TestParseIDOutputUnparsable(t *testing.T) {
	if _, err := parseIDOutput("garbage"); err == nil {
		t.Fatal("expected an error for unparsable id output")
	}
}

// pipeChannel adapts a net.Conn (from net.Pipe) to channel.Channel,
// exercising exactly the subset LinuxPlatform.Run depends on.
type pipeChannel struct {
	conn net.Conn
	br   *bufio.Reader
}

func newPipeChannel(conn net.Conn) *pipeChannel {
	return &pipeChannel{conn: conn, br: bufio.NewReader(conn)}
}

func (c *pipeChannel) Host() string          { return "fake" }
func (c *pipeChannel) Port() int             { return 0 }
func (c *pipeChannel) Connected() bool       { return true }
func (c *pipeChannel) Send(data []byte) (int, error) { return c.conn.Write(data) }
func (c *pipeChannel) Recv(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := c.br.Read(buf)
	return buf[:n], err
}
func (c *pipeChannel) Peek(max int) ([]byte, error) { return nil, nil }
func (c *pipeChannel) RecvUntil(delim []byte, timeout time.Duration) ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	var out []byte
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return out, errs.New(errs.Timeout, "pipechannel.recvuntil", err)
			}
			return out, errs.New(errs.Eof, "pipechannel.recvuntil", err)
		}
		out = append(out, b)
		if len(out) >= len(delim) && string(out[len(out)-len(delim):]) == string(delim) {
			return out, nil
		}
	}
}
func (c *pipeChannel) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }
func (c *pipeChannel) SetNonBlocking(bool)           {}
func (c *pipeChannel) Drain()                        {}
func (c *pipeChannel) Close() error                  { return c.conn.Close() }

var frameRe = regexp.MustCompile(`^echo ([0-9a-f]{64}); (.*); echo ([0-9a-f]{64}) \$\?\n$`)

// fakeShell emulates just enough of a POSIX shell to answer one framed
// Run call: it parses the start/end markers pwncat generated and echoes
// back a canned status line, letting Run's marker-scraping be exercised
// against a real byte stream instead of a mocked RecvUntil.
func fakeShell(t *testing.T, conn net.Conn, output string, status int) {
	t.Helper()
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Errorf("fakeShell: read frame: %v", err)
		return
	}
	m := frameRe.FindStringSubmatch(line)
	if m == nil {
		t.Errorf("fakeShell: frame %q did not match", line)
		return
	}
	start, end := m[1], m[3]
	fmt.Fprintf(conn, "%s\n%s%s %d\n", start, output, end, status)
}

func TestLinuxPlatformRun(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		fakeShell(t, server, "hello\n", 0)
		close(done)
	}()

	p := &LinuxPlatform{ch: newPipeChannel(client), whichCache: map[string]string{}}
	out, status, err := p.Run([]string{"echo", "hello"}, nil, 2*time.Second)
	<-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != 0 {
		t.Fatalf("status = %d, want 0", status)
	}
	if string(out) != "hello\n" {
		t.Fatalf("out = %q, want %q", out, "hello\n")
	}
}

func TestLinuxPlatformRunNonZeroStatus(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		fakeShell(t, server, "", 1)
		close(done)
	}()

	p := &LinuxPlatform{ch: newPipeChannel(client), whichCache: map[string]string{}}
	_, status, err := p.Run([]string{"false"}, nil, 2*time.Second)
	<-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != 1 {
		t.Fatalf("status = %d, want 1", status)
	}
}

// fakeDDWrite emulates a counted `dd ... count=n` write: it replies
// with the start marker, reads exactly n raw bytes off the wire, then
// replies with the end marker and status. It returns what it read.
func fakeDDWrite(t *testing.T, conn net.Conn, n int, status int) []byte {
	t.Helper()
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Errorf("fakeDDWrite: read frame: %v", err)
		return nil
	}
	m := frameRe.FindStringSubmatch(line)
	if m == nil {
		t.Errorf("fakeDDWrite: frame %q did not match", line)
		return nil
	}
	start, end := m[1], m[3]
	if _, err := fmt.Fprintf(conn, "%s\n", start); err != nil {
		t.Errorf("fakeDDWrite: write start: %v", err)
		return nil
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(br, buf); err != nil {
			t.Errorf("fakeDDWrite: read payload: %v", err)
			return nil
		}
	}
	fmt.Fprintf(conn, "%s %d\n", end, status)
	return buf
}

// roundTripCases covers the "File round-trip" invariant: arbitrary
// bytes, including empty input and input containing NUL, survive
// Open/Write/Close and Open/Read unchanged.
var roundTripCases = []struct {
	name string
	data []byte
}{
	{"empty", []byte{}},
	{"text", []byte("hello world\n")},
	{"nul and high bytes", []byte{0x00, 0x01, 'a', 0xff, 0x00, 'z'}},
}

func TestLinuxPlatformOpenReadRoundTripsViaCat(t *testing.T) {
	for _, tc := range roundTripCases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			p := &LinuxPlatform{
				ch:         newPipeChannel(client),
				whichCache: map[string]string{"cat": "/bin/cat"},
				synth:      gtfo.NewBuiltin(),
			}

			done := make(chan struct{})
			go func() {
				fakeShell(t, server, string(tc.data), 0)
				close(done)
			}()

			rf, err := p.openRead("/tmp/in.bin")
			<-done
			if err != nil {
				t.Fatalf("openRead: %v", err)
			}
			got, err := io.ReadAll(rf)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != string(tc.data) {
				t.Fatalf("round-tripped data = %q, want %q", got, tc.data)
			}
		})
	}
}

func TestLinuxPlatformOpenWriteRoundTripsViaBase64(t *testing.T) {
	for _, tc := range roundTripCases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			p := &LinuxPlatform{
				ch:         newPipeChannel(client),
				whichCache: map[string]string{"base64": "/bin/base64"},
				synth:      gtfo.NewBuiltin(),
			}

			// length <= 0 forces the base64 fallback: no raw-stream
			// writer can be sized without a known length.
			wf, err := p.openWrite("/tmp/out.bin", 0)
			if err != nil {
				t.Fatalf("openWrite: %v", err)
			}
			if _, err := wf.Write(tc.data); err != nil {
				t.Fatalf("Write: %v", err)
			}

			var frame string
			done := make(chan struct{})
			go func() {
				br := bufio.NewReader(server)
				line, err := br.ReadString('\n')
				if err != nil {
					t.Errorf("read frame: %v", err)
					close(done)
					return
				}
				frame = line
				m := frameRe.FindStringSubmatch(line)
				if m == nil {
					t.Errorf("frame %q did not match", line)
					close(done)
					return
				}
				fmt.Fprintf(server, "%s\n%s %d\n", m[1], m[3], 0)
				close(done)
			}()

			if err := wf.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			<-done

			if !strings.Contains(frame, "base64 -d") || !strings.Contains(frame, "out.bin") {
				t.Fatalf("frame %q missing the base64 decode pipeline", frame)
			}
			if encoded := base64.StdEncoding.EncodeToString(tc.data); encoded != "" && !strings.Contains(frame, encoded) {
				t.Fatalf("frame %q does not contain encoded payload %q", frame, encoded)
			}
		})
	}
}

func TestLinuxPlatformOpenWriteRawDDWithKnownLength(t *testing.T) {
	// A length of 0 carries no raw-stream writer (openWrite only tries
	// one when length > 0); the empty case is covered by the base64
	// fallback test instead.
	for _, tc := range roundTripCases {
		if len(tc.data) == 0 {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			p := &LinuxPlatform{
				ch:         newPipeChannel(client),
				whichCache: map[string]string{"dd": "/bin/dd"},
				synth:      gtfo.NewBuiltin(),
			}

			var got []byte
			done := make(chan struct{})
			go func() {
				got = fakeDDWrite(t, server, len(tc.data), 0)
				close(done)
			}()

			wf, err := p.openWrite("/tmp/out.bin", int64(len(tc.data)))
			if err != nil {
				t.Fatalf("openWrite: %v", err)
			}
			if len(tc.data) > 0 {
				if _, err := wf.Write(tc.data); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if err := wf.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			<-done

			if string(got) != string(tc.data) {
				t.Fatalf("dd received %q, want %q", got, tc.data)
			}
		})
	}
}

func TestStaticFileReadReturnsIoEOFAtEnd(t *testing.T) {
	f := &staticFile{data: []byte("ab")}
	buf := make([]byte, 8)
	n, err := f.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("first Read = (%d, %v), want (2, nil)", n, err)
	}
	n, err = f.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("second Read = (%d, %v), want (0, io.EOF) so io.Copy/io.ReadAll terminate cleanly", n, err)
	}
}

// fakeSSHChannel wraps pipeChannel and additionally satisfies
// ptyAwareChannel, the way channel.SSHChannel does, to exercise
// Probe's upgrade-ladder skip without a real SSH handshake.
type fakeSSHChannel struct {
	*pipeChannel
}

func (f *fakeSSHChannel) HasNativePTY() bool { return true }

var readlinkFrameRe = regexp.MustCompile(`^echo ([0-9a-f]{64}); `)

func TestProbeSkipsPTYUpgradeLadderForNativePTYChannel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := &fakeSSHChannel{pipeChannel: newPipeChannel(client)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		br := bufio.NewReader(server)

		if _, err := br.ReadByte(); err != nil { // Probe's initial "\n" ping
			t.Errorf("read ping: %v", err)
			return
		}

		line, err := br.ReadString('\n') // readSideChannel's shell-resolution frame
		if err != nil {
			t.Errorf("read readlink frame: %v", err)
			return
		}
		m := readlinkFrameRe.FindStringSubmatch(line)
		if m == nil {
			t.Errorf("readlink frame %q did not match", line)
			return
		}
		fmt.Fprintf(server, "%s\n/bin/bash\n", m[1])

		if _, err := br.ReadString('\n'); err != nil { // marker-prompt install line
			t.Errorf("read prompt line: %v", err)
			return
		}

		sttyLine, err := br.ReadString('\n') // the raw-mode switch on a native PTY
		if err != nil {
			t.Errorf("read stty line: %v", err)
			return
		}
		if sttyLine != "stty raw -echo\n" {
			t.Errorf("stty line = %q, want the raw-mode switch", sttyLine)
		}
	}()

	p, err := Probe(ch)
	<-done
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !p.HasPTY() {
		t.Fatal("HasPTY() = false, want true for a channel that already has one")
	}
	if p.ptyMethod != SSHNative {
		t.Fatalf("ptyMethod = %v, want SSHNative", p.ptyMethod)
	}
}

func TestLinuxPlatformRunRejectsWhenBound(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	p := &LinuxPlatform{ch: newPipeChannel(client), whichCache: map[string]string{}, bound: &framedProcess{}}
	_, _, err := p.Run([]string{"id"}, nil, time.Second)
	if !errs.OfKind(err, errs.Busy) {
		t.Fatalf("err = %v, want Busy", err)
	}
}
