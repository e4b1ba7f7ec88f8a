package platform

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pwncat-go/pwncat/lib/channel"
	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/gtfo"
	"github.com/pwncat-go/pwncat/lib/logging"
)

// PTYMethod identifies which upgrade recipe succeeded, per spec.md §4.3.
type PTYMethod int

const (
	NoPTY PTYMethod = iota
	ScriptUtilLinux
	ScriptBSD
	Python
	Socat
	// SSHNative marks a channel that arrived with a PTY already allocated
	// by the ssh protocol's RequestPty, so the upgrade ladder is skipped.
	SSHNative
)

func (m PTYMethod) String() string {
	switch m {
	case ScriptUtilLinux:
		return "script (util-linux)"
	case ScriptBSD:
		return "script (BSD)"
	case Python:
		return "python pty"
	case Socat:
		return "socat"
	case SSHNative:
		return "ssh (pre-allocated)"
	default:
		return "none"
	}
}

// shellDialect describes how one shell family sets a machine-readable
// prompt. zsh uses PROMPT, everything else here uses PS1.
type shellDialect struct {
	name      string
	promptVar string
}

var shellDialects = map[string]shellDialect{
	"bash": {"bash", "PS1"},
	"zsh":  {"zsh", "PROMPT"},
	"dash": {"dash", "PS1"},
	"sh":   {"sh", "PS1"},
}

// refusedShells exit on any stdin and must never be probed further:
// writing to them risks terminating the channel outright.
var refusedShells = map[string]bool{
	"nologin":   true,
	"false":     true,
	"sync":      true,
	"git-shell": true,
}

// LinuxPlatform drives a POSIX shell channel into a framed, optionally
// PTY-backed control surface.
type LinuxPlatform struct {
	ch channel.Channel

	shellPath string
	dialect   shellDialect
	hasPTY    bool
	ptyMethod PTYMethod
	marker    string // the invisible per-session prompt marker

	mu          sync.Mutex // guards framed execution + bound handle, per spec.md §5
	whichCache  map[string]string
	bound       ProcessHandle
	boundTokens string // end marker bound expects, for diagnostics

	synth gtfo.Synthesizer // resolves open()/popen()'s GTFO read/write methods
}

// Probe sends a no-op, resolves the remote shell, refuses dangerous
// shells, and installs a marker-encoded prompt, per spec.md §4.3.
func Probe(ch channel.Channel) (*LinuxPlatform, error) {
	p := &LinuxPlatform{
		ch:         ch,
		whichCache: map[string]string{},
		synth:      gtfo.NewBuiltin(),
	}

	if _, err := ch.Send([]byte("\n")); err != nil {
		return nil, err
	}
	ch.Drain()

	shellPath, err := p.readSideChannel("readlink -f /proc/self/exe 2>/dev/null || echo /bin/sh")
	if err != nil {
		return nil, err
	}
	shellPath = strings.TrimSpace(shellPath)
	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	p.shellPath = shellPath

	base := shellPath[strings.LastIndex(shellPath, "/")+1:]
	if refusedShells[base] {
		return nil, errs.New(errs.Platform, "linux.probe",
			fmt.Errorf("remote shell %q refuses interactive use", shellPath))
	}
	dialect, ok := shellDialects[base]
	if !ok {
		dialect = shellDialects["sh"]
	}
	p.dialect = dialect

	marker, err := newMarker()
	if err != nil {
		return nil, err
	}
	p.marker = marker

	promptCmd := fmt.Sprintf(
		"unset HISTFILE; export HISTSIZE=0 HISTCONTROL=ignorespace; export %s='%s'\n",
		dialect.promptVar, promptMarker(marker))
	if _, err := ch.Send([]byte(promptCmd)); err != nil {
		return nil, err
	}
	ch.Drain()

	if pa, ok := ch.(ptyAwareChannel); ok && pa.HasNativePTY() {
		// e.g. an SSHChannel: RequestPty already allocated a tty, so
		// running the script/python/socat ladder on top of it would
		// just nest one pty inside another. Switch it to raw mode for
		// framing and move on, per spec.md §8's SSH reconnect scenario.
		p.hasPTY = true
		p.ptyMethod = SSHNative
		p.ch.Send([]byte("stty raw -echo\n"))
		logging.Infof("channel already has a pty, skipping upgrade ladder")
	} else {
		p.upgradePTY()
	}

	return p, nil
}

// ptyAwareChannel is satisfied by channels (like SSHChannel) that
// already negotiated their own PTY before Probe ever saw them.
type ptyAwareChannel interface {
	HasNativePTY() bool
}

// readSideChannel runs one line outside of framed execution, used only
// during probe before the marker prompt exists.
func (p *LinuxPlatform) readSideChannel(cmd string) (string, error) {
	start, err := newMarker()
	if err != nil {
		return "", err
	}
	if _, err := p.ch.Send([]byte(fmt.Sprintf("echo %s; %s\n", start, cmd))); err != nil {
		return "", err
	}
	out, err := p.ch.RecvUntil([]byte(start+"\n"), 5*time.Second)
	_ = out
	line, err2 := p.ch.RecvUntil([]byte("\n"), 5*time.Second)
	if err2 != nil {
		return "", err2
	}
	return string(line), err
}

// upgradePTY walks the method ladder of spec.md §4.3, stopping at the
// first success. Failure to upgrade is not fatal: has_pty stays false
// and the caller is warned.
func (p *LinuxPlatform) upgradePTY() {
	attempts := []struct {
		method PTYMethod
		cmd    string
	}{
		{ScriptUtilLinux, fmt.Sprintf("script -qc %s /dev/null\n", p.shellPath)},
		{ScriptBSD, fmt.Sprintf("script -q /dev/null %s\n", p.shellPath)},
		{Python, fmt.Sprintf("python3 -c 'import pty; pty.spawn(\"%s\")' || python -c 'import pty; pty.spawn(\"%s\")'\n", p.shellPath, p.shellPath)},
		{Socat, fmt.Sprintf("socat exec:%s,pty,stderr,setsid,sigint,sane -\n", p.shellPath)},
	}

	for _, a := range attempts {
		if _, err := p.ch.Send([]byte(a.cmd)); err != nil {
			break
		}
		probeMarker, err := newMarker()
		if err != nil {
			continue
		}
		if _, err := p.ch.Send([]byte(fmt.Sprintf("echo %s\n", probeMarker))); err != nil {
			continue
		}
		if _, err := p.ch.RecvUntil([]byte(probeMarker), 2*time.Second); err != nil {
			continue
		}
		p.hasPTY = true
		p.ptyMethod = a.method
		break
	}

	if p.hasPTY {
		p.ch.Send([]byte("stty raw -echo\n"))
		logging.Infof("pty upgrade succeeded via %s", p.ptyMethod)
	} else {
		logging.Warningf("pty upgrade failed, continuing without a tty")
	}
}

func (p *LinuxPlatform) Kind() Kind      { return Linux }
func (p *LinuxPlatform) HasPTY() bool    { return p.hasPTY }
func (p *LinuxPlatform) ShellPath() string { return p.shellPath }

func (p *LinuxPlatform) Cwd() (string, error) {
	out, status, err := p.Run([]string{"pwd"}, nil, 5*time.Second)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", errs.New(errs.Platform, "linux.cwd", fmt.Errorf("pwd exited %d", status))
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *LinuxPlatform) CurrentUser() (User, error) {
	out, status, err := p.Run([]string{"id"}, nil, 5*time.Second)
	if err != nil {
		return User{}, err
	}
	if status != 0 {
		return User{}, errs.New(errs.Platform, "linux.current_user", fmt.Errorf("id exited %d", status))
	}
	return parseIDOutput(string(out))
}

func parseIDOutput(s string) (User, error) {
	// uid=1000(caleb) gid=1000(caleb) groups=...
	var u User
	fields := strings.Fields(s)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "uid="):
			u.UID, u.Name = splitIDField(f[len("uid="):])
		case strings.HasPrefix(f, "gid="):
			u.GID, _ = splitIDField(f[len("gid="):])
		}
	}
	if u.UID == "" {
		return u, errs.New(errs.Protocol, "linux.current_user", fmt.Errorf("unparsable id output: %q", s))
	}
	return u, nil
}

func splitIDField(f string) (id, name string) {
	i := strings.IndexByte(f, '(')
	if i < 0 {
		return f, ""
	}
	id = f[:i]
	name = strings.TrimSuffix(f[i+1:], ")")
	return id, name
}

// Run is the only supported way for modules to execute a command
// (spec.md §4.3 "Framed execution"): it wraps argv in start/end
// markers and serializes against any other framed execution or bound
// popen handle on this session via mu. RAW pass-through in lib/manager
// does not take mu, so Run does not refuse a command while RAW is active.
func (p *LinuxPlatform) Run(argv []string, env map[string]string, timeout time.Duration) ([]byte, int, error) {
	return p.runLine(buildCommandLine(argv, env), timeout)
}

// runLine is Run's body generalized over an already-built shell command
// line, so GTFO methods (which produce their own quoted command text)
// can be executed without re-deriving argv.
func (p *LinuxPlatform) runLine(cmdLine string, timeout time.Duration) ([]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bound != nil {
		return nil, 0, errs.New(errs.Busy, "linux.run", fmt.Errorf("a popen handle is still bound"))
	}

	start, err := newMarker()
	if err != nil {
		return nil, 0, err
	}
	end, err := newMarker()
	if err != nil {
		return nil, 0, err
	}

	frame := fmt.Sprintf("echo %s; %s; echo %s $?\n", start, cmdLine, end)

	if _, err := p.ch.Send([]byte(frame)); err != nil {
		return nil, 0, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if _, err := p.ch.RecvUntil([]byte(start+"\n"), timeout); err != nil {
		return nil, 0, p.poisonOnTimeout(err)
	}
	raw, err := p.ch.RecvUntil([]byte(end), timeout)
	if err != nil {
		return nil, 0, p.poisonOnTimeout(err)
	}

	statusLine, err := p.ch.RecvUntil([]byte("\n"), timeout)
	if err != nil {
		return nil, 0, p.poisonOnTimeout(err)
	}
	status, _ := strconv.Atoi(strings.TrimSpace(string(statusLine)))

	output := bytes.TrimSuffix(raw, []byte(end))
	return output, status, nil
}

// poisonOnTimeout sends the Linux interrupt sequence and reports the
// session's interrupt-then-drain outcome as a Timeout, per spec.md §5's
// cancellation rules; it never escalates to Transport on its own.
func (p *LinuxPlatform) poisonOnTimeout(cause error) error {
	if errs.OfKind(cause, errs.Timeout) {
		p.ch.Send([]byte{0x03}) // Ctrl-C
		p.ch.Drain()
	}
	return cause
}

func buildCommandLine(argv []string, env map[string]string) string {
	var b strings.Builder
	b.WriteString("env -i ")
	for k, v := range env {
		fmt.Fprintf(&b, "%s=%s ", k, shellQuote(v))
	}
	for i, a := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i == 0 {
			b.WriteString(a)
		} else {
			b.WriteString(shellQuote(a))
		}
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// framedProcess is the Linux ProcessHandle: a Channel-backed stream
// terminated by an end delimiter, per spec.md §3's Process handle.
type framedProcess struct {
	p      *LinuxPlatform
	end    []byte
	closed bool
	buf    []byte
}

func (p *LinuxPlatform) Popen(argv []string, env map[string]string) (ProcessHandle, error) {
	return p.popenLine(buildCommandLine(argv, env))
}

// popenLine is Popen's body generalized over an already-built shell
// command line, shared with the raw-stream GTFO write path.
func (p *LinuxPlatform) popenLine(cmdLine string) (ProcessHandle, error) {
	p.mu.Lock()
	if p.bound != nil {
		p.mu.Unlock()
		return nil, errs.New(errs.Busy, "linux.popen", fmt.Errorf("a popen handle is already bound"))
	}

	start, err := newMarker()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	end, err := newMarker()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	frame := fmt.Sprintf("echo %s; %s; echo %s $?\n", start, cmdLine, end)
	if _, err := p.ch.Send([]byte(frame)); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if _, err := p.ch.RecvUntil([]byte(start+"\n"), 10*time.Second); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	proc := &framedProcess{p: p, end: []byte(end)}
	p.bound = proc
	p.boundTokens = end
	p.mu.Unlock()
	return proc, nil
}

func (fp *framedProcess) Write(data []byte) (int, error) {
	return fp.p.ch.Send(data)
}

func (fp *framedProcess) Read(out []byte) (int, error) {
	if len(fp.buf) == 0 {
		chunk, err := fp.p.ch.Recv(len(out))
		if err != nil {
			return 0, err
		}
		if i := bytes.Index(chunk, fp.end); i >= 0 {
			fp.buf = chunk[i:]
			chunk = chunk[:i]
		}
		n := copy(out, chunk)
		return n, nil
	}
	n := copy(out, fp.buf)
	fp.buf = fp.buf[n:]
	return n, nil
}

// Wait drains until the end marker and trailing status line are seen.
func (fp *framedProcess) Wait() (int, error) {
	raw, err := fp.p.ch.RecvUntil(fp.end, 60*time.Second)
	_ = raw
	if err != nil {
		return 0, err
	}
	statusLine, err := fp.p.ch.RecvUntil([]byte("\n"), 5*time.Second)
	if err != nil {
		return 0, err
	}
	status, _ := strconv.Atoi(strings.TrimSpace(string(statusLine)))
	return status, nil
}

func (fp *framedProcess) Close() error {
	fp.p.mu.Lock()
	defer fp.p.mu.Unlock()
	if fp.p.bound == fp {
		fp.p.bound = nil
		fp.p.boundTokens = ""
	}
	return nil
}

// Which resolves name to an absolute path, caching per spec.md §5's
// supplemented feature, falling back to a manual PATH walk when the
// remote has no which/type builtin.
func (p *LinuxPlatform) Which(name string) (string, error) {
	p.mu.Lock()
	if cached, ok := p.whichCache[name]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	out, status, err := p.Run([]string{"which", name}, nil, 5*time.Second)
	if err == nil && status == 0 {
		path := strings.TrimSpace(string(out))
		p.mu.Lock()
		p.whichCache[name] = path
		p.mu.Unlock()
		return path, nil
	}

	// Walk the remote shell's own $PATH; the fixed list covers an empty one.
	dirs := []string{"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin"}
	if out, status, err := p.runLine(`echo "$PATH"`, 5*time.Second); err == nil && status == 0 {
		if remotePath := strings.TrimSpace(string(out)); remotePath != "" {
			dirs = strings.Split(remotePath, ":")
		}
	}
	for _, dir := range dirs {
		candidate := dir + "/" + name
		_, status, err := p.Run([]string{"test", "-x", candidate}, nil, 5*time.Second)
		if err == nil && status == 0 {
			p.mu.Lock()
			p.whichCache[name] = candidate
			p.mu.Unlock()
			return candidate, nil
		}
	}
	return "", errs.New(errs.NotFound, "linux.which", fmt.Errorf("%s not found on PATH", name))
}

func (p *LinuxPlatform) Users() ([]User, error) {
	out, status, err := p.Run([]string{"cat", "/etc/passwd"}, nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, errs.New(errs.Permission, "linux.users", fmt.Errorf("cat /etc/passwd exited %d", status))
	}
	var users []User
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		users = append(users, User{Name: fields[0], UID: fields[2], GID: fields[3]})
	}
	return users, nil
}

func (p *LinuxPlatform) Groups() (map[string][]string, error) {
	out, status, err := p.Run([]string{"cat", "/etc/group"}, nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, errs.New(errs.Permission, "linux.groups", fmt.Errorf("cat /etc/group exited %d", status))
	}
	groups := map[string][]string{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		var members []string
		for _, m := range strings.Split(fields[3], ",") {
			if m != "" {
				members = append(members, m)
			}
		}
		groups[fields[0]] = members
	}
	return groups, nil
}

// Service runs a minimal systemd introspection op, per spec.md's
// optional service(name, op) primitive.
func (p *LinuxPlatform) Service(name, op string) ([]byte, int, error) {
	switch op {
	case "status", "start", "stop", "restart", "enable", "disable":
	default:
		return nil, 0, errs.New(errs.Argument, "linux.service", fmt.Errorf("unknown op %q", op))
	}
	return p.Run([]string{"systemctl", op, name}, nil, 10*time.Second)
}

// Open realizes a Remote file by selecting a raw-stream or base64
// fallback GTFO method, per spec.md's file open encoding fallback.
func (p *LinuxPlatform) Open(path string, mode FileMode, length int64) (RemoteFile, error) {
	switch mode {
	case ReadOnly:
		return p.openRead(path)
	case WriteOnly, ReadWrite:
		return p.openWrite(path, length)
	default:
		return nil, errs.New(errs.Argument, "linux.open", fmt.Errorf("unsupported mode %v", mode))
	}
}

// openRead selects a Read method from the GTFO synthesizer, preferring
// a raw-stream method (cat) over a base64-encoded one, and skipping any
// method whose binary isn't present on the target.
func (p *LinuxPlatform) openRead(path string) (RemoteFile, error) {
	for _, stream := range []gtfo.Stream{gtfo.Raw, gtfo.Base64} {
		for _, m := range p.synth.IterMethods(gtfo.Read, stream) {
			if _, err := p.Which(m.Binary()); err != nil {
				continue
			}
			built, err := m.Build(map[string]string{"path": path})
			if err != nil {
				continue
			}
			out, status, err := p.runLine(strings.TrimSuffix(string(built.Payload), "\n"), 30*time.Second)
			if err != nil {
				return nil, err
			}
			if status != 0 {
				return nil, errs.New(errs.NotFound, "linux.open", fmt.Errorf("%s %s exited %d", m.Binary(), path, status))
			}
			if stream == gtfo.Base64 {
				decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(out), "\n", ""))
				if err != nil {
					return nil, errs.New(errs.Protocol, "linux.open", err)
				}
				return &staticFile{data: decoded}, nil
			}
			return &staticFile{data: out}, nil
		}
	}
	return nil, errs.New(errs.NotFound, "linux.open", &gtfo.ErrNoMethod{Binary: path, Caps: gtfo.Read, Stream: gtfo.Raw})
}

// openWrite prefers a raw-stream GTFO writer when length is known, so
// the remote side reads exactly that many bytes instead of needing an
// EOF signal; otherwise (or when no raw writer is present) it falls
// back to a base64-encoded single-shot write, per spec.md §4.3.
func (p *LinuxPlatform) openWrite(path string, length int64) (RemoteFile, error) {
	if length > 0 {
		for _, m := range p.synth.IterMethods(gtfo.Write, gtfo.Raw) {
			if _, err := p.Which(m.Binary()); err != nil {
				continue
			}
			params := map[string]string{"path": path, "length": strconv.FormatInt(length, 10)}
			built, err := m.Build(params)
			if err != nil {
				continue
			}
			proc, err := p.popenLine(strings.TrimSuffix(string(built.Payload), "\n"))
			if err != nil {
				continue
			}
			return &rawWriteFile{proc: proc, exitCmd: built.ExitCmd}, nil
		}
	}

	for _, m := range p.synth.IterMethods(gtfo.Write, gtfo.Base64) {
		if _, err := p.Which(m.Binary()); err != nil {
			continue
		}
		return &base64WriteFile{p: p, path: path, method: m}, nil
	}

	return nil, errs.New(errs.NotFound, "linux.open", &gtfo.ErrNoMethod{Binary: path, Caps: gtfo.Write, Stream: gtfo.Base64})
}

// staticFile is a fully-buffered read handle: cat/base64 already ran
// to completion by the time Open returns.
type staticFile struct {
	data []byte
	pos  int
}

func (f *staticFile) Read(out []byte) (int, error) {
	if f.pos >= len(f.data) {
		// io.Copy/io.ReadAll only recognize the literal io.EOF sentinel,
		// not errs.Eof, as a clean end of stream.
		return 0, io.EOF
	}
	n := copy(out, f.data[f.pos:])
	f.pos += n
	return n, nil
}
func (f *staticFile) Write([]byte) (int, error) { return 0, errs.New(errs.Argument, "linux.file.write", fmt.Errorf("file opened read-only")) }
func (f *staticFile) Close() error              { return nil }

// base64WriteFile buffers writes locally and flushes them on Close as
// a single framed command built from a GTFO base64 Write method, per
// spec.md's "File open encoding fallback" supplemented feature.
type base64WriteFile struct {
	p      *LinuxPlatform
	path   string
	method gtfo.MethodWrapper
	buf    bytes.Buffer
	closed bool
}

func (f *base64WriteFile) Read([]byte) (int, error) {
	return 0, errs.New(errs.Argument, "linux.file.read", fmt.Errorf("file opened write-only"))
}

func (f *base64WriteFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errs.New(errs.Argument, "linux.file.write", fmt.Errorf("file already closed"))
	}
	return f.buf.Write(p)
}

func (f *base64WriteFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	built, err := f.method.Build(map[string]string{"path": f.path})
	if err != nil {
		return errs.New(errs.Argument, "linux.file.close", err)
	}
	decodeCmd := strings.TrimSuffix(string(built.Payload), "\n")
	encoded := base64.StdEncoding.EncodeToString(f.buf.Bytes())
	cmd := fmt.Sprintf("echo %s | %s", shellQuote(encoded), decodeCmd)
	_, status, err := f.p.Run([]string{"sh", "-c", cmd}, nil, 60*time.Second)
	if err != nil {
		return err
	}
	if status != 0 {
		return errs.New(errs.Permission, "linux.file.close", fmt.Errorf("write to %s exited %d", f.path, status))
	}
	return nil
}

// rawWriteFile streams writes directly to a bound process started from
// a raw-stream GTFO Write method (e.g. dd with a known count=), closing
// by sending the method's exit command, if any, and waiting for the
// process's end marker.
type rawWriteFile struct {
	proc    ProcessHandle
	exitCmd []byte
	closed  bool
}

func (f *rawWriteFile) Read([]byte) (int, error) {
	return 0, errs.New(errs.Argument, "linux.file.read", fmt.Errorf("file opened write-only"))
}

func (f *rawWriteFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errs.New(errs.Argument, "linux.file.write", fmt.Errorf("file already closed"))
	}
	return f.proc.Write(p)
}

func (f *rawWriteFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	// Release the session's bound-handle slot that popenLine took.
	defer f.proc.Close()
	if len(f.exitCmd) > 0 {
		if _, err := f.proc.Write(f.exitCmd); err != nil {
			return err
		}
	}
	status, err := f.proc.Wait()
	if err != nil {
		return err
	}
	if status != 0 {
		return errs.New(errs.Permission, "linux.file.close", fmt.Errorf("write exited %d", status))
	}
	return nil
}

func (p *LinuxPlatform) Close() error { return nil }
