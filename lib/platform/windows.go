package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pwncat-go/pwncat/lib/channel"
	"github.com/pwncat-go/pwncat/lib/errs"
)

// rpcRequest is one stage-two call: `["ClassName", "method_name", arg...]`.
type rpcRequest []interface{}

// rpcResponse is stage-two's JSON object reply, per spec.md §4.4.
type rpcResponse struct {
	Error   int             `json:"error"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message,omitempty"`
}

// WindowsPlatform drives a stage-one/stage-two bootstrapped channel.
// Stage one is assumed already delivered and running out of band (its
// own implementation is out of scope per spec.md §1); this driver
// speaks stage two's newline-delimited JSON-RPC protocol.
type WindowsPlatform struct {
	ch channel.Channel

	mu      sync.Mutex
	plugins map[string]string // content-hash or name -> plugin_id
}

// Bootstrap uploads a gzipped, base64-encoded stage-two assembly over
// the channel (stage one is expected to already be waiting for it) and
// waits for the literal "READY" line.
func Bootstrap(ch channel.Channel, stageTwoGzipBase64 []byte) (*WindowsPlatform, error) {
	if _, err := ch.Send(stageTwoGzipBase64); err != nil {
		return nil, errs.New(errs.Transport, "windows.bootstrap", err)
	}
	if _, err := ch.Send([]byte("\n")); err != nil {
		return nil, errs.New(errs.Transport, "windows.bootstrap", err)
	}

	line, err := ch.RecvUntil([]byte("\n"), 30*time.Second)
	if err != nil {
		return nil, errs.New(errs.Protocol, "windows.bootstrap", err)
	}
	if got := trimCRLF(line); got != "READY" {
		return nil, errs.New(errs.Protocol, "windows.bootstrap", fmt.Errorf("expected READY, got %q", got))
	}

	return &WindowsPlatform{ch: ch, plugins: map[string]string{}}, nil
}

func trimCRLF(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// call performs one synchronous JSON-RPC round trip.
func (w *WindowsPlatform) call(class, method string, args ...interface{}) (rpcResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req := append(rpcRequest{class, method}, args...)
	line, err := json.Marshal(req)
	if err != nil {
		return rpcResponse{}, errs.New(errs.Argument, "windows.call", err)
	}
	if _, err := w.ch.Send(append(line, '\n')); err != nil {
		return rpcResponse{}, errs.New(errs.Transport, "windows.call", err)
	}

	raw, err := w.ch.RecvUntil([]byte("\n"), 30*time.Second)
	if err != nil {
		return rpcResponse{}, errs.New(errs.Protocol, "windows.call", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal([]byte(trimCRLF(raw)), &resp); err != nil {
		return rpcResponse{}, errs.New(errs.Protocol, "windows.call", fmt.Errorf("malformed stage-two response: %w", err))
	}
	if resp.Error != 0 {
		return resp, errs.New(errs.Platform, "windows."+class+"."+method,
			fmt.Errorf("stage-two error %d: %s", resp.Error, resp.Message))
	}
	return resp, nil
}

func (w *WindowsPlatform) Kind() Kind        { return Windows }
func (w *WindowsPlatform) HasPTY() bool      { return false }
func (w *WindowsPlatform) ShellPath() string { return "cmd.exe" }

func (w *WindowsPlatform) Cwd() (string, error) {
	resp, err := w.call("Process", "process", "cmd.exe", "/c", "cd")
	if err != nil {
		return "", err
	}
	var dir string
	if err := json.Unmarshal(resp.Result, &dir); err != nil {
		return "", errs.New(errs.Protocol, "windows.cwd", err)
	}
	return dir, nil
}

func (w *WindowsPlatform) CurrentUser() (User, error) {
	resp, err := w.call("Process", "process", "whoami", 1)
	if err != nil {
		return User{}, err
	}
	var name string
	if err := json.Unmarshal(resp.Result, &name); err != nil {
		return User{}, errs.New(errs.Protocol, "windows.current_user", err)
	}
	return User{Name: name}, nil
}

func (w *WindowsPlatform) Run(argv []string, env map[string]string, timeout time.Duration) ([]byte, int, error) {
	args := make([]interface{}, 0, len(argv)+1)
	for _, a := range argv {
		args = append(args, a)
	}
	args = append(args, 1) // capture-output flag
	resp, err := w.call("Process", "process", args...)
	if err != nil {
		return nil, 0, err
	}
	var out string
	_ = json.Unmarshal(resp.Result, &out)
	// stage-two's process() with the capture-output flag set blocks until
	// the child exits and returns its combined output; the child's exit
	// status is not fetched, so Run always reports status 0.
	return []byte(out), 0, nil
}

// Kill issues stage-two's kill RPC for pid and returns the reported
// status. Run does not call it: WindowsPlatform.Run does not apply its
// timeout argument.
func (w *WindowsPlatform) Kill(pid int) (int, error) {
	resp, err := w.call("Process", "kill", pid)
	if err != nil {
		return 0, err
	}
	var status int
	_ = json.Unmarshal(resp.Result, &status)
	return status, nil
}

// windowsProcess wraps a stage-two process handle quadruple.
type windowsProcess struct {
	w   *WindowsPlatform
	pid int
}

func (w *WindowsPlatform) Popen(argv []string, env map[string]string) (ProcessHandle, error) {
	args := make([]interface{}, 0, len(argv)+1)
	for _, a := range argv {
		args = append(args, a)
	}
	args = append(args, 0) // non-blocking
	resp, err := w.call("Process", "process", args...)
	if err != nil {
		return nil, err
	}
	var pid int
	_ = json.Unmarshal(resp.Result, &pid)
	return &windowsProcess{w: w, pid: pid}, nil
}

func (wp *windowsProcess) Write(p []byte) (int, error) {
	resp, err := wp.w.call("Process", "write", wp.pid, p)
	if err != nil {
		return 0, err
	}
	var n int
	_ = json.Unmarshal(resp.Result, &n)
	return n, nil
}

func (wp *windowsProcess) Read(out []byte) (int, error) {
	resp, err := wp.w.call("Process", "read", wp.pid, len(out))
	if err != nil {
		return 0, err
	}
	var chunk string
	_ = json.Unmarshal(resp.Result, &chunk)
	n := copy(out, chunk)
	return n, nil
}

func (wp *windowsProcess) Wait() (int, error) {
	resp, err := wp.w.call("Process", "ppoll", wp.pid)
	if err != nil {
		return 0, err
	}
	var status int
	_ = json.Unmarshal(resp.Result, &status)
	return status, nil
}

func (wp *windowsProcess) Close() error {
	_, err := wp.w.call("Process", "close", wp.pid)
	return err
}

// windowsFile wraps CreateFile-derived GENERIC_READ/WRITE handles.
type windowsFile struct {
	w      *WindowsPlatform
	handle int
}

func (w *WindowsPlatform) Open(path string, mode FileMode, length int64) (RemoteFile, error) {
	var accessMode string
	switch mode {
	case ReadOnly:
		accessMode = "r"
	case WriteOnly:
		accessMode = "w"
	case ReadWrite:
		accessMode = "rw"
	}
	resp, err := w.call("File", "open", path, accessMode)
	if err != nil {
		return nil, err
	}
	var handle int
	_ = json.Unmarshal(resp.Result, &handle)
	return &windowsFile{w: w, handle: handle}, nil
}

func (f *windowsFile) Read(out []byte) (int, error) {
	resp, err := f.w.call("File", "read", f.handle, len(out))
	if err != nil {
		return 0, err
	}
	var chunk string
	_ = json.Unmarshal(resp.Result, &chunk)
	if len(chunk) == 0 {
		// io.Copy/io.ReadAll only recognize the literal io.EOF sentinel,
		// not errs.Eof, as a clean end of stream.
		return 0, io.EOF
	}
	n := copy(out, chunk)
	return n, nil
}

func (f *windowsFile) Write(p []byte) (int, error) {
	resp, err := f.w.call("File", "write", f.handle, p)
	if err != nil {
		return 0, err
	}
	var n int
	_ = json.Unmarshal(resp.Result, &n)
	return n, nil
}

func (f *windowsFile) Close() error {
	_, err := f.w.call("File", "close", f.handle)
	return err
}

// MachineGUID reads the registry's stable per-install identifier, used
// by lib/session to derive host_id on Windows (spec.md §3).
func (w *WindowsPlatform) MachineGUID() (string, error) {
	resp, err := w.call("Process", "process", "reg", "query",
		`HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid", 1)
	if err != nil {
		return "", err
	}
	var out string
	_ = json.Unmarshal(resp.Result, &out)
	return trimCRLF([]byte(out)), nil
}

func (w *WindowsPlatform) Which(name string) (string, error) {
	resp, err := w.call("Process", "process", "where", name, 1)
	if err != nil {
		return "", err
	}
	var out string
	_ = json.Unmarshal(resp.Result, &out)
	if out == "" {
		return "", errs.New(errs.NotFound, "windows.which", fmt.Errorf("%s not found", name))
	}
	return trimCRLF([]byte(out)), nil
}

func (w *WindowsPlatform) Users() ([]User, error) {
	return nil, errs.New(errs.NotFound, "windows.users", fmt.Errorf("enumeration modules are out of scope"))
}

func (w *WindowsPlatform) Groups() (map[string][]string, error) {
	return nil, errs.New(errs.NotFound, "windows.groups", fmt.Errorf("enumeration modules are out of scope"))
}

// LoadPlugin uploads a .NET assembly for reflective loading inside
// stage two, deduplicating by content hash or logical name per
// spec.md §4.4's plugin idempotence invariant.
func (w *WindowsPlatform) LoadPlugin(name string, assembly []byte) (string, error) {
	sum := sha256.Sum256(assembly)
	key := hex.EncodeToString(sum[:])

	w.mu.Lock()
	if id, ok := w.plugins[key]; ok {
		w.mu.Unlock()
		return id, nil
	}
	if id, ok := w.plugins[name]; ok {
		w.mu.Unlock()
		return id, nil
	}
	w.mu.Unlock()

	resp, err := w.call("Plugin", "dotnet_load", name, assembly)
	if err != nil {
		return "", err
	}
	var id string
	_ = json.Unmarshal(resp.Result, &id)

	w.mu.Lock()
	w.plugins[key] = id
	w.plugins[name] = id
	w.mu.Unlock()
	return id, nil
}

// CallPlugin invokes Plugin.<method> on a previously loaded plugin id.
func (w *WindowsPlatform) CallPlugin(pluginID, method string, args ...interface{}) (json.RawMessage, error) {
	full := append([]interface{}{pluginID}, args...)
	resp, err := w.call("Plugin", method, full...)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Interactive switches the channel into raw ConPTY pass-through until
// the literal marker line INTERACTIVE_COMPLETE is observed.
func (w *WindowsPlatform) Interactive(onByte func([]byte)) error {
	if _, err := w.call("Process", "interactive"); err != nil {
		return err
	}
	for {
		chunk, err := w.ch.Recv(4096)
		if err != nil {
			return err
		}
		if idx := indexOf(chunk, "INTERACTIVE_COMPLETE"); idx >= 0 {
			onByte(chunk[:idx])
			return nil
		}
		onByte(chunk)
	}
}

func indexOf(haystack []byte, needle string) int {
	n := []byte(needle)
	for i := 0; i+len(n) <= len(haystack); i++ {
		if string(haystack[i:i+len(n)]) == needle {
			return i
		}
	}
	return -1
}

func (w *WindowsPlatform) Close() error { return nil }
