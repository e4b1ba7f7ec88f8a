// Package platform implements the per-OS driver (spec.md §4.3/§4.4):
// probing a freshly-connected Channel, upgrading it to a programmable
// control surface, and exposing a POSIX-like set of primitives on top
// of raw shell I/O or, on Windows, a stage-two C2 assembly.
package platform

import (
	"time"

	"github.com/pwncat-go/pwncat/lib/channel"
)

// Kind identifies which concrete driver a Session is running.
type Kind string

const (
	Linux   Kind = "linux"
	Windows Kind = "windows"
)

// User is a resolved identity on the remote target.
type User struct {
	Name string
	UID  string
	GID  string
}

// ProcessHandle is the (pid, stdin, stdout, stderr) quadruple of
// spec.md §3, with Linux's framed-stream view and Windows's stage-two
// handles both satisfying it.
type ProcessHandle interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	// Wait blocks until the process exits (its end marker, or stage-two
	// ppoll on Windows) and returns its exit status.
	Wait() (int, error)
	Close() error
}

// FileMode is the open() mode of spec.md §3's Remote file.
type FileMode int

const (
	ReadOnly FileMode = iota
	WriteOnly
	ReadWrite
)

// RemoteFile is an open handle to a path on the target, per spec.md's
// Remote file invariants: closing drains the EOF marker.
type RemoteFile interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Platform is the interface a Session drives: everything above it
// (lib/session, lib/registry modules) is OS-agnostic.
type Platform interface {
	Kind() Kind
	HasPTY() bool
	ShellPath() string
	Cwd() (string, error)
	CurrentUser() (User, error)

	// Run executes argv to completion and returns combined stdout and
	// the process's exit status, per spec.md's run() primitive.
	Run(argv []string, env map[string]string, timeout time.Duration) (stdout []byte, status int, err error)

	// Popen starts argv and returns a live handle; at most one handle
	// may be bound and unread at a time on a Linux session (an errs.Busy
	// error otherwise). Windows has no such restriction (stage-two
	// multiplexes handles itself) so its driver never returns Busy here.
	Popen(argv []string, env map[string]string) (ProcessHandle, error)

	// Open returns a handle for reading or writing path. length, when
	// known, enables a raw-stream GTFO method instead of base64 fallback.
	Open(path string, mode FileMode, length int64) (RemoteFile, error)

	Which(name string) (string, error)
	Users() ([]User, error)
	Groups() (map[string][]string, error)

	// Close tears down the platform's bookkeeping; it does not close
	// the underlying Channel, which the Session owns.
	Close() error
}

// channelReader is an alias for channel.Channel: platform drivers see
// the full Channel interface, not a narrower view of it.
type channelReader = channel.Channel
