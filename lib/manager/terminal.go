package manager

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/pwncat-go/pwncat/lib/channel"
	"github.com/pwncat-go/pwncat/lib/logging"
)

// TransitionKey leaves RAW mode and returns control to the COMMAND
// prompt; default is Ctrl-D (EOT), per spec.md §4.5.
var TransitionKey byte = 0x04

// PrefixKey quotes the very next keystroke, forwarding it through to
// the remote session even if it equals TransitionKey.
var PrefixKey byte = 0x1c // Ctrl-\, a different single keystroke

// rawLoop forwards stdin bytes to ch unmodified and ch bytes to stdout
// unmodified, until TransitionKey is read, mirroring rshell.go's
// stty-raw / pty-resize dance but addressed at a Channel instead of an
// HTTP2 multiplexed stream.
func rawLoop(ch channel.Channel) error {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	syncSize(ch)

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-winch:
				syncSize(ch)
			case <-done:
				return
			}
		}
	}()

	go func() {
		for {
			chunk, err := ch.Recv(4096)
			if err != nil {
				return
			}
			if len(chunk) > 0 {
				os.Stdout.Write(chunk)
			}
		}
	}()

	stdinBuf := make([]byte, 1)
	quoteNext := false
	for {
		n, err := os.Stdin.Read(stdinBuf)
		if err != nil || n == 0 {
			return err
		}
		b := stdinBuf[0]
		if !quoteNext {
			if b == PrefixKey {
				quoteNext = true
				continue
			}
			if b == TransitionKey {
				return nil
			}
		}
		quoteNext = false
		if _, err := ch.Send([]byte{b}); err != nil {
			return err
		}
	}
}

// syncSize pushes the local terminal's rows/cols to the remote PTY via
// stty, the same command rshell.go issues after a SIGWINCH.
func syncSize(ch channel.Channel) {
	size, err := pty.GetsizeFull(os.Stdin)
	if err != nil {
		logging.Warningf("cannot get local terminal size: %v", err)
		return
	}
	cmd := []byte("stty rows " + strconv.Itoa(int(size.Rows)) + " columns " + strconv.Itoa(int(size.Cols)) + "\n")
	ch.Send(cmd)
}
