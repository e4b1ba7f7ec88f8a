package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer lets Start()'s goroutine and the test's assertions touch
// the same buffer without racing, since log.Print happens off the
// calling goroutine once Start is running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(t *testing.T) (*Logger, *syncBuffer) {
	t.Helper()
	l, err := NewLogger("", 3)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	buf := &syncBuffer{}
	l.writer = buf
	go l.Start()
	return l, buf
}

func waitForSubstring(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if strings.Contains(buf.String(), want) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q in log output, got %q", want, buf.String())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoggerInfoReachesWriter(t *testing.T) {
	l, buf := newTestLogger(t)
	l.Info("session %d established", 7)
	waitForSubstring(t, buf, "session 7 established")
}

func TestLoggerRespectsLevel(t *testing.T) {
	l, buf := newTestLogger(t)
	l.SetDebugLevel(1) // Info/Debug are filtered; Warning and the ungated methods get through
	l.Info("should not appear")
	l.Warning("should appear")
	waitForSubstring(t, buf, "should appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Fatal("Info() logged despite level 1")
	}
}

func TestLoggerAddWriterFansOutToBoth(t *testing.T) {
	l, buf1 := newTestLogger(t)
	buf2 := &syncBuffer{}
	l.AddWriter(buf2)

	l.Msg("fanned out")
	waitForSubstring(t, buf1, "fanned out")
	waitForSubstring(t, buf2, "fanned out")
}
