package channel

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/logging"
)

// State is a Listener's lifecycle state (spec.md §4.2).
type State int

const (
	RUNNING State = iota
	STOPPED
	FAILED
)

func (s State) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case STOPPED:
		return "STOPPED"
	case FAILED:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SessionHandle is the minimal view of a promoted Session a Listener
// needs: enough to dedupe on (host_id, user) and to report established
// sessions back to the caller, without lib/channel importing lib/session
// (which itself depends on lib/channel for its Channel field).
type SessionHandle interface {
	ID() string
	HostID() string
	User() string
	Close() error
}

// InitFunc promotes a freshly-accepted Channel into a full Session by
// running the §4.3 probe. platformHint may be empty, meaning "run the
// full OS-detection probe"; a non-empty hint skips straight to that
// Platform's probe.
type InitFunc func(ch Channel, platformHint string) (SessionHandle, error)

// Spec describes a Listener to Start.
type Spec struct {
	Protocol      string // "tcp", "ssl", "ssh"
	BindHost      string
	BindPort      int
	PlatformHint  string
	CountLimit    int // 0 means unlimited
	DropDuplicate bool

	// TLS-only.
	CertFile, KeyFile, CombinedPEM string

	// SSH-only.
	SSH SSHConfig

	Init InitFunc
}

// Listener is a background acceptor: spec.md's C2 component. Unlike the
// Channel types above, a Listener owns a goroutine and is safe to Stop
// concurrently with its own accept loop.
type Listener struct {
	id   string
	spec Spec

	mu           sync.Mutex
	state        State
	errorMessage string
	pending      []Channel
	established  []SessionHandle
	seen         map[string]struct{} // "host_id\x00user" when DropDuplicate

	stopCh chan struct{}
	doneCh chan struct{}
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Listener{}
)

// Start creates and runs a Listener in the background, returning its id.
func Start(spec Spec) (string, error) {
	if spec.BindPort == 0 {
		return "", errs.New(errs.Argument, "listener.start", fmt.Errorf("bind_port required"))
	}
	l := &Listener{
		id:     uuid.NewString(),
		spec:   spec,
		state:  RUNNING,
		seen:   map[string]struct{}{},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	registryMu.Lock()
	registry[l.id] = l
	registryMu.Unlock()

	go l.run()
	return l.id, nil
}

// Stop terminates the Listener identified by id: its accept loop exits,
// any queued pending channels are closed, and its state becomes STOPPED
// (unless it already failed).
func Stop(id string) error {
	l, err := lookup(id)
	if err != nil {
		return err
	}
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// List returns every Listener's id and current (state, established count).
func List() []ListenerInfo {
	registryMu.Lock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	registryMu.Unlock()

	out := make([]ListenerInfo, 0, len(ids))
	for _, id := range ids {
		l, err := lookup(id)
		if err != nil {
			continue
		}
		l.mu.Lock()
		out = append(out, ListenerInfo{
			ID:          id,
			Protocol:    l.spec.Protocol,
			BindHost:    l.spec.BindHost,
			BindPort:    l.spec.BindPort,
			State:       l.state,
			Established: len(l.established),
			Pending:     len(l.pending),
			Error:       l.errorMessage,
		})
		l.mu.Unlock()
	}
	return out
}

// ListenerInfo is the read-only snapshot List() and Sessions() render.
type ListenerInfo struct {
	ID          string
	Protocol    string
	BindHost    string
	BindPort    int
	State       State
	Established int
	Pending     int
	Error       string
}

// Init explicitly promotes the pending channel at pendingIx into a
// Session, used when the Listener has no PlatformHint and therefore
// queues rather than auto-promotes.
func Init(id string, pendingIx int, platform string, dropDuplicate bool) (SessionHandle, error) {
	l, err := lookup(id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if pendingIx < 0 || pendingIx >= len(l.pending) {
		l.mu.Unlock()
		return nil, errs.New(errs.Argument, "listener.init", fmt.Errorf("no pending channel at index %d", pendingIx))
	}
	ch := l.pending[pendingIx]
	l.pending = append(l.pending[:pendingIx], l.pending[pendingIx+1:]...)
	initFn := l.spec.Init
	l.mu.Unlock()

	sess, err := initFn(ch, platform)
	if err != nil {
		ch.Close()
		return nil, err
	}

	if dropDuplicate && l.markSeenOrDrop(sess) {
		sess.Close()
		return nil, errs.New(errs.Busy, "listener.init", fmt.Errorf("duplicate session for host %s user %s dropped", sess.HostID(), sess.User()))
	}

	l.mu.Lock()
	l.established = append(l.established, sess)
	l.mu.Unlock()
	return sess, nil
}

// Sessions returns every Session this Listener has established.
func Sessions(id string) ([]SessionHandle, error) {
	l, err := lookup(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SessionHandle(nil), l.established...), nil
}

func lookup(id string) (*Listener, error) {
	registryMu.Lock()
	l, ok := registry[id]
	registryMu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "listener", fmt.Errorf("no listener with id %s", id))
	}
	return l, nil
}

// markSeenOrDrop reports whether sess's (host_id, user) key has already
// been established, recording it if not. See DESIGN.md for why
// drop_duplicate keys on the pair rather than host_id alone.
func (l *Listener) markSeenOrDrop(sess SessionHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := sess.HostID() + "\x00" + sess.User()
	if _, dup := l.seen[key]; dup {
		return true
	}
	l.seen[key] = struct{}{}
	return false
}

func (l *Listener) run() {
	defer close(l.doneCh)

	accept, closeFn, err := l.openAcceptor()
	if err != nil {
		l.fail(err)
		return
	}
	defer closeFn()

	// Closing the acceptor on Stop unblocks a pending accept() call.
	go func() {
		select {
		case <-l.stopCh:
			closeFn()
		case <-l.doneCh:
		}
	}()

	for {
		select {
		case <-l.stopCh:
			l.finish(STOPPED)
			return
		default:
		}

		ch, err := accept()
		if err != nil {
			select {
			case <-l.stopCh:
				l.finish(STOPPED)
				return
			default:
			}
			l.fail(err)
			return
		}

		if l.spec.PlatformHint != "" {
			sess, err := l.spec.Init(ch, l.spec.PlatformHint)
			if err != nil {
				logging.Errorf("listener %s: init failed: %v", l.id, err)
				ch.Close()
				continue
			}
			if l.spec.DropDuplicate && l.markSeenOrDrop(sess) {
				logging.Infof("listener %s: dropping duplicate session for %s/%s", l.id, sess.HostID(), sess.User())
				sess.Close()
				continue
			}
			l.mu.Lock()
			l.established = append(l.established, sess)
			count := len(l.established)
			limit := l.spec.CountLimit
			l.mu.Unlock()
			if limit > 0 && count >= limit {
				l.finish(STOPPED)
				return
			}
		} else {
			l.mu.Lock()
			l.pending = append(l.pending, ch)
			l.mu.Unlock()
		}
	}
}

func (l *Listener) finish(state State) {
	l.mu.Lock()
	l.state = state
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, ch := range pending {
		ch.Close()
	}
}

func (l *Listener) fail(err error) {
	l.mu.Lock()
	l.state = FAILED
	l.errorMessage = err.Error()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, ch := range pending {
		ch.Close()
	}
	logging.Errorf("listener %s failed: %v", l.id, err)
}

// openAcceptor builds the protocol-specific accept loop: TCP/TLS use a
// net.Listener under the hood, so one connection in is one Channel out;
// "ssh" has no listen-and-accept notion (it is an outbound client role)
// and is rejected at Start-adjacent validation time by returning an
// immediate error here.
func (l *Listener) openAcceptor() (accept func() (Channel, error), closeFn func(), err error) {
	switch l.spec.Protocol {
	case "tcp":
		return tcpAcceptor(l.spec.BindHost, l.spec.BindPort)
	case "ssl":
		return tlsAcceptor(l.spec)
	default:
		return nil, nil, errs.New(errs.Argument, "listener.start",
			fmt.Errorf("protocol %q has no listening mode", l.spec.Protocol))
	}
}
