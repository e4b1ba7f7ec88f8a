// Package manager implements spec.md §4.5/§7: a multi-session table,
// the RAW/COMMAND terminal multiplexer, and the glue that wires the
// module registry to whichever session is "current".
package manager

import (
	"fmt"
	"sync"

	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/logging"
	"github.com/pwncat-go/pwncat/lib/session"
)

// Mode is the Manager's interactive-loop state.
type Mode int

const (
	Command Mode = iota
	Raw
)

// Manager owns every live Session, their monotonic ids, and which one
// is "current". At most one session is current at a time; switching
// is atomic with respect to the interactive loop (guarded by mu).
type Manager struct {
	mu       sync.Mutex
	sessions map[int]*session.Session
	nextID   int
	current  int
	mode     Mode
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{sessions: map[int]*session.Session{}, current: -1}
}

// Add inserts s under a freshly allocated, never-reused id and returns it.
func (m *Manager) Add(s *session.Session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.sessions[id] = s
	if m.current < 0 {
		m.current = id
	}
	return id
}

// Remove closes and drops session id from the table, demoting current
// to another session (or -1 if none remain) if it was removed.
func (m *Manager) Remove(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errs.New(errs.NotFound, "manager.remove", fmt.Errorf("no session %d", id))
	}
	if err := s.Close(); err != nil {
		logging.Warningf("session %d: close: %v", id, err)
	}
	delete(m.sessions, id)
	if m.current == id {
		m.current = -1
		for other := range m.sessions {
			m.current = other
			break
		}
	}
	return nil
}

// Sessions returns a snapshot of the live session table.
func (m *Manager) Sessions() map[int]*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*session.Session, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s
	}
	return out
}

// Current returns the current session, or nil if none exists.
func (m *Manager) Current() (*session.Session, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current < 0 {
		return nil, -1
	}
	return m.sessions[m.current], m.current
}

// SetCurrent switches current atomically with respect to the
// interactive loop, per spec.md §4.5.
func (m *Manager) SetCurrent(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return errs.New(errs.NotFound, "manager.setcurrent", fmt.Errorf("no session %d", id))
	}
	m.current = id
	return nil
}

// SessionsTable renders the `sessions` built-in's table view.
func (m *Manager) SessionsTable() string {
	m.mu.Lock()
	sessions := make(map[int]*session.Session, len(m.sessions))
	for id, s := range m.sessions {
		sessions[id] = s
	}
	current := m.current
	m.mu.Unlock()
	return renderSessionTable(current, sessions)
}

// EnterRaw drops the interactive loop into RAW pass-through against
// the current session until TransitionKey is read. Returns Busy if no
// session is current.
func (m *Manager) EnterRaw() error {
	s, _ := m.Current()
	if s == nil {
		return errs.New(errs.Busy, "manager.raw", fmt.Errorf("no current session"))
	}

	m.mu.Lock()
	m.mode = Raw
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.mode = Command
		m.mu.Unlock()
	}()

	return rawLoop(s.Channel())
}
