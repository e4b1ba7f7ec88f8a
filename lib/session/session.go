// Package session implements spec.md §3's Session: a bound (Channel,
// Platform) pair with its own identity cache, logger and mutable
// enumeration records.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pwncat-go/pwncat/lib/channel"
	"github.com/pwncat-go/pwncat/lib/logging"
	"github.com/pwncat-go/pwncat/lib/platform"
)

// Schedule controls how often a Fact is re-collected.
type Schedule string

const (
	Once     Schedule = "ONCE"
	PerUser  Schedule = "PER_USER"
	Always   Schedule = "ALWAYS"
)

// Fact is a typed piece of enumerated knowledge about the target
// (spec.md §3), cached by (host_id, type_tag, schedule-key).
type Fact struct {
	SourceModule string
	TypeTag      string
	Data         interface{}
	Schedule     Schedule
	CollectedAt  time.Time
}

// Tamper is any recorded remote state change with a revert recipe.
type Tamper struct {
	Description   string
	RevertAction  string
	PrincipalUser string
	Reversible    bool
}

// ImplantType distinguishes how an Implant is used for reconnect.
type ImplantType string

const (
	LocalEscalate    ImplantType = "LOCAL_ESCALATE"
	RemoteReconnect  ImplantType = "REMOTE_RECONNECT"
	Replacement      ImplantType = "REPLACEMENT"
)

// Implant is a persistent remote modification installed by a module.
type Implant struct {
	ModuleName   string
	Type         ImplantType
	User         string
	Params       map[string]string
	InstallState string
}

// Session couples a Channel with a Platform and owns all per-target
// mutable state. Its id is assigned by lib/manager and is never reused
// within a Manager's lifetime.
type Session struct {
	id       int
	ch       channel.Channel
	plat     platform.Platform
	hostID   string
	logger   *logging.Logger

	mu          sync.Mutex
	usersCache  []platform.User
	factsCache  map[string]Fact
	tampers     []Tamper
	implants    []Implant
	currentUser platform.User
}

// New derives host_id from the probed Platform's identity and wraps it
// with ch into a Session. id is assigned by the caller (lib/manager),
// which owns the monotonic counter.
func New(id int, ch channel.Channel, plat platform.Platform, logPath string) (*Session, error) {
	user, err := plat.CurrentUser()
	if err != nil {
		return nil, err
	}

	hostID, err := deriveHostID(plat, ch)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logPath, logging.Level)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:          id,
		ch:          ch,
		plat:        plat,
		hostID:      hostID,
		logger:      logger,
		factsCache:  map[string]Fact{},
		currentUser: user,
	}, nil
}

// deriveHostID computes a stable hash per spec.md §3: distribution +
// kernel + MAC set on Linux (approximated here via uname + /etc/machine-id
// when a platform offers no richer signal), machine GUID on Windows.
func deriveHostID(plat platform.Platform, ch channel.Channel) (string, error) {
	var seed string
	switch plat.Kind() {
	case platform.Linux:
		lp, ok := plat.(*platform.LinuxPlatform)
		if !ok {
			seed = ch.Host()
		} else {
			uname, _, _ := lp.Run([]string{"uname", "-srm"}, nil, 5*time.Second)
			machineID, _, _ := lp.Run([]string{"cat", "/etc/machine-id"}, nil, 5*time.Second)
			seed = string(uname) + "\x00" + string(machineID)
		}
	case platform.Windows:
		wp, ok := plat.(*platform.WindowsPlatform)
		if !ok {
			seed = ch.Host()
		} else if guid, err := wp.MachineGUID(); err == nil {
			seed = guid
		} else {
			seed = ch.Host()
		}
	default:
		seed = ch.Host()
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:16]), nil
}

// ID satisfies channel.SessionHandle.
func (s *Session) ID() string { return strconv.Itoa(s.id) }

// HostID satisfies channel.SessionHandle.
func (s *Session) HostID() string { return s.hostID }

// User satisfies channel.SessionHandle.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser.Name
}

// Close satisfies channel.SessionHandle: it closes the platform driver
// and the underlying channel. The per-session logger is not flushed or
// closed here.
func (s *Session) Close() error {
	s.plat.Close()
	return s.ch.Close()
}

func (s *Session) Platform() platform.Platform { return s.plat }
func (s *Session) Channel() channel.Channel     { return s.ch }
func (s *Session) Logger() *logging.Logger      { return s.logger }

// CacheFact records or refreshes a Fact under (type_tag, schedule-key).
func (s *Session) CacheFact(f Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := factKey(f.TypeTag, f.Schedule, s.currentUser.Name)
	f.CollectedAt = time.Now()
	s.factsCache[key] = f
}

// Fact returns a cached fact for (typeTag, schedule), refreshing
// eligibility left to the caller (PER_USER facts are keyed per the
// current user; ALWAYS facts are never considered fresh by this cache
// and always report a miss).
func (s *Session) Fact(typeTag string, schedule Schedule) (Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule == Always {
		return Fact{}, false
	}
	f, ok := s.factsCache[factKey(typeTag, schedule, s.currentUser.Name)]
	return f, ok
}

func factKey(typeTag string, schedule Schedule, user string) string {
	if schedule == PerUser {
		return typeTag + "\x00" + user
	}
	return typeTag
}

func (s *Session) RecordTamper(t Tamper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tampers = append(s.tampers, t)
}

func (s *Session) Tampers() []Tamper {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tamper(nil), s.tampers...)
}

func (s *Session) RecordImplant(i Implant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.implants = append(s.implants, i)
}

func (s *Session) Implants() []Implant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Implant(nil), s.implants...)
}

// Summary renders a one-line description for the session table.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s@%s (%s) [%s]", s.currentUser.Name, s.ch.Host(), s.plat.Kind(), s.hostID[:12])
}

// FactKeys returns every cached fact's key, sorted, for the `facts`
// built-in command.
func (s *Session) FactKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.factsCache))
	for k := range s.factsCache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FactByKey returns the cached Fact for an exact key from FactKeys.
func (s *Session) FactByKey(key string) (Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.factsCache[key]
	return f, ok
}
