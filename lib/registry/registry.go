// Package registry implements spec.md §4.6's Module registry: dotted
// name lookup, glob/regex search, typed argument validation and
// coercion, and a Result|Status event stream drained synchronously by
// the caller.
package registry

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/session"
)

// ArgKind is the typed-argument vocabulary of spec.md §9's re-architecture
// note, replacing the original's duck-typed module API.
type ArgKind int

const (
	String ArgKind = iota
	Int
	Bool
	Path
	Enum
)

// Argument describes one named parameter a Module accepts.
type Argument struct {
	Name     string
	Kind     ArgKind
	Default  string
	Required bool
	Choices  []string // only meaningful when Kind == Enum
}

// Result is one piece of module output, per spec.md §4.6.
type Result interface {
	Title() string
	Description() string
	Category() string
}

// Event is Result(data) | Status(message): a Status is a progress
// message and carries no Result.
type Event struct {
	Result Result
	Status string
}

// Module is (name, platforms, arguments, run), spec.md §4.6.
type Module interface {
	Name() string
	Platforms() []string // "linux", "windows", or empty for both
	Arguments() []Argument
	Run(s *session.Session, args map[string]string) (<-chan Event, error)
}

// Registry is the read-mostly, name→Module table populated at startup
// and on explicit Load calls (spec.md §9).
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{modules: map[string]Module{}}
}

// NewWithBuiltins returns a Registry pre-populated with the built-in
// modules that exercise Platform primitives end to end.
func NewWithBuiltins() *Registry {
	r := New()
	for _, m := range builtinModules() {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a module by its dotted name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Lookup resolves an exact dotted name.
func (r *Registry) Lookup(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "registry.lookup", fmt.Errorf("no module named %q", name))
	}
	return m, nil
}

// Search resolves name as a glob (path.Match semantics) or, if it
// compiles as one, a regular expression, returning every matching
// module sorted by name.
func (r *Registry) Search(pattern string) []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)

	re, reErr := regexp.Compile(pattern)

	var out []Module
	for _, name := range names {
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, r.modules[name])
			continue
		}
		if reErr == nil && re.MatchString(name) {
			out = append(out, r.modules[name])
		}
	}
	return out
}

// Run validates and coerces raw (string-typed) args against the named
// module's Argument descriptors, then dispatches it against s. The
// returned channel is meant to be drained synchronously by the caller,
// per spec.md §4.6 ("Execution is synchronous from the caller's point
// of view; the iterator is drained").
func (r *Registry) Run(name string, s *session.Session, raw map[string]string) (<-chan Event, error) {
	m, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	if platforms := m.Platforms(); len(platforms) > 0 {
		matched := false
		for _, p := range platforms {
			if p == string(s.Platform().Kind()) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, errs.New(errs.Argument, "registry.run",
				fmt.Errorf("module %q does not support platform %q", name, s.Platform().Kind()))
		}
	}

	coerced, err := coerceArgs(m.Arguments(), raw)
	if err != nil {
		return nil, err
	}

	return m.Run(s, coerced)
}

// coerceArgs applies defaults, checks required/choices, and validates
// (without changing representation — every Argument.Kind still
// resolves to a string in the map; Int/Bool modules parse their own
// values, keeping this package free of reflection) each raw value.
func coerceArgs(defs []Argument, raw map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(defs))
	for _, def := range defs {
		val, present := raw[def.Name]
		if !present {
			if def.Required {
				return nil, errs.New(errs.Argument, "registry.coerce",
					fmt.Errorf("missing required argument %q", def.Name))
			}
			val = def.Default
		}

		switch def.Kind {
		case Int:
			if val != "" {
				if _, err := strconv.Atoi(val); err != nil {
					return nil, errs.New(errs.Argument, "registry.coerce",
						fmt.Errorf("argument %q must be an integer: %w", def.Name, err))
				}
			}
		case Bool:
			if val != "" {
				if _, err := strconv.ParseBool(val); err != nil {
					return nil, errs.New(errs.Argument, "registry.coerce",
						fmt.Errorf("argument %q must be a bool: %w", def.Name, err))
				}
			}
		case Enum:
			if val != "" && !contains(def.Choices, val) {
				return nil, errs.New(errs.Argument, "registry.coerce",
					fmt.Errorf("argument %q must be one of %v, got %q", def.Name, def.Choices, val))
			}
		}

		out[def.Name] = val
	}
	return out, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
