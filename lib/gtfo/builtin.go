package gtfo

import "fmt"

// builtinRegistry is a minimal, hand-picked set of methods — cat, tee,
// base64, dd — sufficient to realize open()/popen() without the full
// GTFOBins database. Real escalation/enumeration modules that need the
// full database are out of scope per spec.md §1.
type builtinRegistry struct {
	methods []MethodWrapper
}

// NewBuiltin returns the Synthesizer lib/platform/linux.go uses to
// realize Open/Popen when a more specific (escalation-aware)
// synthesizer isn't wired.
func NewBuiltin() Synthesizer {
	return &builtinRegistry{
		methods: []MethodWrapper{
			catMethod{},
			// dd comes before tee: both are raw Write methods, but dd's
			// count= clause lets a caller with a known length avoid the
			// EOF-signal dance tee needs.
			ddWriteMethod{},
			teeMethod{},
			base64ReadMethod{},
			base64WriteMethod{},
		},
	}
}

func (r *builtinRegistry) IterMethods(caps Capability, stream Stream) []MethodWrapper {
	var out []MethodWrapper
	for _, m := range r.methods {
		if m.Capability() == caps && m.Stream() == stream {
			out = append(out, m)
		}
	}
	return out
}

func (r *builtinRegistry) IterBinary(path string, caps Capability, stream Stream) []MethodWrapper {
	var out []MethodWrapper
	for _, m := range r.methods {
		if m.Binary() == path && m.Capability() == caps && m.Stream() == stream {
			out = append(out, m)
		}
	}
	return out
}

// IterSudo is unimplemented: sudo-spec parsing belongs to the
// escalation knowledge base this package does not carry.
func (r *builtinRegistry) IterSudo(spec string, caps Capability) []MethodWrapper {
	return nil
}

type catMethod struct{}

func (catMethod) Binary() string         { return "cat" }
func (catMethod) Capability() Capability { return Read }
func (catMethod) Stream() Stream         { return Raw }
func (catMethod) Build(params map[string]string) (Built, error) {
	path, ok := params["path"]
	if !ok {
		return Built{}, fmt.Errorf("cat method requires a path param")
	}
	return Built{Payload: []byte(fmt.Sprintf("cat %s\n", shellQuote(path)))}, nil
}

type teeMethod struct{}

func (teeMethod) Binary() string         { return "tee" }
func (teeMethod) Capability() Capability { return Write }
func (teeMethod) Stream() Stream         { return Raw }
func (teeMethod) Build(params map[string]string) (Built, error) {
	path, ok := params["path"]
	if !ok {
		return Built{}, fmt.Errorf("tee method requires a path param")
	}
	return Built{
		Payload: []byte(fmt.Sprintf("tee %s >/dev/null\n", shellQuote(path))),
		ExitCmd: []byte{0x04}, // Ctrl-D closes tee's stdin
	}, nil
}

type base64ReadMethod struct{}

func (base64ReadMethod) Binary() string         { return "base64" }
func (base64ReadMethod) Capability() Capability { return Read }
func (base64ReadMethod) Stream() Stream         { return Base64 }
func (base64ReadMethod) Build(params map[string]string) (Built, error) {
	path, ok := params["path"]
	if !ok {
		return Built{}, fmt.Errorf("base64 read method requires a path param")
	}
	return Built{Payload: []byte(fmt.Sprintf("base64 %s\n", shellQuote(path)))}, nil
}

type base64WriteMethod struct{}

func (base64WriteMethod) Binary() string         { return "base64" }
func (base64WriteMethod) Capability() Capability { return Write }
func (base64WriteMethod) Stream() Stream         { return Base64 }
func (base64WriteMethod) Build(params map[string]string) (Built, error) {
	path, ok := params["path"]
	if !ok {
		return Built{}, fmt.Errorf("base64 write method requires a path param")
	}
	return Built{Payload: []byte(fmt.Sprintf("base64 -d > %s\n", shellQuote(path)))}, nil
}

type ddWriteMethod struct{}

func (ddWriteMethod) Binary() string         { return "dd" }
func (ddWriteMethod) Capability() Capability { return Write }
func (ddWriteMethod) Stream() Stream         { return Raw }

// Build honors an optional "length" param by adding dd's count= clause,
// letting the caller read exactly that many bytes without an EOF or
// exit-command signal.
func (ddWriteMethod) Build(params map[string]string) (Built, error) {
	path, ok := params["path"]
	if !ok {
		return Built{}, fmt.Errorf("dd write method requires a path param")
	}
	cmd := fmt.Sprintf("dd of=%s bs=1", shellQuote(path))
	if n, ok := params["length"]; ok && n != "" {
		cmd += " count=" + n
	}
	cmd += " 2>/dev/null\n"
	return Built{Payload: []byte(cmd)}, nil
}

func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
