// Package gtfo defines the payload-synthesizer interface of spec.md
// §4.7: given a binary and a desired capability, produce a
// (payload, stdin, exit-cmd) triple. The GTFOBins knowledge base
// itself is out of scope (spec.md §1 Non-goals); this package carries
// only the vocabulary and a handful of built-in methods sufficient for
// lib/platform's Linux driver to exercise the interface end to end.
package gtfo

import "fmt"

// Capability is what a method, once built, grants.
type Capability int

const (
	Read Capability = iota
	Write
	Shell
)

// Stream describes how a method's payload moves bytes.
type Stream int

const (
	Raw Stream = iota
	Print
	Hex
	Base64
)

// Built is the concrete materialization of a MethodWrapper for one
// set of params.
type Built struct {
	Payload []byte
	Stdin   []byte
	ExitCmd []byte
}

// MethodWrapper is one known recipe for coercing a binary into Read,
// Write or Shell capability over the given Stream encoding.
type MethodWrapper interface {
	Binary() string
	Capability() Capability
	Stream() Stream
	Build(params map[string]string) (Built, error)
}

// Synthesizer resolves capabilities and streams to MethodWrappers.
type Synthesizer interface {
	// IterMethods returns every known method offering caps over stream,
	// regardless of which binary provides it.
	IterMethods(caps Capability, stream Stream) []MethodWrapper
	// IterBinary returns every known method for the specific binary at
	// path offering caps over stream.
	IterBinary(path string, caps Capability, stream Stream) []MethodWrapper
	// IterSudo returns methods reachable via a sudo spec string
	// (e.g. "(ALL) NOPASSWD: /usr/bin/find"), offering caps.
	IterSudo(spec string, caps Capability) []MethodWrapper
}

// ErrNoMethod is returned when no registered method satisfies a request.
type ErrNoMethod struct {
	Binary string
	Caps   Capability
	Stream Stream
}

func (e *ErrNoMethod) Error() string {
	return fmt.Sprintf("no gtfo method for binary=%q caps=%v stream=%v", e.Binary, e.Caps, e.Stream)
}
