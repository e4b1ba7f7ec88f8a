package platform

import (
	"crypto/rand"
	"encoding/hex"
)

// newMarker returns a 32-byte (64 hex char) random marker. Each framed
// execution (spec.md §4.3) draws one for its start delimiter and a
// second one for its end delimiter.
// Two calls never collide in practice, which framing isolation depends on.
func newMarker() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// promptMarker wraps a 64-hex marker in the ANSI non-printing escapes
// bash/zsh/dash honour differently (bash/zsh respect \[...\],
// dash/sh ignore it and show the raw bytes, which is fine: it is never
// meant to be read by a human, only matched by the driver).
func promptMarker(marker string) string {
	return "\\[" + marker + "\\]"
}
