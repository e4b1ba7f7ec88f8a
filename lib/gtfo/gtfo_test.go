package gtfo

import "testing"

func TestCatMethodBuild(t *testing.T) {
	m := catMethod{}
	built, err := m.Build(map[string]string{"path": "/etc/passwd"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(built.Payload) != "cat '/etc/passwd'\n" {
		t.Fatalf("Payload = %q", built.Payload)
	}
}

func TestCatMethodBuildMissingPath(t *testing.T) {
	if _, err := (catMethod{}).Build(nil); err == nil {
		t.Fatal("expected an error when path is missing")
	}
}

func TestTeeMethodBuildIncludesExitCmd(t *testing.T) {
	built, err := (teeMethod{}).Build(map[string]string{"path": "/tmp/out"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(built.ExitCmd) != "\x04" {
		t.Fatalf("ExitCmd = %q, want Ctrl-D", built.ExitCmd)
	}
}

func TestBase64MethodsRoundTripPaths(t *testing.T) {
	read, err := (base64ReadMethod{}).Build(map[string]string{"path": "/etc/shadow"})
	if err != nil {
		t.Fatalf("read Build: %v", err)
	}
	if string(read.Payload) != "base64 '/etc/shadow'\n" {
		t.Fatalf("read Payload = %q", read.Payload)
	}

	write, err := (base64WriteMethod{}).Build(map[string]string{"path": "/tmp/in"})
	if err != nil {
		t.Fatalf("write Build: %v", err)
	}
	if string(write.Payload) != "base64 -d > '/tmp/in'\n" {
		t.Fatalf("write Payload = %q", write.Payload)
	}
}

func TestDDWriteMethodBuild(t *testing.T) {
	built, err := (ddWriteMethod{}).Build(map[string]string{"path": "/tmp/raw"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(built.Payload) != "dd of='/tmp/raw' bs=1 2>/dev/null\n" {
		t.Fatalf("Payload = %q", built.Payload)
	}
}

func TestDDWriteMethodBuildWithLength(t *testing.T) {
	built, err := (ddWriteMethod{}).Build(map[string]string{"path": "/tmp/raw", "length": "42"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(built.Payload) != "dd of='/tmp/raw' bs=1 count=42 2>/dev/null\n" {
		t.Fatalf("Payload = %q", built.Payload)
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	if got := shellQuote(`it's`); got != `'it'\''s'` {
		t.Fatalf("shellQuote = %q", got)
	}
}

func TestBuiltinIterMethodsFiltersByCapabilityAndStream(t *testing.T) {
	s := NewBuiltin()

	reads := s.IterMethods(Read, Raw)
	if len(reads) != 1 || reads[0].Binary() != "cat" {
		t.Fatalf("IterMethods(Read, Raw) = %v, want just cat", reads)
	}

	writes := s.IterMethods(Write, Base64)
	if len(writes) != 1 || writes[0].Binary() != "base64" {
		t.Fatalf("IterMethods(Write, Base64) = %v, want just base64", writes)
	}
}

func TestBuiltinIterMethodsOrdersDDBeforeTee(t *testing.T) {
	s := NewBuiltin()
	writes := s.IterMethods(Write, Raw)
	if len(writes) != 2 || writes[0].Binary() != "dd" || writes[1].Binary() != "tee" {
		t.Fatalf("IterMethods(Write, Raw) = %v, want [dd tee]", writes)
	}
}

func TestBuiltinIterBinary(t *testing.T) {
	s := NewBuiltin()

	methods := s.IterBinary("base64", Read, Base64)
	if len(methods) != 1 {
		t.Fatalf("IterBinary(base64, Read, Base64) = %d methods, want 1", len(methods))
	}

	none := s.IterBinary("base64", Write, Raw)
	if len(none) != 0 {
		t.Fatalf("IterBinary(base64, Write, Raw) = %d methods, want 0", len(none))
	}
}

func TestBuiltinIterSudoUnimplemented(t *testing.T) {
	s := NewBuiltin()
	if got := s.IterSudo("(ALL) NOPASSWD: /usr/bin/find", Shell); got != nil {
		t.Fatalf("IterSudo = %v, want nil", got)
	}
}

func TestErrNoMethodMessage(t *testing.T) {
	err := &ErrNoMethod{Binary: "nc", Caps: Shell, Stream: Raw}
	if err.Error() == "" {
		t.Fatal("Error() empty")
	}
}
