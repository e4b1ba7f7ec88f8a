package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "pwncat"}
	Flags(cmd)
	return cmd
}

func TestParseConnectStringHostPort(t *testing.T) {
	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Host != "10.0.0.5" || cfg.Port != 4444 {
		t.Fatalf("Host/Port = %s:%d, want 10.0.0.5:4444", cfg.Host, cfg.Port)
	}
	if cfg.Protocol != ProtoConnect {
		t.Fatalf("Protocol = %s, want connect", cfg.Protocol)
	}
}

func TestParseSSHUserInfersSSHProtocol(t *testing.T) {
	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{"carl:hunter2@10.0.0.5:22"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Protocol != ProtoSSH {
		t.Fatalf("Protocol = %s, want ssh", cfg.Protocol)
	}
	if cfg.User != "carl" || cfg.Password != "hunter2" {
		t.Fatalf("User/Password = %s/%s", cfg.User, cfg.Password)
	}
}

func TestParseNoHostInfersBind(t *testing.T) {
	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{":4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Protocol != ProtoBind {
		t.Fatalf("Protocol = %s, want bind", cfg.Protocol)
	}
}

func TestParseListenFlagForcesBind(t *testing.T) {
	cmd := newTestCmd(t)
	cmd.Flags().Set("listen", "true")
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Protocol != ProtoBind {
		t.Fatalf("Protocol = %s, want bind (listen flag set)", cfg.Protocol)
	}
}

func TestParseSSLPrefixesProtocol(t *testing.T) {
	cmd := newTestCmd(t)
	cmd.Flags().Set("ssl", "true")
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Protocol != "ssl-connect" {
		t.Fatalf("Protocol = %s, want ssl-connect", cfg.Protocol)
	}
}

func TestParseExplicitSchemeOverridesInference(t *testing.T) {
	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{"ssh://10.0.0.5:22"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Protocol != ProtoSSH {
		t.Fatalf("Protocol = %s, want ssh", cfg.Protocol)
	}
}

func TestParsePortPositionalOverridesFlag(t *testing.T) {
	cmd := newTestCmd(t)
	cmd.Flags().Set("port", "1234")
	cfg, err := Parse(cmd, []string{"10.0.0.5", "9999"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("Port = %d, want 9999 from the second positional", cfg.Port)
	}
}

func TestParseEnvDefaultsAppliedWhenUnset(t *testing.T) {
	t.Setenv("TERM", "")
	t.Setenv("COLUMNS", "")
	t.Setenv("ROWS", "")
	t.Setenv("PWNCAT_PLUGIN_PATH", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Term != "xterm" || cfg.Columns != 80 || cfg.Rows != 24 {
		t.Fatalf("Term/Columns/Rows = %s/%d/%d, want xterm/80/24 defaults", cfg.Term, cfg.Columns, cfg.Rows)
	}
}

func TestParseEnvOverridesDefault(t *testing.T) {
	t.Setenv("TERM", "vt100")

	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Term != "vt100" {
		t.Fatalf("Term = %s, want vt100 from env", cfg.Term)
	}
}

func TestParseConfigFileFillsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pwncat.yaml")
	yaml := "host: 10.0.0.9\nport: 5555\nuser: carl\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd := newTestCmd(t)
	cmd.Flags().Set("config", path)
	cfg, err := Parse(cmd, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Host != "10.0.0.9" || cfg.Port != 5555 || cfg.User != "carl" {
		t.Fatalf("Host/Port/User = %s/%d/%s, want values from config file", cfg.Host, cfg.Port, cfg.User)
	}
}

func TestParseConnectionStringWinsOverConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pwncat.yaml")
	yaml := "host: 10.0.0.9\nport: 5555\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd := newTestCmd(t)
	cmd.Flags().Set("config", path)
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Host != "10.0.0.5" || cfg.Port != 4444 {
		t.Fatalf("Host/Port = %s:%d, want the connection string values to win", cfg.Host, cfg.Port)
	}
}

func TestParsePluginPathFromEnv(t *testing.T) {
	t.Setenv("PWNCAT_PLUGIN_PATH", "/opt/plugins")

	cmd := newTestCmd(t)
	cfg, err := Parse(cmd, []string{"10.0.0.5:4444"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.PluginPath != "/opt/plugins" {
		t.Fatalf("PluginPath = %s, want /opt/plugins", cfg.PluginPath)
	}
}
