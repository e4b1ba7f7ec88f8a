// Package config implements spec.md §6's CLI connection string, flags
// and config file loading. Flag parsing follows the teacher's
// cobra/pflag style; the YAML config file is read with viper, the
// config companion cobra already pulls in across the retrieval pack,
// and environment variables are read directly from the process.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pwncat-go/pwncat/lib/errs"
)

// Protocol is the inferred or forced Channel constructor to use.
type Protocol string

const (
	ProtoConnect Protocol = "connect"
	ProtoBind    Protocol = "bind"
	ProtoSSL     Protocol = "ssl"
	ProtoSSH     Protocol = "ssh"
)

// Config is the fully resolved set of options driving cmd/pwncat, after
// merging the connection string, flags, config file and environment.
type Config struct {
	Protocol Protocol
	Host     string
	Port     int
	User     string
	Password string

	Listen       bool
	SSL          bool
	SSLCert      string
	SSLKey       string
	Identity     string
	PlatformHint string

	ListTargets     bool
	ConfigPath      string
	DownloadPlugins bool

	DBPath string

	Term       string
	Columns    int
	Rows       int
	PluginPath string
}

// Flags registers every CLI flag from spec.md §6 onto cmd (the
// cobra root for cmd/pwncat), following the teacher's cmd.go style of
// attaching flags directly to the command that consumes them.
func Flags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolP("listen", "l", false, "force the bind protocol")
	f.Bool("ssl", false, "wrap the channel in TLS")
	f.String("ssl-cert", "", "TLS certificate path (or combined PEM)")
	f.String("ssl-key", "", "TLS key path")
	f.StringP("identity", "i", "", "SSH private key path")
	f.StringP("platform", "m", "linux", "target platform: linux or windows")
	f.IntP("port", "p", 0, "target port (netcat-style second positional also accepted)")
	f.Bool("list", false, "list reconnect targets and exit")
	f.StringP("config", "c", "", "YAML config file path")
	f.Bool("download-plugins", false, "prefetch Windows plugins and exit")
	f.String("plugin-path", "", "local directory of compiled Windows plugins (overrides PWNCAT_PLUGIN_PATH)")
}

// Parse resolves a Config from positional args (the connection string
// and optional netcat-style port) plus cmd's flags, applying the
// protocol-inference rules of spec.md §6, then fills the fields still
// unset from a YAML config file (via viper) and from environment
// variables.
func Parse(cmd *cobra.Command, args []string) (*Config, error) {
	f := cmd.Flags()

	cfg := &Config{}
	cfg.Listen, _ = f.GetBool("listen")
	cfg.SSL, _ = f.GetBool("ssl")
	cfg.SSLCert, _ = f.GetString("ssl-cert")
	cfg.SSLKey, _ = f.GetString("ssl-key")
	cfg.Identity, _ = f.GetString("identity")
	cfg.PlatformHint, _ = f.GetString("platform")
	cfg.ListTargets, _ = f.GetBool("list")
	cfg.ConfigPath, _ = f.GetString("config")
	cfg.DownloadPlugins, _ = f.GetBool("download-plugins")
	cfg.PluginPath, _ = f.GetString("plugin-path")
	flagPort, _ := f.GetInt("port")

	if len(args) > 0 {
		if err := parseConnectionString(cfg, args[0]); err != nil {
			return nil, err
		}
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, errs.New(errs.Argument, "config.parse", fmt.Errorf("invalid port %q", args[1]))
		}
		cfg.Port = port
	}

	inferProtocol(cfg)

	if err := mergeFile(cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	return cfg, nil
}

// parseConnectionString handles `[protocol://][user[:password]@][host][:port][?k=v&...]`.
func parseConnectionString(cfg *Config, s string) error {
	if !strings.Contains(s, "://") {
		s = "pwncat://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return errs.New(errs.Argument, "config.parse", err)
	}

	if u.Scheme != "pwncat" {
		cfg.Protocol = Protocol(strings.TrimSuffix(u.Scheme, "-connect"))
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	cfg.Host = u.Hostname()
	if u.Port() != "" {
		if port, err := strconv.Atoi(u.Port()); err == nil {
			cfg.Port = port
		}
	}
	return nil
}

// inferProtocol applies spec.md §6's rules when the connection string
// left Protocol unset: user+host⇒ssh; host+port⇒connect;
// no host or host=0.0.0.0⇒bind; ssl- prefix added when cert/key supplied.
func inferProtocol(cfg *Config) {
	if cfg.Protocol != "" {
		if cfg.SSL && !strings.HasPrefix(string(cfg.Protocol), "ssl") {
			cfg.Protocol = "ssl-" + cfg.Protocol
		}
		return
	}

	switch {
	case cfg.User != "":
		cfg.Protocol = ProtoSSH
	case cfg.Host == "" || cfg.Host == "0.0.0.0" || cfg.Listen:
		cfg.Protocol = ProtoBind
	default:
		cfg.Protocol = ProtoConnect
	}

	if cfg.SSL && cfg.Protocol != ProtoSSH {
		cfg.Protocol = "ssl-" + cfg.Protocol
	}
}

// mergeFile loads cfg.ConfigPath (if set) as YAML via viper and fills
// in any field the connection string/flags left at its zero value.
func mergeFile(cfg *Config) error {
	if cfg.ConfigPath == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(cfg.ConfigPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return errs.New(errs.Argument, "config.mergefile", err)
	}

	if cfg.Host == "" {
		cfg.Host = v.GetString("host")
	}
	if cfg.Port == 0 {
		cfg.Port = v.GetInt("port")
	}
	if cfg.User == "" {
		cfg.User = v.GetString("user")
	}
	if cfg.Password == "" {
		cfg.Password = v.GetString("password")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = v.GetString("db_path")
	}
	return nil
}

// applyEnv reads the spec.md §6 environment variables, never
// overriding a value already set by the connection string, flags or
// config file.
func applyEnv(cfg *Config) {
	if cfg.Term == "" {
		cfg.Term = envOr("TERM", "xterm")
	}
	if cfg.Columns == 0 {
		cfg.Columns = envInt("COLUMNS", 80)
	}
	if cfg.Rows == 0 {
		cfg.Rows = envInt("ROWS", 24)
	}
	if cfg.PluginPath == "" {
		cfg.PluginPath = os.Getenv("PWNCAT_PLUGIN_PATH")
	}
	if cfg.DBPath == "" {
		home := os.Getenv("XDG_CONFIG_HOME")
		if home == "" {
			home, _ = os.UserHomeDir()
			home = home + "/.cache"
		}
		cfg.DBPath = home + "/pwncat/targets.db"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
