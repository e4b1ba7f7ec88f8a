// Command pwncat wires together the Channel, Platform, Session and
// Manager layers behind the CLI surface of spec.md §6.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pwncat-go/pwncat/lib/channel"
	"github.com/pwncat-go/pwncat/lib/cli"
	"github.com/pwncat-go/pwncat/lib/config"
	"github.com/pwncat-go/pwncat/lib/db"
	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/logging"
	"github.com/pwncat-go/pwncat/lib/manager"
	"github.com/pwncat-go/pwncat/lib/platform"
	"github.com/pwncat-go/pwncat/lib/registry"
	"github.com/pwncat-go/pwncat/lib/session"
	"github.com/pwncat-go/pwncat/lib/util"
)

const (
	exitOK         = 0
	exitConnection = 1
	exitUsage      = 2
)

func main() {
	root := &cobra.Command{
		Use:   "pwncat [protocol://][user[:password]@][host][:port][?k=v&...] [port]",
		Short: "post-exploitation session manager",
		Args:  cobra.MaximumNArgs(2),
		RunE:  run,
	}
	config.Flags(root)

	go logging.StartBackgroundLogger()

	if alive, procs := util.IsProcAlive(filepath.Base(os.Args[0])); alive && len(procs) > 1 {
		logging.Warningf("another %s process is already running (pid %d); the target store lock file will serialize access", filepath.Base(os.Args[0]), procs[0].Pid)
	}

	if err := root.Execute(); err != nil {
		if errs.OfKind(err, errs.Argument) {
			os.Exit(exitUsage)
		}
		os.Exit(exitConnection)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Parse(cmd, args)
	if err != nil {
		return err
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.ListTargets {
		return listTargets(store)
	}

	if cfg.DownloadPlugins {
		return downloadPlugins(cfg)
	}

	ch, err := dial(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConnection)
	}

	sess, err := establish(cfg, ch, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConnection)
	}

	m := manager.New()
	m.Add(sess)

	reg := registry.NewWithBuiltins()
	con := manager.NewConsole(m, reg)
	con.Start()

	return nil
}

// downloadPlugins stages every .dll/.so under cfg.PluginPath into the
// cache directory next to the target store, matching the teacher's
// cc/ftp.go resume pattern: an already-cached file is reported instead
// of silently overwritten, and the operator is asked before replacing it.
func downloadPlugins(cfg *config.Config) error {
	if cfg.PluginPath == "" {
		return errs.New(errs.Argument, "main.downloadplugins", fmt.Errorf("no plugin source configured (set --plugin-path or PWNCAT_PLUGIN_PATH)"))
	}
	if !util.IsDirExist(cfg.PluginPath) {
		return errs.New(errs.NotFound, "main.downloadplugins", fmt.Errorf("plugin path %s does not exist", cfg.PluginPath))
	}

	cacheDir := filepath.Join(filepath.Dir(cfg.DBPath), "plugins")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return errs.New(errs.Transport, "main.downloadplugins", err)
	}

	entries, err := os.ReadDir(cfg.PluginPath)
	if err != nil {
		return errs.New(errs.Transport, "main.downloadplugins", err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if ext != ".dll" && ext != ".so" {
			continue
		}
		src := filepath.Join(cfg.PluginPath, entry.Name())
		dst := filepath.Join(cacheDir, entry.Name())

		if util.IsFileExist(dst) {
			if util.FileSize(dst) == util.FileSize(src) {
				logging.Infof("plugin %s already cached (%d bytes), skipping", entry.Name(), util.FileSize(dst))
				continue
			}
			if !cli.YesNo(fmt.Sprintf("cached plugin %s differs in size, overwrite", entry.Name())) {
				continue
			}
		}

		if err := util.Copy(src, dst); err != nil {
			logging.Errorf("failed to stage plugin %s: %v", entry.Name(), err)
			continue
		}
		logging.Successf("staged plugin %s (%d bytes)", entry.Name(), util.FileSize(dst))
	}
	return nil
}

func listTargets(store *db.Store) error {
	rows, err := store.List()
	if err != nil {
		return err
	}
	for _, t := range rows {
		fmt.Printf("%s\t%s\t%s\n", t.HostID, t.Platform, t.LastAddress)
	}
	return nil
}

// dial opens the Channel named by cfg.Protocol, per spec.md §4.1.
func dial(cfg *config.Config) (channel.Channel, error) {
	switch cfg.Protocol {
	case config.ProtoConnect:
		return channel.Connect(cfg.Host, cfg.Port, 10*time.Second)
	case config.ProtoBind:
		return channel.Bind(cfg.Host, cfg.Port)
	case config.ProtoSSL, "ssl-connect":
		return channel.SSLConnect(cfg.Host, cfg.Port, 10*time.Second, true)
	case "ssl-bind":
		// --ssl-cert without --ssl-key names a combined cert+key PEM.
		combined := ""
		if cfg.SSLKey == "" {
			combined = cfg.SSLCert
		}
		return channel.SSLBind(cfg.Host, cfg.Port, cfg.SSLCert, cfg.SSLKey, combined)
	case config.ProtoSSH:
		if cfg.Password == "" && cfg.Identity == "" {
			cfg.Password = cli.Prompt(fmt.Sprintf("password for %s@%s", cfg.User, cfg.Host))
		}
		sshCfg := channel.SSHConfig{User: cfg.User, Password: cfg.Password}
		if cfg.Identity != "" {
			key, err := os.ReadFile(cfg.Identity)
			if err != nil {
				return nil, errs.New(errs.Argument, "main.dial", err)
			}
			sshCfg.PrivateKey = key
		}
		port := cfg.Port
		if port == 0 {
			port = 22
		}
		return channel.SSHConnect(cfg.Host, port, sshCfg)
	default:
		return nil, errs.New(errs.Argument, "main.dial", fmt.Errorf("unknown protocol %q", cfg.Protocol))
	}
}

// establish probes the Channel into a Platform and wraps the result in
// a Session, persisting the resulting host_id row.
func establish(cfg *config.Config, ch channel.Channel, store *db.Store) (*session.Session, error) {
	var plat platform.Platform
	var err error

	switch cfg.PlatformHint {
	case "windows":
		plat, err = platform.Bootstrap(ch, nil)
	default:
		plat, err = platform.Probe(ch)
	}
	if err != nil {
		return nil, err
	}

	logDir := os.Getenv("XDG_CONFIG_HOME")
	if logDir == "" {
		logDir, _ = os.UserHomeDir()
		logDir += "/.cache"
	}
	sess, err := session.New(0, ch, plat, logDir+"/pwncat/pwncat.log")
	if err != nil {
		return nil, err
	}

	if err := store.Upsert(&db.Target{
		HostID:      sess.HostID(),
		LastAddress: ch.Host(),
		Platform:    string(plat.Kind()),
	}); err != nil {
		logging.Warningf("failed to persist target %s: %v", sess.HostID(), err)
	}

	return sess, nil
}
