package manager

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/reeflective/console"
	"github.com/spf13/cobra"

	"github.com/pwncat-go/pwncat/lib/logging"
	"github.com/pwncat-go/pwncat/lib/registry"
)

// AppName names the console prompt and history file, analogous to the
// teacher's AppName constant.
const AppName = "pwncat"

// NewConsole builds a reeflective/console REPL over m, with module
// names/arguments completed via carapace (wired through cobra flags)
// and built-ins registered as cobra commands, mirroring the teacher's
// Emp3r0rCommands/CliMain wiring in lib/cc/cmd.
func NewConsole(m *Manager, reg *registry.Registry) *console.Console {
	con := console.New(AppName)
	con.NewlineBefore = true
	con.NewlineAfter = true
	con.NewlineWhenEmpty = true

	mainMenu := con.NewMenu("")
	mainMenu.SetCommands(builtinCommands(m, reg, con))

	prompt := mainMenu.Prompt()
	prompt.Primary = func() string { return dynamicPrompt(m) }
	prompt.Right = func() string { return color.CyanString(time.Now().Format("15:04:05")) }

	mainMenu.AddInterrupt(io.EOF, func(_ *console.Console) { logging.Infof("exiting") })

	return con
}

func dynamicPrompt(m *Manager) string {
	s, id := m.Current()
	if s == nil {
		return color.HiBlackString("(no session) pwncat> ")
	}
	return color.HiGreenString("[%d] %s> ", id, s.Summary())
}

// builtinCommands registers the core, non-module commands: sessions
// table, use/kill session, interact (RAW pass-through), and a `run`
// command that dispatches into the module registry (spec.md §4.6).
func builtinCommands(m *Manager, reg *registry.Registry, con *console.Console) console.Commands {
	return func() *cobra.Command {
		root := &cobra.Command{}
		root.AddGroup(
			&cobra.Group{ID: "core", Title: "Core Commands"},
			&cobra.Group{ID: "module", Title: "Module Commands"},
		)

		root.AddCommand(&cobra.Command{
			Use:     "sessions",
			Short:   "List established sessions",
			GroupID: "core",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Print(m.SessionsTable())
			},
		})

		root.AddCommand(&cobra.Command{
			Use:     "use",
			Short:   "Switch the current session",
			GroupID: "core",
			Args:    cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					logging.Errorf("use: %v", err)
					return
				}
				if err := m.SetCurrent(id); err != nil {
					logging.Errorf("use: %v", err)
				}
			},
		})

		root.AddCommand(&cobra.Command{
			Use:     "kill",
			Short:   "Close a session",
			GroupID: "core",
			Args:    cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					logging.Errorf("kill: %v", err)
					return
				}
				if err := m.Remove(id); err != nil {
					logging.Errorf("kill: %v", err)
				}
			},
		})

		root.AddCommand(&cobra.Command{
			Use:     "interact",
			Short:   "Enter RAW pass-through with the current session",
			GroupID: "core",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				if err := m.EnterRaw(); err != nil {
					logging.Errorf("interact: %v", err)
				}
			},
		})

		root.AddCommand(&cobra.Command{
			Use:     "facts",
			Short:   "List facts cached on the current session",
			GroupID: "core",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				s, _ := m.Current()
				if s == nil {
					logging.Errorf("facts: no current session")
					return
				}
				for _, key := range s.FactKeys() {
					f, ok := s.FactByKey(key)
					if !ok {
						continue
					}
					fmt.Printf("%s\t%s\t%v\n", f.SourceModule, f.TypeTag, f.Data)
				}
			},
		})

		root.AddCommand(moduleCommand(m, reg))

		return root
	}
}

// moduleCommand wires `run <module> [--arg value]...` to the registry,
// streaming Status to the console and printing each Result's title.
func moduleCommand(m *Manager, reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a module against the current session",
		GroupID: "module",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _ := m.Current()
			if s == nil {
				return fmt.Errorf("no current session")
			}
			name := args[0]
			kv := map[string]string{}
			for _, a := range args[1:] {
				k, v, ok := splitKV(a)
				if !ok {
					continue
				}
				kv[k] = v
			}
			events, err := reg.Run(name, s, kv)
			if err != nil {
				return err
			}
			for ev := range events {
				if ev.Status != "" {
					logging.Infof("%s: %s", name, ev.Status)
					continue
				}
				if ev.Result != nil {
					fmt.Println(ev.Result.Title())
				}
			}
			return nil
		},
	}
	return cmd
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
