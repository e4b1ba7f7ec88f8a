package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pwncat-go/pwncat/lib/errs"
	"github.com/pwncat-go/pwncat/lib/platform"
	"github.com/pwncat-go/pwncat/lib/session"
	"github.com/pwncat-go/pwncat/lib/util"
)

// simpleResult is the minimal Result implementation every built-in
// module here returns.
type simpleResult struct {
	title       string
	description string
	category    string
}

func (r simpleResult) Title() string       { return r.title }
func (r simpleResult) Description() string { return r.description }
func (r simpleResult) Category() string    { return r.category }

func builtinModules() []Module {
	return []Module{
		enumIDModule{},
		enumUsersModule{},
		escalateAutoModule{},
		shellRunModule{},
		fileDownloadModule{},
	}
}

// enumIDModule wraps Platform.CurrentUser, exercising the `run()`
// primitive end to end without any GTFOBins knowledge.
type enumIDModule struct{}

func (enumIDModule) Name() string          { return "enum.id" }
func (enumIDModule) Platforms() []string    { return nil }
func (enumIDModule) Arguments() []Argument { return nil }

func (enumIDModule) Run(s *session.Session, args map[string]string) (<-chan Event, error) {
	out := make(chan Event, 2)
	go func() {
		defer close(out)
		out <- Event{Status: "enumerating current user"}
		user, err := s.Platform().CurrentUser()
		if err != nil {
			out <- Event{Status: fmt.Sprintf("failed: %v", err)}
			return
		}
		s.CacheFact(session.Fact{
			SourceModule: "enum.id",
			TypeTag:      "identity.current_user",
			Data:         user,
			Schedule:     session.PerUser,
		})
		out <- Event{Result: simpleResult{
			title:       fmt.Sprintf("uid=%s(%s) gid=%s", user.UID, user.Name, user.GID),
			description: "current user identity",
			category:    "enumerate.identity",
		}}
	}()
	return out, nil
}

// enumUsersModule wraps Platform.Users, caching the result as an
// ALWAYS-scheduled Fact (the user list can change between runs).
type enumUsersModule struct{}

func (enumUsersModule) Name() string          { return "enum.users" }
func (enumUsersModule) Platforms() []string    { return []string{"linux"} }
func (enumUsersModule) Arguments() []Argument { return nil }

func (enumUsersModule) Run(s *session.Session, args map[string]string) (<-chan Event, error) {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		out <- Event{Status: "reading /etc/passwd"}
		users, err := s.Platform().Users()
		if err != nil {
			out <- Event{Status: fmt.Sprintf("failed: %v", err)}
			return
		}
		s.CacheFact(session.Fact{
			SourceModule: "enum.users",
			TypeTag:      "identity.users",
			Data:         users,
			Schedule:     session.Always,
		})
		for _, u := range users {
			out <- Event{Result: simpleResult{
				title:       fmt.Sprintf("%s (uid=%s)", u.Name, u.UID),
				description: "local user account",
				category:    "enumerate.users",
			}}
		}
	}()
	return out, nil
}

// escalateAutoModule is a stub driver for privilege escalation search:
// it tries switching to the requested user via `su` and aggregates
// failures into an EscalationFailed error, per spec.md §9's
// re-architecture note. The actual GTFOBins-driven escalation paths
// are out of scope (spec.md §1); this module only demonstrates the
// aggregation shape against the `su` primitive.
type escalateAutoModule struct{}

func (escalateAutoModule) Name() string { return "escalate.auto" }
func (escalateAutoModule) Platforms() []string { return []string{"linux"} }
func (escalateAutoModule) Arguments() []Argument {
	return []Argument{
		{Name: "user", Kind: String, Default: "root", Required: false},
		{Name: "password", Kind: String, Required: false},
	}
}

func (escalateAutoModule) Run(s *session.Session, args map[string]string) (<-chan Event, error) {
	out := make(chan Event, 2)
	target := args["user"]
	password := args["password"]

	go func() {
		defer close(out)
		out <- Event{Status: fmt.Sprintf("attempting escalation to %s", target)}

		argv := []string{"su", "-c", "id", target}
		env := map[string]string{}
		if password != "" {
			env["SUDO_ASKPASS_PASSWORD"] = password
		}
		stdout, status, err := s.Platform().Run(argv, env, 10*time.Second)
		if err == nil && status == 0 {
			s.RecordImplant(session.Implant{
				ModuleName:   "escalate.auto",
				Type:         session.LocalEscalate,
				User:         target,
				InstallState: "verified",
			})
			out <- Event{Result: simpleResult{
				title:       fmt.Sprintf("escalated to %s: %s", target, string(stdout)),
				description: "privilege escalation via su",
				category:    "escalate",
			}}
			return
		}

		escErr := &errs.EscalationFailedError{
			Attempted: []errs.EscalationAttempt{
				{Method: "su", User: target, Err: err},
			},
			ReachableUsers: nil,
			LastError:      err,
		}
		out <- Event{Status: escErr.Error()}
	}()
	return out, nil
}

// shellRunModule accepts a raw command line, splits it quote-aware with
// util.ParseCmd (the same splitter the teacher's cc/filemgr.go and
// agent/cmd_proc.go use for console input), and runs it through
// Platform.Run.
type shellRunModule struct{}

func (shellRunModule) Name() string { return "shell.run" }
func (shellRunModule) Platforms() []string { return nil }
func (shellRunModule) Arguments() []Argument {
	return []Argument{
		{Name: "cmd", Kind: String, Required: true},
		{Name: "timeout", Kind: Int, Default: "10", Required: false},
	}
}

func (shellRunModule) Run(s *session.Session, args map[string]string) (<-chan Event, error) {
	out := make(chan Event, 2)
	cmdLine := args["cmd"]
	timeout := 10 * time.Second
	if raw := args["timeout"]; raw != "" {
		var secs int
		if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	go func() {
		defer close(out)
		argv := util.ParseCmd(cmdLine)
		if len(argv) == 0 {
			out <- Event{Status: "empty command"}
			return
		}
		out <- Event{Status: fmt.Sprintf("running %q", cmdLine)}
		stdout, status, err := s.Platform().Run(argv, nil, timeout)
		if err != nil {
			out <- Event{Status: fmt.Sprintf("failed: %v", err)}
			return
		}
		out <- Event{Result: simpleResult{
			title:       fmt.Sprintf("exit=%d", status),
			description: string(stdout),
			category:    "shell.run",
		}}
	}()
	return out, nil
}

// fileDownloadModule reads a remote path via Platform.Open and stages
// it under destDir, skipping the download when a file of the same name
// is already staged there (its util.FileSize is only reported, not
// compared against the remote), and previews small text files with
// util.DumpFile.
type fileDownloadModule struct{}

func (fileDownloadModule) Name() string { return "file.download" }
func (fileDownloadModule) Platforms() []string { return nil }
func (fileDownloadModule) Arguments() []Argument {
	return []Argument{
		{Name: "path", Kind: Path, Required: true},
		{Name: "dest_dir", Kind: Path, Default: ".", Required: false},
	}
}

func (fileDownloadModule) Run(s *session.Session, args map[string]string) (<-chan Event, error) {
	out := make(chan Event, 2)
	remotePath := args["path"]
	destDir := args["dest_dir"]

	go func() {
		defer close(out)

		local := filepath.Join(destDir, filepath.Base(remotePath))
		if util.IsFileExist(local) {
			out <- Event{Status: fmt.Sprintf("%s already staged (%d bytes), skipping", local, util.FileSize(local))}
			return
		}

		out <- Event{Status: fmt.Sprintf("opening %s", remotePath)}
		rf, err := s.Platform().Open(remotePath, platform.ReadOnly, -1)
		if err != nil {
			out <- Event{Status: fmt.Sprintf("failed: %v", err)}
			return
		}
		defer rf.Close()

		if err := os.MkdirAll(destDir, 0755); err != nil {
			out <- Event{Status: fmt.Sprintf("failed: %v", err)}
			return
		}
		f, err := os.Create(local)
		if err != nil {
			out <- Event{Status: fmt.Sprintf("failed: %v", err)}
			return
		}
		n, err := io.Copy(f, rf)
		f.Close()
		if err != nil {
			out <- Event{Status: fmt.Sprintf("failed after %d bytes: %v", n, err)}
			return
		}

		preview, _ := util.DumpFile(local)
		out <- Event{Result: simpleResult{
			title:       fmt.Sprintf("downloaded %s (%d bytes)", local, n),
			description: preview,
			category:    "file.download",
		}}
	}()
	return out, nil
}
