package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pwncat-go/pwncat/lib/config"
	"github.com/pwncat-go/pwncat/lib/db"
)

func TestDownloadPluginsRequiresPluginPath(t *testing.T) {
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "pwncat.db")}
	if err := downloadPlugins(cfg); err == nil {
		t.Fatal("expected an error with no plugin path configured")
	}
}

func TestDownloadPluginsMissingDirIsNotFound(t *testing.T) {
	cfg := &config.Config{
		DBPath:     filepath.Join(t.TempDir(), "pwncat.db"),
		PluginPath: filepath.Join(t.TempDir(), "does-not-exist"),
	}
	if err := downloadPlugins(cfg); err == nil {
		t.Fatal("expected an error for a nonexistent plugin path")
	}
}

func TestDownloadPluginsStagesNewFiles(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "implant.dll"), []byte("dll-bytes"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "ignored.txt"), []byte("skip me"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dbDir := t.TempDir()
	cfg := &config.Config{
		DBPath:     filepath.Join(dbDir, "pwncat.db"),
		PluginPath: src,
	}
	if err := downloadPlugins(cfg); err != nil {
		t.Fatalf("downloadPlugins: %v", err)
	}

	staged := filepath.Join(dbDir, "plugins", "implant.dll")
	got, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("staged plugin missing: %v", err)
	}
	if string(got) != "dll-bytes" {
		t.Fatalf("staged content = %q, want dll-bytes", got)
	}
	if _, err := os.Stat(filepath.Join(dbDir, "plugins", "ignored.txt")); err == nil {
		t.Fatal("non .dll/.so file should not have been staged")
	}
}

func TestDownloadPluginsSkipsIdenticalSize(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "agent.so")
	if err := os.WriteFile(path, []byte("same-size-data"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dbDir := t.TempDir()
	cfg := &config.Config{DBPath: filepath.Join(dbDir, "pwncat.db"), PluginPath: src}
	if err := downloadPlugins(cfg); err != nil {
		t.Fatalf("downloadPlugins first pass: %v", err)
	}

	// Re-run against the same source: the cached copy is identical in
	// size, so this must not prompt (cli.YesNo) or fail.
	if err := downloadPlugins(cfg); err != nil {
		t.Fatalf("downloadPlugins second pass: %v", err)
	}
}

func TestListTargetsPrintsRows(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "pwncat.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer store.Close()

	if err := store.Upsert(&db.Target{HostID: "abc123", Platform: "linux", LastAddress: "10.0.0.5:4444"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	origStdout := os.Stdout
	os.Stdout = w
	err = listTargets(store)
	w.Close()
	os.Stdout = origStdout
	if err != nil {
		t.Fatalf("listTargets: %v", err)
	}

	var buf bytes.Buffer
	io.Copy(&buf, r)
	if !bytes.Contains(buf.Bytes(), []byte("abc123")) {
		t.Fatalf("listTargets output = %q, want it to mention abc123", buf.String())
	}
}
