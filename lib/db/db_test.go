package db

import (
	"path/filepath"
	"testing"

	"github.com/pwncat-go/pwncat/lib/errs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pwncat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreUpsertAndGet(t *testing.T) {
	s := openTestStore(t)

	err := s.Upsert(&Target{HostID: "abc123", LastAddress: "10.0.0.5:4444", Platform: "linux"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get("abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastAddress != "10.0.0.5:4444" || got.Platform != "linux" {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("does-not-exist")
	if err == nil {
		t.Fatal("expected an error for a missing host_id")
	}
	if !errs.OfKind(err, errs.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestStoreUpsertReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(&Target{HostID: "h1", LastAddress: "1.1.1.1:1"}); err != nil {
		t.Fatalf("Upsert 1: %v", err)
	}
	if err := s.Upsert(&Target{HostID: "h1", LastAddress: "2.2.2.2:2"}); err != nil {
		t.Fatalf("Upsert 2: %v", err)
	}

	got, err := s.Get("h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastAddress != "2.2.2.2:2" {
		t.Fatalf("LastAddress = %q, want the replaced value", got.LastAddress)
	}
}

func TestStoreList(t *testing.T) {
	s := openTestStore(t)

	s.Upsert(&Target{HostID: "h1"})
	s.Upsert(&Target{HostID: "h2"})

	rows, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("List() = %d rows, want 2", len(rows))
	}
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t)

	s.Upsert(&Target{HostID: "h1"})
	if err := s.Delete("h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("h1"); !errs.OfKind(err, errs.NotFound) {
		t.Fatalf("Get after Delete: %v, want NotFound", err)
	}
}

func TestStoreSetCredentialAddsAndReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetCredential("h1", Credential{User: "root", Password: "toor"}); err != nil {
		t.Fatalf("SetCredential add: %v", err)
	}
	if err := s.SetCredential("h1", Credential{User: "carl", Password: "hunter2"}); err != nil {
		t.Fatalf("SetCredential add second: %v", err)
	}
	if err := s.SetCredential("h1", Credential{User: "root", Password: "newpass"}); err != nil {
		t.Fatalf("SetCredential replace: %v", err)
	}

	got, err := s.Get("h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CredsJSON == "" {
		t.Fatal("CredsJSON empty after SetCredential")
	}
}

func TestOpenLockedPathIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pwncat.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer first.Close()

	_, err = Open(path)
	if err == nil {
		t.Fatal("second Open on a locked store should fail")
	}
	if !errs.OfKind(err, errs.Busy) {
		t.Fatalf("err = %v, want Busy", err)
	}
}
