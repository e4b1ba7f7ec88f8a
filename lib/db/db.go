// Package db implements the persisted target store of spec.md §6:
// rows keyed by host_id carrying last address, platform, facts,
// implants, tampers and discovered credentials, guarded by a lock file
// so two Managers never mutate the same store concurrently.
package db

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pwncat-go/pwncat/lib/errs"
)

// Target is one persisted row, keyed by HostID.
type Target struct {
	HostID       string `gorm:"primaryKey"`
	LastAddress  string
	Platform     string
	FactsJSON    string
	ImplantsJSON string
	TampersJSON  string
	CredsJSON    string
	UpdatedAt    time.Time
}

// Credential is one discovered (user -> secret) pair, persisted inside
// Target.CredsJSON.
type Credential struct {
	User     string
	Password string
	KeyPath  string
}

// Store wraps the gorm/sqlite connection and the store-wide lock file.
// There is no ecosystem file-locking library anywhere in the retrieval
// pack, so the lock file is a direct flock(2) call via golang.org/x/sys
// (already a teacher dependency) rather than a fabricated import — see
// DESIGN.md.
type Store struct {
	db       *gorm.DB
	lockFile *os.File
	path     string
}

// Open acquires an exclusive flock on a lock file next to dbPath and
// opens (creating and migrating if necessary) the sqlite database.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errs.New(errs.Transport, "db.open", err)
	}

	lockFile, err := os.OpenFile(dbPath+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errs.New(errs.Transport, "db.open", err)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, errs.New(errs.Busy, "db.open", fmt.Errorf("store %s is locked by another pwncat process: %w", dbPath, err))
	}

	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
		return nil, errs.New(errs.Transport, "db.open", err)
	}

	if err := gdb.AutoMigrate(&Target{}); err != nil {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
		return nil, errs.New(errs.Transport, "db.open", err)
	}

	return &Store{db: gdb, lockFile: lockFile, path: dbPath}, nil
}

// Close releases the sqlite connection and the lock file.
func (s *Store) Close() error {
	if raw, err := s.db.DB(); err == nil {
		raw.Close()
	}
	unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	return s.lockFile.Close()
}

// Upsert writes or replaces the row for t.HostID.
func (s *Store) Upsert(t *Target) error {
	t.UpdatedAt = time.Now()
	return s.db.Save(t).Error
}

// Get returns the row for hostID, or a NotFound *errs.Error.
func (s *Store) Get(hostID string) (*Target, error) {
	var t Target
	err := s.db.Where("host_id = ?", hostID).First(&t).Error
	if err != nil {
		return nil, errs.New(errs.NotFound, "db.get", err)
	}
	return &t, nil
}

// List returns every persisted target, most recently updated first —
// the backing data for `pwncat --list`.
func (s *Store) List() ([]Target, error) {
	var rows []Target
	err := s.db.Order("updated_at desc").Find(&rows).Error
	return rows, err
}

// Delete removes the row for hostID.
func (s *Store) Delete(hostID string) error {
	return s.db.Where("host_id = ?", hostID).Delete(&Target{}).Error
}

// SetCredential merges cred into hostID's credential list.
func (s *Store) SetCredential(hostID string, cred Credential) error {
	t, err := s.getOrNew(hostID)
	if err != nil {
		return err
	}
	var creds []Credential
	if t.CredsJSON != "" {
		if err := json.Unmarshal([]byte(t.CredsJSON), &creds); err != nil {
			return errs.New(errs.Protocol, "db.setcredential", err)
		}
	}
	replaced := false
	for i, c := range creds {
		if c.User == cred.User {
			creds[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		creds = append(creds, cred)
	}
	encoded, err := json.Marshal(creds)
	if err != nil {
		return errs.New(errs.Protocol, "db.setcredential", err)
	}
	t.CredsJSON = string(encoded)
	return s.Upsert(t)
}

func (s *Store) getOrNew(hostID string) (*Target, error) {
	t, err := s.Get(hostID)
	if err != nil {
		if errs.OfKind(err, errs.NotFound) {
			return &Target{HostID: hostID}, nil
		}
		return nil, err
	}
	return t, nil
}
