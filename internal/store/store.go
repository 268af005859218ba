// Package store persists the deployment record: the mapping from contract
// roles to on-chain addresses that every later command reads from.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotFound is returned by Load when no record has been written yet.
	ErrNotFound = errors.New("deployment record not found")
	// ErrMissingRole is returned when a role has no address in the record.
	ErrMissingRole = errors.New("role missing from deployment record")
	// ErrChainMismatch is returned when a record written for one chain is used
	// against another.
	ErrChainMismatch = errors.New("deployment record belongs to another chain")
	// ErrConflictingRoles is returned when a persisted record holds both a
	// plain faucet and a faucet proxy.
	ErrConflictingRoles = errors.New("deployment record holds both faucet and faucetProxy")
)

// FileStore keeps the record as indented JSON at a single path.
type FileStore struct {
	path   string
	locker Locker
}

// NewFileStore returns a store at path. A nil locker disables save locking.
func NewFileStore(path string, locker Locker) *FileStore {
	if locker == nil {
		locker = NopLocker{}
	}
	return &FileStore{path: path, locker: locker}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the persisted record.
func (s *FileStore) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	rec := NewRecord(0)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return rec, nil
}

// LoadOrEmpty treats a missing record as a fresh, empty one.
func (s *FileStore) LoadOrEmpty(chainID uint64) (*Record, error) {
	rec, err := s.Load()
	if errors.Is(err, ErrNotFound) {
		return NewRecord(chainID), nil
	}
	return rec, err
}

// Get loads the record and returns role's address.
func (s *FileStore) Get(role Role) (common.Address, error) {
	rec, err := s.Load()
	if err != nil {
		return common.Address{}, err
	}
	return rec.Get(role)
}

// Save atomically replaces the persisted record. It returns only after the
// new file and its directory entry are synced to disk.
func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return fmt.Errorf("lock deployment record: %w", err)
	}
	defer unlock() //nolint:errcheck

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}
