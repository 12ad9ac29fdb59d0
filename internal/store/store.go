// Package store is the transactional session registry shared by all occtl
// invocations. Every read and mutation happens inside WithTransaction, which
// serializes access across concurrent OS processes with an exclusive
// advisory lock on a sibling lock file. State is persisted back to disk only
// when the transaction body succeeds, so a failed operation never commits a
// partial write.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/logging"
	"github.com/occtl/occtl/pkg/clock"
	"github.com/occtl/occtl/pkg/paths"
)

const (
	// DefaultLockTimeout bounds how long a transaction waits for the
	// registry lock before failing with LOCK_TIMEOUT.
	DefaultLockTimeout = 10 * time.Second

	// lockPollInterval is how often a blocked transaction retries the lock.
	lockPollInterval = 50 * time.Millisecond
)

// Store owns the registry file and its lock file. It is safe to create one
// per operation; all coordination happens through the filesystem.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	clk         clock.Clock
	logger      *logrus.Entry
}

// New creates a Store over an explicit file pair. Tests use this to point at
// isolated temporary locations.
func New(path, lockPath string, clk clock.Clock) *Store {
	return &Store{
		path:        path,
		lockPath:    lockPath,
		lockTimeout: DefaultLockTimeout,
		clk:         clk,
		logger:      logging.NewLogger("store"),
	}
}

// Default creates a Store over the standard occtl data directory.
func Default() *Store {
	return New(paths.StorePath(), paths.LockPath(), clock.System{})
}

// WithLockTimeout overrides the lock acquisition bound.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	s.lockTimeout = d
	return s
}

// Path returns the registry file path.
func (s *Store) Path() string { return s.path }

// WithTransaction acquires the registry lock, loads the current on-disk
// state, and invokes fn with a mutable snapshot. The snapshot is persisted
// back to disk only if fn returns nil; on error the on-disk state is left
// exactly as it was. Lock acquisition is bounded by the configured timeout
// and fails with a LOCK_TIMEOUT error rather than blocking indefinitely.
func (s *Store) WithTransaction(fn func(reg *Registry) error) error {
	lockFile, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer s.releaseLock(lockFile)

	reg, err := s.load()
	if err != nil {
		return err
	}

	if err := fn(reg); err != nil {
		return err
	}

	return s.save(reg)
}

// acquireLock takes an exclusive flock on the lock file, polling until the
// timeout elapses.
func (s *Store) acquireLock() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return nil, occerrors.StoreIO(err, "lock directory creation")
	}

	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, occerrors.StoreIO(err, "lock file open")
	}

	deadline := s.clk.Now().Add(s.lockTimeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			f.Close()
			return nil, occerrors.StoreIO(err, "lock acquisition")
		}
		if !s.clk.Now().Add(lockPollInterval).Before(deadline) {
			f.Close()
			s.logger.WithField("lock_path", s.lockPath).Warn("Registry lock timeout")
			return nil, occerrors.LockTimeout(s.lockPath, s.lockTimeout.String())
		}
		s.clk.Sleep(lockPollInterval)
	}
}

func (s *Store) releaseLock(f *os.File) {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		s.logger.WithError(err).Warn("Failed to release registry lock")
	}
	f.Close()
}

// load reads the registry from disk. A missing file yields an empty
// registry; malformed content or I/O failure propagates as STORE_IO.
func (s *Store) load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, occerrors.StoreIO(err, "load")
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, occerrors.StoreIO(err, "parse")
	}

	// Older or partial files may omit fields; default them rather than fail.
	if reg.Sessions == nil {
		reg.Sessions = make(map[string]*SessionRecord)
	}
	if reg.NextPort < PortFloor {
		reg.NextPort = PortFloor
	}

	return &reg, nil
}

func (s *Store) save(reg *Registry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return occerrors.StoreIO(err, "data directory creation")
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return occerrors.StoreIO(err, "marshal")
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return occerrors.StoreIO(err, "save")
	}

	return nil
}
