package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/pkg/clock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "store.json"), filepath.Join(dir, "store.lock"), clock.System{})
}

func makeRecord(id string, port int) *SessionRecord {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &SessionRecord{
		ID:           id,
		Port:         port,
		PID:          12345,
		CreatedAt:    now,
		LastActivity: now,
		ConfigPath:   "/tmp/test",
		Status:       StatusRunning,
	}
}

func TestTransactionSavesOnCleanExit(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTransaction(func(reg *Registry) error {
		reg.AddSession(makeRecord("oc-tx", 9100))
		return nil
	})
	require.NoError(t, err)

	err = s.WithTransaction(func(reg *Registry) error {
		assert.NotNil(t, reg.GetSession("oc-tx"))
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionDoesNotSaveOnError(t *testing.T) {
	s := newTestStore(t)

	boom := fmt.Errorf("boom")
	err := s.WithTransaction(func(reg *Registry) error {
		reg.AddSession(makeRecord("oc-fail", 9100))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.WithTransaction(func(reg *Registry) error {
		assert.Nil(t, reg.GetSession("oc-fail"))
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionAbortLeavesPriorStateIntact(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		reg.AddSession(makeRecord("oc-keep", 9100))
		return nil
	}))
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	_ = s.WithTransaction(func(reg *Registry) error {
		reg.RemoveSession("oc-keep")
		reg.AddSession(makeRecord("oc-other", 9101))
		return fmt.Errorf("abort")
	})

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSequentialTransactionsObserveEachOther(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		reg.AddSession(makeRecord("oc-first", 9100))
		return nil
	}))

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		require.NotNil(t, reg.GetSession("oc-first"))
		reg.AddSession(makeRecord("oc-second", 9101))
		return nil
	}))

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		assert.Len(t, reg.Sessions, 2)
		return nil
	}))
}

func TestConcurrentTransactionsSerialized(t *testing.T) {
	s := newTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.WithTransaction(func(reg *Registry) error {
			reg.AddSession(makeRecord("oc-a", 9100))
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered

	second := make(chan error, 1)
	go func() {
		second <- s.WithTransaction(func(reg *Registry) error {
			// The first transaction must have committed before we run.
			if reg.GetSession("oc-a") == nil {
				return fmt.Errorf("first transaction's write not visible")
			}
			reg.AddSession(makeRecord("oc-b", 9101))
			return nil
		})
	}()

	// Give the second transaction a moment to block on the lock, then let
	// the first one commit.
	time.Sleep(100 * time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	require.NoError(t, <-second)

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		assert.Len(t, reg.Sessions, 2)
		return nil
	}))
}

func TestLockTimeoutIsDistinctError(t *testing.T) {
	s := newTestStore(t)
	s.WithLockTimeout(150 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithTransaction(func(reg *Registry) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	contender := New(s.path, s.lockPath, clock.System{}).WithLockTimeout(150 * time.Millisecond)
	err := contender.WithTransaction(func(reg *Registry) error { return nil })
	require.Error(t, err)
	assert.True(t, occerrors.Is(err, occerrors.ErrCodeLockTimeout))
}

func TestLoadMissingFileReturnsEmptyRegistry(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		assert.Empty(t, reg.Sessions)
		assert.Equal(t, PortFloor, reg.NextPort)
		return nil
	}))
}

func TestLoadCorruptFilePropagatesStoreIO(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0644))

	err := s.WithTransaction(func(reg *Registry) error { return nil })
	require.Error(t, err)
	assert.True(t, occerrors.Is(err, occerrors.ErrCodeStoreIO))
}

func TestStoreJSONFormat(t *testing.T) {
	s := newTestStore(t)

	rec := makeRecord("oc-fmt", 9100)
	rec.Agent = "oracle"
	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		reg.AddSession(rec)
		return nil
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "sessions")
	assert.Contains(t, raw, "next_port")

	var sessions map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw["sessions"], &sessions))
	require.Contains(t, sessions, "oc-fmt")
	entry := sessions["oc-fmt"]
	assert.Equal(t, "oracle", entry["agent"])
	assert.NotContains(t, entry, "has_uncommitted_changes")
}

func TestRoundTripOmitsEmptyAgent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		reg.AddSession(makeRecord("oc-noagent", 9100))
		return nil
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"agent"`)

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		loaded := reg.GetSession("oc-noagent")
		require.NotNil(t, loaded)
		assert.Empty(t, loaded.Agent)
		assert.Equal(t, 9100, loaded.Port)
		assert.Equal(t, 12345, loaded.PID)
		assert.Equal(t, "/tmp/test", loaded.ConfigPath)
		return nil
	}))
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	s := newTestStore(t)
	blob := `{
		"sessions": {
			"oc-old": {
				"id": "oc-old",
				"port": 9100,
				"pid": 1,
				"created_at": "2025-01-01T00:00:00Z",
				"last_activity": "2025-01-01T00:00:00Z",
				"status": "running",
				"has_uncommitted_changes": true,
				"some_future_field": {"nested": 1}
			}
		},
		"next_port": 9101
	}`
	require.NoError(t, os.WriteFile(s.path, []byte(blob), 0644))

	require.NoError(t, s.WithTransaction(func(reg *Registry) error {
		rec := reg.GetSession("oc-old")
		require.NotNil(t, rec)
		assert.False(t, rec.HasUncommittedChanges)
		return nil
	}))
}
