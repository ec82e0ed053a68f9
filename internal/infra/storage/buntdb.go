package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trailing_go/internal/engine"
	"trailing_go/internal/paper"

	"github.com/tidwall/buntdb"
)

const (
	snapshotPrefix = "snapshot:"
	snapshotIndex  = "saved_index"
)

// ErrNoSnapshot is returned by Latest when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Snapshot is everything needed to resume after a restart.
type Snapshot struct {
	Version uint64              `json:"version"`
	NextSeq uint64              `json:"next_seq"`
	Engine  engine.State        `json:"engine"`
	Wallets []paper.WalletEntry `json:"wallets"`
	Claims  []paper.ClaimEntry  `json:"claims"`
	Pools   []paper.PoolEntry   `json:"pools"`
	SavedAt time.Time           `json:"saved_at"`
}

// SnapshotStore keeps the most recent snapshots in BuntDB.
type SnapshotStore struct {
	db      *buntdb.DB
	retain  int
	version uint64
}

// SnapshotsFromMemory creates an in-memory store
func SnapshotsFromMemory(retain int) (*SnapshotStore, error) {
	return NewSnapshotStore(":memory:", retain)
}

// NewSnapshotStore opens the store at path, keeping at most retain snapshots.
func NewSnapshotStore(path string, retain int) (*SnapshotStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	err = db.CreateIndex(snapshotIndex, snapshotPrefix+"*", buntdb.IndexJSON("version"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	s := &SnapshotStore{db: db, retain: max(retain, 1)}
	latest, err := s.Latest()
	switch {
	case err == nil:
		s.version = latest.Version
	case !errors.Is(err, ErrNoSnapshot):
		db.Close()
		return nil, err
	}
	return s, nil
}

func snapshotKey(version uint64) string {
	return fmt.Sprintf("%s%020d", snapshotPrefix, version)
}

// Save stores snap as the newest snapshot and prunes old ones.
// Version and SavedAt are assigned by the store.
func (s *SnapshotStore) Save(snap Snapshot) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		snap.Version = s.version + 1
		snap.SavedAt = time.Now().UTC()

		content, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		if _, _, err := tx.Set(snapshotKey(snap.Version), string(content), nil); err != nil {
			return fmt.Errorf("failed to store snapshot: %w", err)
		}

		var stale []string
		kept := 0
		err = tx.Descend(snapshotIndex, func(key, _ string) bool {
			kept++
			if kept > s.retain {
				stale = append(stale, key)
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to iterate over snapshots: %w", err)
		}
		for _, key := range stale {
			if _, err := tx.Delete(key); err != nil {
				return fmt.Errorf("failed to prune snapshot %s: %w", key, err)
			}
		}

		s.version = snap.Version
		return nil
	})
}

// Latest returns the newest snapshot.
func (s *SnapshotStore) Latest() (Snapshot, error) {
	var (
		snap  Snapshot
		found bool
	)
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.Descend(snapshotIndex, func(_, value string) bool {
			found = true
			decodeErr = json.Unmarshal([]byte(value), &snap)
			return false
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !found {
		return Snapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

// Count returns the number of retained snapshots.
func (s *SnapshotStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(snapshotPrefix+"*", func(_, _ string) bool {
			n++
			return true
		})
	})
	return n, err
}

// Close closes the database connection
func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
