// Package storage keeps captured configuration trees: a local revisioned
// snapshot store and an S3 exporter for sharing tree documents.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/ferry/types"
)

// Bucket names in bbolt
var (
	bucketTrees = []byte("trees")
	bucketMeta  = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

const snapshotPrefix = "snapshot:"

// ErrNotFound is returned for a revision the store does not hold.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot describes one saved tree.
type Snapshot struct {
	Revision   int64     `json:"revision"`
	RunID      string    `json:"run_id"`
	Tenant     string    `json:"tenant"`
	CapturedAt time.Time `json:"captured_at"`
	SavedAt    time.Time `json:"saved_at"`
	Records    int       `json:"records"`
}

// Store is a revisioned tree store. Every Save gets the next revision;
// the index of snapshot info lives in memory and is rebuilt on open.
type Store struct {
	mu sync.RWMutex

	// In-memory index ordered by revision
	index *btree.BTreeG[Snapshot]

	db *bbolt.DB

	currentRev int64

	dir string
	now func() time.Time
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	dbPath := filepath.Join(dir, "ferry.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketTrees, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		index: btree.NewG[Snapshot](32, func(a, b Snapshot) bool {
			return a.Revision < b.Revision
		}),
		db:  db,
		dir: dir,
		now: time.Now,
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the directory holding the database.
func (s *Store) Dir() string {
	return s.dir
}

// Save stores tree under a new revision and returns it.
func (s *Store) Save(tree *types.Tree) (int64, error) {
	if tree == nil {
		return 0, errors.New("nil tree")
	}
	value, err := json.Marshal(tree)
	if err != nil {
		return 0, fmt.Errorf("failed to encode tree: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	snap := Snapshot{
		Revision:   rev,
		RunID:      tree.Metadata.RunID,
		Tenant:     tree.Metadata.SourceTenant,
		CapturedAt: tree.Metadata.CapturedAt,
		SavedAt:    s.now().UTC(),
		Records:    len(tree.AllRecords()),
	}
	info, err := json.Marshal(snap)
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketTrees).Put(revisionKey(rev), value); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(snapshotKey(rev), info); err != nil {
			return err
		}
		return meta.Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save tree: %w", err)
	}

	s.currentRev = rev
	s.index.ReplaceOrInsert(snap)
	return rev, nil
}

// Load returns the tree saved under rev.
func (s *Store) Load(rev int64) (*types.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tree *types.Tree
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTrees).Get(revisionKey(rev))
		if data == nil {
			return fmt.Errorf("%w: revision %d", ErrNotFound, rev)
		}
		tree = &types.Tree{}
		return json.Unmarshal(data, tree)
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// Latest returns the newest tree captured from tenant. An empty tenant
// matches any.
func (s *Store) Latest(tenant string) (*types.Tree, Snapshot, error) {
	s.mu.RLock()
	var found Snapshot
	ok := false
	s.index.Descend(func(snap Snapshot) bool {
		if tenant == "" || snap.Tenant == tenant {
			found, ok = snap, true
			return false
		}
		return true
	})
	s.mu.RUnlock()

	if !ok {
		return nil, Snapshot{}, fmt.Errorf("%w: no snapshot for tenant %q", ErrNotFound, tenant)
	}
	tree, err := s.Load(found.Revision)
	if err != nil {
		return nil, Snapshot{}, err
	}
	return tree, found, nil
}

// List returns every snapshot, oldest first.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, s.index.Len())
	s.index.Ascend(func(snap Snapshot) bool {
		out = append(out, snap)
		return true
	})
	return out
}

// Delete removes the snapshot saved under rev. Revisions are never reused.
func (s *Store) Delete(rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Get(Snapshot{Revision: rev}); !ok {
		return fmt.Errorf("%w: revision %d", ErrNotFound, rev)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketTrees).Delete(revisionKey(rev)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(snapshotKey(rev))
	})
	if err != nil {
		return fmt.Errorf("failed to delete revision %d: %w", rev, err)
	}
	s.index.Delete(Snapshot{Revision: rev})
	return nil
}

// CurrentRevision returns the last revision handed out.
func (s *Store) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Compact deletes all but the newest keep snapshots of each tenant.
func (s *Store) Compact(keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1 (got %d)", keep)
	}

	seen := make(map[string]int)
	var doomed []int64
	s.mu.RLock()
	s.index.Descend(func(snap Snapshot) bool {
		seen[snap.Tenant]++
		if seen[snap.Tenant] > keep {
			doomed = append(doomed, snap.Revision)
		}
		return true
	})
	s.mu.RUnlock()

	for _, rev := range doomed {
		if err := s.Delete(rev); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if data := meta.Get(keyCurrentRevision); data != nil {
			s.currentRev = bytesToInt64(data)
		}

		prefix := []byte(snapshotPrefix)
		c := meta.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("corrupt snapshot info %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(snap)
		}
		return nil
	})
}

func revisionKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func snapshotKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%s%016d", snapshotPrefix, rev))
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
