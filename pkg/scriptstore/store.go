// Package scriptstore persists script sources and suspended executions in
// a bbolt database, so waiting scripts survive a restart.
package scriptstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	bbolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned for unknown script names.
var ErrNotFound = errors.New("scriptstore: not found")

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("scriptstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketScripts, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		v := meta.Get(keySchema)
		if v == nil {
			return meta.Put(keySchema, intToKey(schemaVersion))
		}
		if got := keyToInt(v); got != schemaVersion {
			return fmt.Errorf("schema version %d, expected %d", got, schemaVersion)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scriptstore: create buckets: %w", err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// PutScript saves a script source, replacing any script of the same name.
func (s *Store) PutScript(r *Record) error {
	if r.Updated.IsZero() {
		r.Updated = time.Now().UTC()
	}
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("scriptstore: encode script %s: %w", r.Name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketScripts).Put([]byte(r.Name), data)
	})
}

// GetScript loads a script by name.
func (s *Store) GetScript(name string) (*Record, error) {
	var r *Record
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketScripts).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: script %s", ErrNotFound, name)
		}
		var err error
		r, err = decodeRecord(data)
		return err
	})
	return r, err
}

// DeleteScript removes a script. Deleting an unknown script is not an error.
func (s *Store) DeleteScript(name string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketScripts).Delete([]byte(name))
	})
}

// ListScripts returns the scripts sorted by name. A non-empty owner keeps
// only the scripts of that owner.
func (s *Store) ListScripts(owner events.ObjectRef) ([]*Record, error) {
	var out []*Record
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketScripts).ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("decode script %s: %w", k, err)
			}
			if owner == events.Nobody || r.Owner == owner {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scriptstore: list scripts: %w", err)
	}
	return out, nil
}

// ScriptsFor returns the scripts attached to an event, sorted by name.
func (s *Store) ScriptsFor(event string) ([]*Record, error) {
	all, err := s.ListScripts(events.Nobody)
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, r := range all {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out, nil
}

// PutSnapshots saves suspended executions in a single transaction.
func (s *Store) PutSnapshots(snaps ...*Snapshot) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		for _, snap := range snaps {
			data, err := encodeSnapshot(snap)
			if err != nil {
				return fmt.Errorf("scriptstore: encode snapshot %s: %w", snap.ID, err)
			}
			if err := b.Put([]byte(snap.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshots returns every saved execution, in id order.
func (s *Store) LoadSnapshots() ([]*Snapshot, error) {
	var out []*Snapshot
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			snap, err := decodeSnapshot(v)
			if err != nil {
				return fmt.Errorf("decode snapshot %s: %w", k, err)
			}
			out = append(out, snap)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scriptstore: load snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes a saved execution.
func (s *Store) DeleteSnapshot(id string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(id))
	})
}

// ClearSnapshots removes every saved execution, once they are restored.
func (s *Store) ClearSnapshots() error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketSnapshots); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketSnapshots)
		return err
	})
}

// Backup writes a consistent copy of the database to destPath using a
// read-only transaction (does not block writers).
func (s *Store) Backup(destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("scriptstore: backup create %s: %w", destPath, err)
	}
	defer f.Close()

	return s.bolt.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(f)
		return err
	})
}

// HasData returns true if the store holds any script.
func (s *Store) HasData() bool {
	var has bool
	s.bolt.View(func(tx *bbolt.Tx) error {
		has = tx.Bucket(bucketScripts).Stats().KeyN > 0
		return nil
	})
	return has
}
