// Package recents maintains a small cross-project "recently opened"
// index backed by bbolt, the supplemented convenience feature described
// in SPEC_FULL.md's DOMAIN STACK: a host can list recently opened Studio
// projects across the whole machine without re-scanning the filesystem.
// Grounded on pkg/storage/boltdb.go's bolt.Open + CreateBucketIfNotExists
// idiom in the teacher repo, scoped down from the cluster's source of
// truth to a best-effort convenience index.
package recents

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRecents = []byte("recent_projects")

// Entry is one recently-opened project record.
type Entry struct {
	ProjectPath string    `json:"projectPath"`
	Name        string    `json:"name"`
	LastOpened  time.Time `json:"lastOpened"`
}

// Index is a bbolt-backed store of recently opened projects, keyed by
// absolute project path.
type Index struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt database at dbPath and
// ensures its bucket exists.
func Open(dbPath string) (*Index, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open recents index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create recents bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Touch records projectPath as just opened, overwriting any prior entry
// for the same path.
func (idx *Index) Touch(projectPath, name string) error {
	entry := Entry{ProjectPath: projectPath, Name: name, LastOpened: time.Now()}
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecents).Put([]byte(projectPath), buf)
	})
}

// Remove deletes a project's entry, e.g. once its file no longer exists.
func (idx *Index) Remove(projectPath string) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecents).Delete([]byte(projectPath))
	})
}

// List returns every recorded entry, most recently opened first.
func (idx *Index) List() ([]Entry, error) {
	var entries []Entry
	err := idx.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecents).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // skip a corrupt entry rather than fail the whole list
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastOpened.After(entries[j].LastOpened) })
	return entries, nil
}
