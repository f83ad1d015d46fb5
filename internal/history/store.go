// Package history persists run reports in a local bbolt database so past
// runs can be listed and inspected from the CLI.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"yqhp/load-engine/pkg/types"
)

// BucketRuns holds one JSON-encoded RunReport per run id.
const BucketRuns = "runs"

// ErrNotFound is returned by Get and Delete for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Store is a bbolt-backed run history.
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the report under its id, replacing an existing entry.
func (s *Store) Save(report *types.RunReport) error {
	if report.ID == "" {
		return errors.New("run report has no id")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(report.ID), data)
	})
}

// List returns stored reports, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]*types.RunReport, error) {
	var reports []*types.RunReport
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(k, v []byte) error {
			var r types.RunReport
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			reports = append(reports, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Started.After(reports[j].Started)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

// Get returns the report with the given id.
func (s *Store) Get(id string) (*types.RunReport, error) {
	var report types.RunReport
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Delete removes the report with the given id.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}
