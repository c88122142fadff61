package source

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltSource is a reference DatabaseAdapter backed by an embedded
// bbolt database. Each cache table maps to one bucket; rows are
// stored as JSON objects keyed by an opaque row id. It exists so the
// loader, scheduler, and end-to-end tests have something real to run
// against without standing up a network database.
type BoltSource struct {
	path string
	db   *bolt.DB
}

// NewBoltSource returns an adapter for the bbolt file at path. The
// file is opened (or created) only when Connect is called, matching
// the adapter contract's explicit connect/disconnect lifecycle.
func NewBoltSource(path string) *BoltSource {
	return &BoltSource{path: path}
}

func (s *BoltSource) Connect(ctx context.Context) error {
	db, err := bolt.Open(s.path, 0600, nil)
	if err != nil {
		return fmt.Errorf("open bolt source %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *BoltSource) Disconnect(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BoltSource) CountRows(ctx context.Context, desc TableDescriptor) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(desc.Name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (s *BoltSource) IterateRows(ctx context.Context, desc TableDescriptor, emit RowEmitter) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(desc.Name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var fields map[string]*string
			if err := json.Unmarshal(v, &fields); err != nil {
				return fmt.Errorf("decode row %s in %s: %w", k, desc.Name, err)
			}
			row := make(Row, 0, len(fields))
			for name, val := range fields {
				if val == nil {
					row = append(row, Column{Name: name, IsNull: true})
					continue
				}
				row = append(row, Column{Name: name, Value: []byte(*val)})
			}
			return emit(row)
		})
	})
}

// Seed writes one JSON-encoded row into bucket tableName under key
// id. Helper for tests and demo fixtures; not part of the adapter
// contract.
func (s *BoltSource) Seed(tableName string, id string, fields map[string]*string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(tableName))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}
