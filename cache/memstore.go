package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-memdb"
)

const memTable = "entries"

type memRecord struct {
	Key   string
	Value []byte
}

// MemoryStore implements Store in process memory. Contents do not survive
// a restart; useful for tests and single-process deployments.
type MemoryStore struct {
	db *memdb.MemDB
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memTable: {
				Name: memTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Get implements Reader
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	rec := raw.(*memRecord)
	return append([]byte(nil), rec.Value...), nil
}

// Set implements Writer
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	txn := m.db.Txn(true)
	rec := &memRecord{Key: key, Value: append([]byte(nil), value...)}
	if err := txn.Insert(memTable, rec); err != nil {
		txn.Abort()
		return fmt.Errorf("write %s: %w", key, err)
	}
	txn.Commit()
	return nil
}

// Delete implements Remover
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	txn := m.db.Txn(true)
	err := txn.Delete(memTable, &memRecord{Key: key})
	if errors.Is(err, memdb.ErrNotFound) {
		txn.Abort()
		return nil
	}
	if err != nil {
		txn.Abort()
		return fmt.Errorf("delete %s: %w", key, err)
	}
	txn.Commit()
	return nil
}

// Clear implements Remover
func (m *MemoryStore) Clear(_ context.Context) error {
	txn := m.db.Txn(true)
	if _, err := txn.DeleteAll(memTable, "id"); err != nil {
		txn.Abort()
		return fmt.Errorf("clear: %w", err)
	}
	txn.Commit()
	return nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(memTable, "id")
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
