// Package table holds the changelog backed tables the runtime joins
// against. A table keeps the latest row written under each key; a nil row
// (a tombstone) removes the key.
package table

import (
	"context"
	"sync"

	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/stream"
)

// Writer applies changelog entries.
type Writer interface {
	Apply(key string, row models.Row) error
}

// MemTable is an in-memory table.
type MemTable struct {
	mu   sync.RWMutex
	rows map[string]models.Row
}

var (
	_ stream.Table = (*MemTable)(nil)
	_ Writer       = (*MemTable)(nil)
)

// NewMemTable creates an empty MemTable.
func NewMemTable() *MemTable {
	return &MemTable{
		rows: make(map[string]models.Row),
	}
}

// Lookup returns the row stored under key.
func (t *MemTable) Lookup(key string) (models.Row, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.rows[key]
	return row, ok, nil
}

// Apply stores row under key, or removes key when row is a tombstone.
func (t *MemTable) Apply(key string, row models.Row) error {
	if row.IsZero() {
		return t.Delete(key)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows[key] = row
	return nil
}

// Delete removes key.
func (t *MemTable) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.rows, key)
	return nil
}

// Len returns the number of keys held.
func (t *MemTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Materialize applies every record of changelog to w until changelog is
// closed, ctx is done or a write fails.
func Materialize(ctx context.Context, w Writer, changelog <-chan models.KeyedRecord) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-changelog:
			if !ok {
				return nil
			}
			if err := w.Apply(rec.Key, rec.Value); err != nil {
				return err
			}
		}
	}
}
