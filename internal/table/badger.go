package table

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/logger"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/utils"
	"github.com/tarungka/wiresql/stream"
)

var ErrTableClosed = errors.New("table: closed")

// OpenBadger opens a badger database in dir, or in memory when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logger.AdHocLogger.Debug().Str("dir", dir).Msg("opened badger database")
	return db, nil
}

// BadgerTable keeps a table in badger. Rows are stored as msgpack encoded
// column lists under "<name>/<key>", so several tables can share one
// database.
type BadgerTable struct {
	open   atomic.Bool
	name   string
	prefix []byte
	schema *schema.Schema
	logger zerolog.Logger

	db *badger.DB
}

var (
	_ stream.Table = (*BadgerTable)(nil)
	_ Writer       = (*BadgerTable)(nil)
)

// NewBadgerTable stores the table name in db. Rows read back are coerced to
// the types of s.
func NewBadgerTable(db *badger.DB, name string, s *schema.Schema) *BadgerTable {
	t := &BadgerTable{
		name:   name,
		prefix: []byte(name + "/"),
		schema: s,
		logger: logger.Component("table").With().Str("table", name).Logger(),
		db:     db,
	}
	t.open.Store(true)
	return t
}

func (t *BadgerTable) key(key string) []byte {
	k := make([]byte, 0, len(t.prefix)+len(key))
	k = append(k, t.prefix...)
	return append(k, key...)
}

// Lookup returns the row stored under key.
func (t *BadgerTable) Lookup(key string) (models.Row, bool, error) {
	if !t.open.Load() {
		return models.Row{}, false, ErrTableClosed
	}

	var val []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.key(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Row{}, false, nil
	}
	if err != nil {
		t.logger.Err(err).Str("key", key).Msg("err looking up key")
		return models.Row{}, false, err
	}

	row, err := t.decode(val)
	if err != nil {
		return models.Row{}, false, fmt.Errorf("table %s key %s: %w", t.name, key, err)
	}
	return row, true, nil
}

func (t *BadgerTable) decode(val []byte) (models.Row, error) {
	var cols []any
	if err := utils.DecodeMsgPack(val, &cols); err != nil {
		return models.Row{}, err
	}
	if len(cols) != t.schema.Len() {
		return models.Row{}, fmt.Errorf("%w: stored row has %d values, schema %s has %d", expr.ErrRowArity, len(cols), t.schema, t.schema.Len())
	}
	for i, f := range t.schema.Fields() {
		v, err := expr.Coerce(f.Type, cols[i])
		if err != nil {
			return models.Row{}, err
		}
		cols[i] = v
	}
	return models.NewRow(cols), nil
}

// Apply stores row under key, or removes key when row is a tombstone.
func (t *BadgerTable) Apply(key string, row models.Row) error {
	if row.IsZero() {
		return t.Delete(key)
	}
	if !t.open.Load() {
		return ErrTableClosed
	}

	buf, err := utils.EncodeMsgPack(row.Columns())
	if err != nil {
		return err
	}
	t.logger.Trace().Str("key", key).Msg("setting row")
	err = t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.key(key), buf.Bytes())
	})
	if err != nil {
		t.logger.Err(err).Str("key", key).Msg("err setting row")
		return err
	}
	return nil
}

// Delete removes key.
func (t *BadgerTable) Delete(key string) error {
	if !t.open.Load() {
		return ErrTableClosed
	}
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.key(key))
	})
}

// Len counts the keys held. It scans the table.
func (t *BadgerTable) Len() (int, error) {
	if !t.open.Load() {
		return 0, ErrTableClosed
	}
	n := 0
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = t.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops the table. The database is owned by the caller and stays open.
func (t *BadgerTable) Close() {
	t.open.Store(false)
}
