package stream

import (
	"context"

	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/serde"
)

// RecordStream is the runtime's handle on a continuous stream of keyed
// records. Every method returns a new stream downstream of the receiver.
// The functions passed in run once per record and may run on many
// goroutines at once, one per partition.
type RecordStream interface {
	// Filter keeps the records for which keep returns true.
	Filter(keep func(models.KeyedRecord) bool) RecordStream
	// Map replaces every record; records for which fn returns false are
	// dropped.
	Map(fn func(models.KeyedRecord) (models.KeyedRecord, bool)) RecordStream
	// LeftJoin looks every record's key up in table and hands both sides
	// to joiner.
	LeftJoin(table Table, joiner Joiner) RecordStream
	// To publishes every record to destination with encoder and passes it
	// on unchanged.
	To(destination string, encoder serde.Encoder) RecordStream
	// Peek calls fn for every record without altering it.
	Peek(fn func(models.KeyedRecord)) RecordStream
}

// Joiner combines a left record with the table row stored under its key.
// found is false when the table holds no row for the key. Returning false
// drops the record.
type Joiner func(left models.KeyedRecord, right models.Row, found bool) (models.KeyedRecord, bool)

// Table is a changelog backed table supporting point lookups by key.
type Table interface {
	Lookup(key string) (models.Row, bool, error)
}

// Publisher writes encoded records to a named destination.
type Publisher interface {
	Publish(ctx context.Context, destination, key string, value []byte) error
}

// Subscriber opens a continuous stream of records from a named source.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, decoder serde.Decoder) (<-chan models.KeyedRecord, error)
}
