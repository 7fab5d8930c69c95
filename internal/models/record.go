package models

import (
	uuid "github.com/google/uuid"
	"github.com/tarungka/wiresql/internal/logger"
)

// KeyedRecord is the unit the runtime moves around: a string key and a Row.
// The key is always a string whatever the type of the logical key field.
type KeyedRecord struct {
	ID    uuid.UUID // UUIDv7, used to identify the record in error reports
	Key   string
	Value Row
}

// NewKeyedRecord builds a record with a fresh identity.
func NewKeyedRecord(key string, value Row) KeyedRecord {
	id, err := uuid.NewV7()
	if err != nil {
		// only fails when the random source does; keep the record usable
		logger.AdHocLogger.Err(err).Msg("error when creating a record id")
	}
	return KeyedRecord{
		ID:    id,
		Key:   key,
		Value: value,
	}
}

// WithKey returns a copy of the record carrying key.
func (r KeyedRecord) WithKey(key string) KeyedRecord {
	r.Key = key
	return r
}

// WithValue returns a copy of the record carrying value.
func (r KeyedRecord) WithValue(value Row) KeyedRecord {
	r.Value = value
	return r
}

// Identity returns the opaque identity used when reporting failures.
func (r KeyedRecord) Identity() string {
	if r.ID == uuid.Nil {
		return r.Key
	}
	return r.ID.String()
}
