package serde

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/partitioner"
)

// SerializationError reports a payload that could not be encoded or
// decoded. Identity names the payload without exposing its contents.
type SerializationError struct {
	Identity string
	Format   Format
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serde: %s payload %s: %v", e.Format, e.Identity, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// PayloadIdentity is the default identity of a raw payload: its FNV-64a
// hash in hex.
func PayloadIdentity(data []byte) string {
	h, err := partitioner.HashFnv(data)
	if err != nil {
		return "unknown"
	}
	return strconv.FormatUint(h, 16)
}

// WithIdentity replaces the identity of a SerializationError, for callers
// that know where the payload came from (topic, partition and offset).
// Other errors are returned unchanged.
func WithIdentity(err error, identity string) error {
	var se *SerializationError
	if !errors.As(err, &se) {
		return err
	}
	return &SerializationError{Identity: identity, Format: se.Format, Err: se.Err}
}

// rowIdentity names a row that failed to encode.
func rowIdentity(row models.Row) string {
	return PayloadIdentity([]byte(row.String()))
}

func serializationError(f Format, data []byte, err error) error {
	return &SerializationError{Identity: PayloadIdentity(data), Format: f, Err: err}
}
