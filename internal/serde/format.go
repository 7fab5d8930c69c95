package serde

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
)

var (
	ErrUnsupportedFormat = errors.New("serde: unsupported format")
	ErrInvalidSchema     = errors.New("serde: invalid schema")
)

// Format is a declared topic encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatAvro
	FormatJSON
	FormatDelimited
)

func (f Format) String() string {
	switch f {
	case FormatAvro:
		return "AVRO"
	case FormatJSON:
		return "JSON"
	case FormatDelimited:
		return "DELIMITED"
	default:
		return "UNKNOWN"
	}
}

// ParseFormat maps a format name, in any case, to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "AVRO":
		return FormatAvro, nil
	case "JSON":
		return FormatJSON, nil
	case "DELIMITED", "CSV":
		return FormatDelimited, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// DefaultDelimiter separates delimited values when a descriptor sets none.
const DefaultDelimiter = ','

// Descriptor is the serialization declared for a topic.
type Descriptor struct {
	Format Format
	// AvroSchema is the Avro record schema, required for FormatAvro.
	AvroSchema string
	// Delimiter is used by FormatDelimited.
	Delimiter rune
}

// Encoder turns a row into a payload. Implementations are safe for
// concurrent use.
type Encoder interface {
	Encode(row models.Row) ([]byte, error)
	Format() Format
}

// Decoder turns a payload into a row laid out by the schema it was selected
// for. Implementations are safe for concurrent use.
type Decoder interface {
	Decode(data []byte) (models.Row, error)
	Format() Format
}

// Select returns the encoder and decoder for desc over rows of s.
func Select(desc Descriptor, s *schema.Schema) (Encoder, Decoder, error) {
	if s == nil || s.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: empty row schema", ErrInvalidSchema)
	}
	switch desc.Format {
	case FormatAvro:
		c, err := newAvroCodec(desc.AvroSchema, s)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case FormatJSON:
		c := newJSONCodec(s)
		return c, c, nil
	case FormatDelimited:
		c, err := newDelimitedCodec(desc.Delimiter, s)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, desc.Format)
}

// SelectByName is Select for a format given by name, as read from
// configuration.
func SelectByName(format, avroSchema, delimiter string, s *schema.Schema) (Encoder, Decoder, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, nil, err
	}
	desc := Descriptor{Format: f, AvroSchema: avroSchema}
	if delimiter != "" {
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, nil, fmt.Errorf("serde: delimiter must be a single character, got %q", delimiter)
		}
		desc.Delimiter = runes[0]
	}
	return Select(desc, s)
}
