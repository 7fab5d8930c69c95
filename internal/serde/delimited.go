package serde

import (
	"fmt"
	"strings"

	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
)

// delimitedCodec joins values with a single delimiter. Values are not
// escaped: a string containing the delimiter does not read back as the
// same row. An empty field reads back as null.
type delimitedCodec struct {
	delimiter string
	fields    []schema.Field
}

func newDelimitedCodec(delimiter rune, s *schema.Schema) (*delimitedCodec, error) {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	if delimiter == '\n' || delimiter == '\r' {
		return nil, fmt.Errorf("%w: delimiter %q", ErrUnsupportedFormat, delimiter)
	}
	return &delimitedCodec{delimiter: string(delimiter), fields: s.Fields()}, nil
}

func (c *delimitedCodec) Format() Format { return FormatDelimited }

func (c *delimitedCodec) Encode(row models.Row) ([]byte, error) {
	if row.Len() != len(c.fields) {
		return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatDelimited, Err: fmt.Errorf("%w: got %d values, want %d", expr.ErrRowArity, row.Len(), len(c.fields))}
	}
	var sb strings.Builder
	for i, f := range c.fields {
		if i > 0 {
			sb.WriteString(c.delimiter)
		}
		v, err := expr.Coerce(f.Type, row.Get(i))
		if err != nil {
			return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatDelimited, Err: err}
		}
		if v != nil {
			sb.WriteString(expr.Stringify(v))
		}
	}
	return []byte(sb.String()), nil
}

func (c *delimitedCodec) Decode(data []byte) (models.Row, error) {
	parts := strings.Split(strings.TrimRight(string(data), "\r\n"), c.delimiter)
	if len(parts) != len(c.fields) {
		return models.Row{}, serializationError(FormatDelimited, data, fmt.Errorf("got %d values, want %d", len(parts), len(c.fields)))
	}
	cols := make([]any, len(c.fields))
	for i, p := range parts {
		if p == "" {
			continue
		}
		v, err := expr.Coerce(c.fields[i].Type, p)
		if err != nil {
			if ce, ok := err.(*expr.CoercionError); ok {
				ce.Column = c.fields[i].Name
			}
			return models.Row{}, serializationError(FormatDelimited, data, err)
		}
		cols[i] = v
	}
	return models.NewRow(cols), nil
}
