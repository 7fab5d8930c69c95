package serde

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
)

// jsonCodec writes one flat object per row with keys in schema order, and
// reads objects back by case-insensitive field name.
type jsonCodec struct {
	fields []schema.Field
	keys   [][]byte // pre-encoded `"name":`
	index  map[string]int
}

func newJSONCodec(s *schema.Schema) *jsonCodec {
	c := &jsonCodec{
		fields: s.Fields(),
		index:  make(map[string]int, s.Len()),
	}
	for i, f := range c.fields {
		name, _ := json.Marshal(f.Name)
		c.keys = append(c.keys, append(name, ':'))
		c.index[strings.ToUpper(f.Name)] = i
	}
	return c
}

func (c *jsonCodec) Format() Format { return FormatJSON }

func (c *jsonCodec) Encode(row models.Row) ([]byte, error) {
	if row.Len() != len(c.fields) {
		return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatJSON, Err: fmt.Errorf("%w: got %d values, want %d", expr.ErrRowArity, row.Len(), len(c.fields))}
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(c.keys[i])
		v, err := expr.Coerce(f.Type, row.Get(i))
		if err != nil {
			return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatJSON, Err: err}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatJSON, Err: err}
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *jsonCodec) Decode(data []byte) (models.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return models.Row{}, serializationError(FormatJSON, data, err)
	}
	if obj == nil {
		return models.Row{}, serializationError(FormatJSON, data, fmt.Errorf("payload is not an object"))
	}

	cols := make([]any, len(c.fields))
	for name, raw := range obj {
		i, ok := c.index[strings.ToUpper(name)]
		if !ok {
			continue
		}
		v, err := expr.Coerce(c.fields[i].Type, raw)
		if err != nil {
			if ce, ok := err.(*expr.CoercionError); ok {
				ce.Column = c.fields[i].Name
			}
			return models.Row{}, serializationError(FormatJSON, data, err)
		}
		cols[i] = v
	}
	return models.NewRow(cols), nil
}
