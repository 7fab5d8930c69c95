package serde

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linkedin/goavro/v2"
	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
)

const avroSchemaNull = "null"

type avroField struct {
	Name    string `json:"name"`
	Type    any    `json:"type"`
	Default any    `json:"default,omitempty"`
}

type avroRecord struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Fields []avroField `json:"fields"`
}

// AvroSchema generates an Avro record schema for s. Every field is a union
// with null so that null column values can be written.
func AvroSchema(name string, s *schema.Schema) (string, error) {
	rec := avroRecord{Type: "record", Name: avroName(name)}
	for _, f := range s.Fields() {
		t, err := avroPrimitive(f.Type)
		if err != nil {
			return "", err
		}
		rec.Fields = append(rec.Fields, avroField{Name: avroName(f.Name), Type: []string{avroSchemaNull, t}})
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// avroName replaces characters Avro does not allow in names.
func avroName(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

func avroPrimitive(t schema.Type) (string, error) {
	switch t {
	case schema.TypeBoolean:
		return "boolean", nil
	case schema.TypeInteger:
		return "int", nil
	case schema.TypeBigint:
		return "long", nil
	case schema.TypeDouble:
		return "double", nil
	case schema.TypeVarchar:
		return "string", nil
	}
	return "", fmt.Errorf("%w: type %s has no avro equivalent", ErrInvalidSchema, t)
}

// avroColumn binds one row position to one Avro record field.
type avroColumn struct {
	name     string
	sqlType  schema.Type
	avroType string // primitive, or the non-null union branch
	union    bool   // declared as a union, values are wrapped
	nullable bool
}

type avroCodec struct {
	codec   *goavro.Codec
	columns []avroColumn
}

func newAvroCodec(schemaJSON string, s *schema.Schema) (*avroCodec, error) {
	if strings.TrimSpace(schemaJSON) == "" {
		return nil, fmt.Errorf("%w: avro format needs a schema", ErrInvalidSchema)
	}
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	var rec struct {
		Type   string `json:"type"`
		Fields []struct {
			Name string          `json:"name"`
			Type json.RawMessage `json:"type"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(schemaJSON), &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if rec.Type != "record" {
		return nil, fmt.Errorf("%w: top level avro type must be a record, got %q", ErrInvalidSchema, rec.Type)
	}
	if len(rec.Fields) != s.Len() {
		return nil, fmt.Errorf("%w: avro record has %d fields, row schema %s has %d", ErrInvalidSchema, len(rec.Fields), s, s.Len())
	}

	columns := make([]avroColumn, len(rec.Fields))
	for i, f := range rec.Fields {
		col, err := bindAvroField(f.Name, f.Type, s.At(i))
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return &avroCodec{codec: codec, columns: columns}, nil
}

func bindAvroField(name string, raw json.RawMessage, field schema.Field) (avroColumn, error) {
	col := avroColumn{name: name, sqlType: field.Type}

	var branches []json.RawMessage
	if err := json.Unmarshal(raw, &branches); err == nil {
		col.union = true
		for _, b := range branches {
			t, err := avroTypeName(b)
			if err != nil {
				return col, err
			}
			if t == avroSchemaNull {
				col.nullable = true
				continue
			}
			if col.avroType != "" {
				return col, fmt.Errorf("%w: field %s: unions of more than one non null type are not supported", ErrInvalidSchema, name)
			}
			col.avroType = t
		}
	} else {
		t, err := avroTypeName(raw)
		if err != nil {
			return col, err
		}
		col.avroType = t
	}

	if !avroAccepts(col.avroType, field.Type) {
		return col, fmt.Errorf("%w: field %s: avro type %q cannot hold %s", ErrInvalidSchema, name, col.avroType, field.Type)
	}
	return col, nil
}

func avroTypeName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, nil
	}
	var complex struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &complex); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	switch complex.Type {
	case "null", "boolean", "int", "long", "float", "double", "string", "bytes":
		return complex.Type, nil
	}
	return "", fmt.Errorf("%w: nested avro type %q is not supported", ErrInvalidSchema, complex.Type)
}

func avroAccepts(avroType string, t schema.Type) bool {
	switch avroType {
	case "boolean":
		return t == schema.TypeBoolean
	case "int":
		return t == schema.TypeInteger
	case "long":
		return t == schema.TypeInteger || t == schema.TypeBigint
	case "float", "double":
		return t.IsNumeric()
	case "string", "bytes":
		return t == schema.TypeVarchar
	}
	return false
}

func (c *avroCodec) Format() Format { return FormatAvro }

// Encode writes row as a single object encoded payload: a marker, the
// schema fingerprint and the binary datum.
func (c *avroCodec) Encode(row models.Row) ([]byte, error) {
	if row.Len() != len(c.columns) {
		return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatAvro, Err: fmt.Errorf("%w: got %d values, want %d", expr.ErrRowArity, row.Len(), len(c.columns))}
	}
	native := make(map[string]any, len(c.columns))
	for i, col := range c.columns {
		v, err := col.toNative(row.Get(i))
		if err != nil {
			return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatAvro, Err: err}
		}
		native[col.name] = v
	}
	out, err := c.codec.SingleFromNative(nil, native)
	if err != nil {
		return nil, &SerializationError{Identity: rowIdentity(row), Format: FormatAvro, Err: err}
	}
	return out, nil
}

func (c *avroCodec) Decode(data []byte) (models.Row, error) {
	native, rest, err := c.codec.NativeFromSingle(data)
	if err != nil {
		return models.Row{}, serializationError(FormatAvro, data, err)
	}
	if len(rest) > 0 {
		return models.Row{}, serializationError(FormatAvro, data, errors.New("only one record was expected"))
	}
	m, ok := native.(map[string]any)
	if !ok {
		return models.Row{}, serializationError(FormatAvro, data, fmt.Errorf("decoded %T, want a record", native))
	}
	cols := make([]any, len(c.columns))
	for i, col := range c.columns {
		v, err := col.fromNative(m[col.name])
		if err != nil {
			return models.Row{}, serializationError(FormatAvro, data, err)
		}
		cols[i] = v
	}
	return models.NewRow(cols), nil
}

func (col avroColumn) toNative(v any) (any, error) {
	if v == nil {
		if !col.nullable {
			return nil, fmt.Errorf("field %s is not nullable", col.name)
		}
		return goavro.Union(avroSchemaNull, nil), nil
	}
	v, err := expr.Coerce(col.sqlType, v)
	if err != nil {
		return nil, err
	}
	switch col.avroType {
	case "long":
		if i, ok := v.(int32); ok {
			v = int64(i)
		}
	case "float":
		f, err := expr.Coerce(schema.TypeDouble, v)
		if err != nil {
			return nil, err
		}
		v = float32(f.(float64))
	case "double":
		if v, err = expr.Coerce(schema.TypeDouble, v); err != nil {
			return nil, err
		}
	case "bytes":
		v = []byte(v.(string))
	}
	if col.union {
		return goavro.Union(col.avroType, v), nil
	}
	return v, nil
}

func (col avroColumn) fromNative(v any) (any, error) {
	if col.union {
		if v == nil {
			return nil, nil
		}
		if branch, ok := v.(map[string]any); ok {
			v = branch[col.avroType]
		}
	}
	if f, ok := v.(float32); ok {
		v = float64(f)
	}
	out, err := expr.Coerce(col.sqlType, v)
	if err != nil {
		if ce, ok := err.(*expr.CoercionError); ok {
			ce.Column = col.name
		}
		return nil, err
	}
	return out, nil
}
