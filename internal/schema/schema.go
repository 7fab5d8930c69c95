// Package schema holds the ordered, typed field descriptors every operator
// uses to translate column names into positions.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFieldNotFound is returned when a name does not resolve in a schema.
	ErrFieldNotFound = errors.New("schema: field not found")
	// ErrDuplicateField is returned when two fields share a name, ignoring case.
	ErrDuplicateField = errors.New("schema: duplicate field")
)

// Field is a single named, typed column. Index is the position of the field
// in the schema that owns it.
type Field struct {
	Name  string
	Type  Type
	Index int
}

func (f Field) String() string {
	return fmt.Sprintf("%s %s", f.Name, f.Type)
}

// Schema is an ordered list of fields with case-insensitive unique names.
// A Schema is never modified after construction.
type Schema struct {
	fields []Field
	index  map[string]int
}

// New builds a schema from the given fields in order. The Index of each
// field is reassigned to its position.
func New(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema: field %d has no name", i)
		}
		norm := normalize(f.Name)
		if _, exists := s.index[norm]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
		}
		f.Index = i
		s.fields[i] = f
		s.index[norm] = i
	}
	return s, nil
}

// MustNew is New for statically known schemas; it panics on error.
func MustNew(fields ...Field) *Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// F is shorthand for an unpositioned field.
func F(name string, t Type) Field {
	return Field{Name: name, Type: t}
}

func normalize(name string) string {
	return strings.ToUpper(name)
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Fields returns a copy of the fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// At returns the field at position i.
func (s *Schema) At(i int) Field {
	return s.fields[i]
}

// FieldIndex resolves name to its position, ignoring case.
func (s *Schema) FieldIndex(name string) (int, error) {
	i, ok := s.index[normalize(name)]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	return i, nil
}

// Field resolves name to its descriptor, ignoring case.
func (s *Schema) Field(name string) (Field, error) {
	i, err := s.FieldIndex(name)
	if err != nil {
		return Field{}, err
	}
	return s.fields[i], nil
}

// Has reports whether name resolves in s.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[normalize(name)]
	return ok
}

// Select returns the sub-schema made of the named fields, in the order given.
func (s *Schema) Select(names ...string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		f, err := s.Field(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return New(fields...)
}

// Qualify returns a copy of s whose field names are prefixed with
// "<prefix>_". Planners use it to keep join schemas collision free.
func (s *Schema) Qualify(prefix string) *Schema {
	fields := make([]Field, len(s.fields))
	for i, f := range s.fields {
		f.Name = prefix + "_" + f.Name
		fields[i] = f
	}
	// names were unique before prefixing so they still are
	return MustNew(fields...)
}

// Concat appends the fields of b after those of a. Any name present in both
// fails with ErrDuplicateField.
func Concat(a, b *Schema) (*Schema, error) {
	fields := make([]Field, 0, a.Len()+b.Len())
	fields = append(fields, a.fields...)
	fields = append(fields, b.fields...)
	return New(fields...)
}

// Equal reports whether both schemas have the same names and types in the
// same order. Names are compared ignoring case.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if !strings.EqualFold(s.fields[i].Name, o.fields[i].Name) || s.fields[i].Type != o.fields[i].Type {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
