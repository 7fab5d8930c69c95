package stream

import (
	"fmt"

	"github.com/tarungka/wiresql/internal/schema"
)

// TableOperator is the table side of a stream-table join: a changelog
// backed table, its schema and its key field.
type TableOperator struct {
	name   string
	table  Table
	schema *schema.Schema
	key    schema.Field
}

// NewTable wraps table. keyField must name a field of s.
func NewTable(name string, table Table, s *schema.Schema, keyField string) (*TableOperator, error) {
	if table == nil || s == nil {
		return nil, planError(KindSource, ErrNilInput)
	}
	key, err := s.Field(keyField)
	if err != nil {
		return nil, planError(KindSource, fmt.Errorf("table %s key: %w", name, err))
	}
	return &TableOperator{name: name, table: table, schema: s, key: key}, nil
}

func (t *TableOperator) Name() string           { return t.name }
func (t *TableOperator) Table() Table           { return t.table }
func (t *TableOperator) Schema() *schema.Schema { return t.schema }
func (t *TableOperator) KeyField() schema.Field { return t.key }
