package stream

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/serde"
)

// Operator is one node of a physical plan: a record stream together with
// its schema and key field. Operators are immutable; every transformation
// returns a new Operator and leaves the receiver untouched.
type Operator struct {
	kind     Kind
	schema   *schema.Schema
	key      *schema.Field // nil when no column is the key
	records  RecordStream
	reporter ErrorReporter

	// plan holds one line per operator, newest first.
	plan []string
}

type Option func(*Operator)

// WithReporter sets where dropped records are reported. It is inherited by
// every derived operator.
func WithReporter(r ErrorReporter) Option {
	return func(o *Operator) {
		o.reporter = r
	}
}

// New wraps a source stream. keyField may be empty when no column of s is
// the record key.
func New(records RecordStream, s *schema.Schema, keyField string, opts ...Option) (*Operator, error) {
	if records == nil || s == nil {
		return nil, planError(KindSource, ErrNilInput)
	}
	o := &Operator{
		kind:    KindSource,
		schema:  s,
		records: records,
	}
	if keyField != "" {
		f, err := s.Field(keyField)
		if err != nil {
			return nil, planError(KindSource, err)
		}
		o.key = &f
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = NewLogReporter(log.Logger, nil)
	}
	o.plan = []string{fmt.Sprintf("%s %s%s", KindSource, s, o.keySuffix())}
	return o, nil
}

func (o *Operator) derive(kind Kind, s *schema.Schema, key *schema.Field, records RecordStream, detail string) *Operator {
	next := &Operator{
		kind:     kind,
		schema:   s,
		key:      key,
		records:  records,
		reporter: o.reporter,
	}
	line := kind.String()
	if detail != "" {
		line += " " + detail
	}
	next.plan = make([]string, 0, len(o.plan)+1)
	next.plan = append(next.plan, line+next.keySuffix())
	next.plan = append(next.plan, o.plan...)
	return next
}

func (o *Operator) keySuffix() string {
	if o.key == nil {
		return ""
	}
	return " KEY " + o.key.Name
}

// Kind returns the transformation that produced o.
func (o *Operator) Kind() Kind { return o.kind }

// Schema returns the schema of the records leaving o.
func (o *Operator) Schema() *schema.Schema { return o.schema }

// KeyField returns the key field, if any.
func (o *Operator) KeyField() (schema.Field, bool) {
	if o.key == nil {
		return schema.Field{}, false
	}
	return *o.key, true
}

// Records returns the underlying record stream.
func (o *Operator) Records() RecordStream { return o.records }

func (o *Operator) String() string {
	return fmt.Sprintf("%s %s%s", o.kind, o.schema, o.keySuffix())
}

// Describe renders the chain of operators ending at o, one per line, the
// source last.
func (o *Operator) Describe() string {
	var sb strings.Builder
	for depth, line := range o.plan {
		if depth > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(line)
	}
	return sb.String()
}

// bound checks that c was compiled against a schema laid out like o's.
func (o *Operator) bound(c *expr.Compiled) error {
	for _, p := range c.Params() {
		if p.Kind != expr.ParamColumn {
			continue
		}
		if p.Column >= o.schema.Len() {
			return fmt.Errorf("%w: %s reads column %d of %s", ErrSchemaMismatch, c, p.Column, o.schema)
		}
		f := o.schema.At(p.Column)
		if !strings.EqualFold(f.Name, p.Name) || f.Type != p.Type {
			return fmt.Errorf("%w: %s expects %s at %d, found %s", ErrSchemaMismatch, c, p.Name, p.Column, f)
		}
	}
	return nil
}

// Filter keeps the records for which predicate is true. A record whose
// predicate is null is dropped; one whose predicate fails is dropped and
// reported.
func (o *Operator) Filter(predicate *expr.Compiled) (*Operator, error) {
	if predicate == nil {
		return nil, planError(KindFilter, ErrNilInput)
	}
	if t := predicate.Type(); t != schema.TypeBoolean && t != schema.TypeNull {
		return nil, planError(KindFilter, fmt.Errorf("%w: predicate %s is %s", expr.ErrTypeMismatch, predicate, t))
	}
	if err := o.bound(predicate); err != nil {
		return nil, planError(KindFilter, err)
	}

	reporter := o.reporter
	records := o.records.Filter(func(rec models.KeyedRecord) bool {
		keep, err := predicate.EvaluateBool(rec.Value)
		if err != nil {
			reporter.Report(KindFilter, rec.Identity(), err)
			return false
		}
		return keep
	})
	return o.derive(KindFilter, o.schema, o.key, records, predicate.String()), nil
}

// Project keeps the named columns in the order given. The key field
// survives only if it is one of them.
func (o *Operator) Project(fields ...string) (*Operator, error) {
	if len(fields) == 0 {
		return nil, planError(KindProject, fmt.Errorf("%w: empty projection", ErrArity))
	}
	out, err := o.schema.Select(fields...)
	if err != nil {
		return nil, planError(KindProject, err)
	}
	positions := make([]int, len(fields))
	for i, name := range fields {
		// Select succeeded so every name resolves
		positions[i], _ = o.schema.FieldIndex(name)
	}

	reporter := o.reporter
	width := o.schema.Len()
	records := o.records.Map(func(rec models.KeyedRecord) (models.KeyedRecord, bool) {
		if rec.Value.Len() != width {
			reporter.Report(KindProject, rec.Identity(), fmt.Errorf("%w: got %d values, want %d", expr.ErrRowArity, rec.Value.Len(), width))
			return rec, false
		}
		cols := make([]any, len(positions))
		for i, p := range positions {
			cols[i] = rec.Value.Get(p)
		}
		return rec.WithValue(models.NewRow(cols)), true
	})

	names := make([]string, out.Len())
	for i, f := range out.Fields() {
		names[i] = f.Name
	}
	return o.derive(KindProject, out, o.keyIn(out), records, strings.Join(names, ", ")), nil
}

// ProjectExprs evaluates one expression per output column. exprs must line
// up one to one with out. A record for which any expression fails is
// dropped and reported.
func (o *Operator) ProjectExprs(exprs []*expr.Compiled, out *schema.Schema) (*Operator, error) {
	if out == nil {
		return nil, planError(KindProject, ErrNilInput)
	}
	if len(exprs) != out.Len() {
		return nil, planError(KindProject, fmt.Errorf("%w: %d expressions for %d output fields", ErrArity, len(exprs), out.Len()))
	}
	types := make([]schema.Type, len(exprs))
	rendered := make([]string, len(exprs))
	for i, e := range exprs {
		if e == nil {
			return nil, planError(KindProject, fmt.Errorf("%w: expression %d", ErrNilInput, i))
		}
		if err := o.bound(e); err != nil {
			return nil, planError(KindProject, err)
		}
		f := out.At(i)
		if !assignable(e.Type(), f.Type) {
			return nil, planError(KindProject, fmt.Errorf("%w: %s is %s, field %s", expr.ErrTypeMismatch, e, e.Type(), f))
		}
		types[i] = f.Type
		rendered[i] = e.String() + " AS " + f.Name
	}

	reporter := o.reporter
	records := o.records.Map(func(rec models.KeyedRecord) (models.KeyedRecord, bool) {
		cols := make([]any, len(exprs))
		for i, e := range exprs {
			v, err := e.Evaluate(rec.Value)
			if err == nil {
				v, err = expr.Coerce(types[i], v)
			}
			if err != nil {
				reporter.Report(KindProject, rec.Identity(), err)
				return rec, false
			}
			cols[i] = v
		}
		return rec.WithValue(models.NewRow(cols)), true
	})
	return o.derive(KindProject, out, o.keyIn(out), records, strings.Join(rendered, ", ")), nil
}

// keyIn returns the key field as laid out in s, or nil if s dropped it.
func (o *Operator) keyIn(s *schema.Schema) *schema.Field {
	if o.key == nil {
		return nil
	}
	f, err := s.Field(o.key.Name)
	if err != nil {
		return nil
	}
	return &f
}

// assignable reports whether a value of type from can be stored in a column
// of type to without losing information.
func assignable(from, to schema.Type) bool {
	switch {
	case from == to, from == schema.TypeNull:
		return true
	case from.IsNumeric() && to.IsNumeric():
		return schema.WiderNumeric(from, to) == to
	}
	return false
}

// Rekey makes field the key of every record by stringifying its value.
// Rekeying on the current key field returns o itself. Records whose new
// key is null are dropped and reported.
func (o *Operator) Rekey(field string) (*Operator, error) {
	if o.key != nil && strings.EqualFold(o.key.Name, field) {
		return o, nil
	}
	f, err := o.schema.Field(field)
	if err != nil {
		return nil, planError(KindRekey, err)
	}

	reporter := o.reporter
	records := o.records.Map(func(rec models.KeyedRecord) (models.KeyedRecord, bool) {
		if f.Index >= rec.Value.Len() {
			reporter.Report(KindRekey, rec.Identity(), fmt.Errorf("%w: no column %s", expr.ErrRowArity, f.Name))
			return rec, false
		}
		v, err := expr.Coerce(f.Type, rec.Value.Get(f.Index))
		if err != nil {
			reporter.Report(KindRekey, rec.Identity(), err)
			return rec, false
		}
		if v == nil {
			reporter.Report(KindRekey, rec.Identity(), fmt.Errorf("%w: %s", ErrNullKey, f.Name))
			return rec, false
		}
		return rec.WithKey(expr.Stringify(v)), true
	})
	return o.derive(KindRekey, o.schema, &f, records, ""), nil
}

// LeftJoin joins every record with the row table holds under the same key.
// joinSchema must be the left schema followed by the table schema, and
// joinKey names the key field of the result. A record without a match is
// padded with nulls, so every output row has joinSchema's arity.
func (o *Operator) LeftJoin(table *TableOperator, joinSchema *schema.Schema, joinKey string) (*Operator, error) {
	if table == nil || joinSchema == nil {
		return nil, planError(KindLeftJoin, ErrNilInput)
	}
	leftWidth, rightWidth := o.schema.Len(), table.schema.Len()
	if joinSchema.Len() != leftWidth+rightWidth {
		return nil, planError(KindLeftJoin, fmt.Errorf("%w: join schema has %d fields, inputs have %d + %d", ErrArity, joinSchema.Len(), leftWidth, rightWidth))
	}
	for i, f := range joinSchema.Fields() {
		var want schema.Field
		if i < leftWidth {
			want = o.schema.At(i)
		} else {
			want = table.schema.At(i - leftWidth)
		}
		if f.Type != want.Type {
			return nil, planError(KindLeftJoin, fmt.Errorf("%w: join field %s does not match input field %s", ErrSchemaMismatch, f, want))
		}
	}
	key, err := joinSchema.Field(joinKey)
	if err != nil {
		return nil, planError(KindLeftJoin, err)
	}

	reporter := o.reporter
	records := o.records.LeftJoin(table.table, func(left models.KeyedRecord, right models.Row, found bool) (models.KeyedRecord, bool) {
		if left.Value.Len() != leftWidth {
			reporter.Report(KindLeftJoin, left.Identity(), fmt.Errorf("%w: left row has %d values, want %d", expr.ErrRowArity, left.Value.Len(), leftWidth))
			return left, false
		}
		found = found && !right.IsZero()
		if found && right.Len() != rightWidth {
			reporter.Report(KindLeftJoin, left.Identity(), fmt.Errorf("%w: table row has %d values, want %d", expr.ErrRowArity, right.Len(), rightWidth))
			return left, false
		}
		cols := make([]any, leftWidth+rightWidth)
		for i := 0; i < leftWidth; i++ {
			cols[i] = left.Value.Get(i)
		}
		if found {
			for i := 0; i < rightWidth; i++ {
				cols[leftWidth+i] = right.Get(i)
			}
		}
		return left.WithValue(models.NewRow(cols)), true
	})
	return o.derive(KindLeftJoin, joinSchema, &key, records, table.name), nil
}

// Sink publishes every record to topic using encoder. Records still flow
// through the returned operator, so the plan can keep going.
func (o *Operator) Sink(topic string, encoder serde.Encoder) (*Operator, error) {
	if topic == "" {
		return nil, planError(KindSink, ErrNoDestination)
	}
	if encoder == nil {
		return nil, planError(KindSink, ErrNilInput)
	}
	records := o.records.To(topic, encoder)
	return o.derive(KindSink, o.schema, o.key, records, fmt.Sprintf("%s (%s)", topic, encoder.Format())), nil
}

// Print writes every record passing through to w, stdout when w is nil.
func (o *Operator) Print(w io.Writer) *Operator {
	if w == nil {
		w = os.Stdout
	}
	p := newPrinter(w)
	records := o.records.Peek(p.print)
	return o.derive(KindPrint, o.schema, o.key, records, "")
}
