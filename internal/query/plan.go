package query

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/serde"
	"github.com/tarungka/wiresql/stream"
)

var ErrInvalidQuery = errors.New("query: invalid")

// Plan is a query resolved against the catalog with every expression
// compiled. A Plan is immutable; Build may be called once per partition
// and from many goroutines.
type Plan struct {
	ID     string
	Source *catalog.Source
	// Table is nil when the query has no join.
	Table *catalog.Source

	joinOn     string
	joinSchema *schema.Schema
	joinKey    string

	where *expr.Compiled

	selects   []*expr.Compiled
	outSchema *schema.Schema

	partitionBy string

	sinkTopic   string
	sinkEncoder serde.Encoder

	print  bool
	output io.Writer
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

type PlanOption func(*Plan)

// WithOutput sets where a printing query writes, stdout by default.
func WithOutput(w io.Writer) PlanOption {
	return func(p *Plan) {
		p.output = w
	}
}

// NewPlan resolves cfg. Functions are looked up in registry, the builtins
// when nil.
func NewPlan(cfg Config, cat *catalog.Catalog, registry *expr.Registry, opts ...PlanOption) (*Plan, error) {
	if cfg.From == "" {
		return nil, invalid("query %s has no source", cfg.ID)
	}
	src, err := cat.Lookup(cfg.From)
	if err != nil {
		return nil, err
	}
	if src.Kind != catalog.KindStream {
		return nil, invalid("%s is a %s, queries read streams", src.Name, src.Kind)
	}
	p := &Plan{ID: cfg.ID, Source: src, print: cfg.Print}
	for _, opt := range opts {
		opt(p)
	}

	current := src.Schema
	if cfg.Join != nil {
		if current, err = p.resolveJoin(cfg.Join, cat); err != nil {
			return nil, err
		}
	}

	if cfg.Where != nil {
		e, err := expr.Decode(cfg.Where)
		if err != nil {
			return nil, err
		}
		if p.where, err = expr.Compile(e, current, registry); err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
	}

	if len(cfg.Select) > 0 {
		if err := p.resolveSelect(cfg.Select, current, registry); err != nil {
			return nil, err
		}
		current = p.outSchema
	}

	if cfg.PartitionBy != "" {
		if !current.Has(cfg.PartitionBy) {
			return nil, fmt.Errorf("partition by %s: %w", cfg.PartitionBy, schema.ErrFieldNotFound)
		}
		p.partitionBy = cfg.PartitionBy
	}

	if cfg.Into != nil {
		if err := p.resolveInto(cfg.Into, current); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// resolveJoin lays out the joined schema. When a name appears on both
// sides every field is prefixed with its source name.
func (p *Plan) resolveJoin(cfg *JoinConfig, cat *catalog.Catalog) (*schema.Schema, error) {
	tbl, err := cat.Lookup(cfg.Table)
	if err != nil {
		return nil, err
	}
	if tbl.Kind != catalog.KindTable {
		return nil, invalid("%s is a %s, joins read tables", tbl.Name, tbl.Kind)
	}
	p.Table = tbl

	left := p.Source.Schema
	key := p.Source.KeyField
	if cfg.On != "" {
		f, err := left.Field(cfg.On)
		if err != nil {
			return nil, fmt.Errorf("join on %s: %w", cfg.On, err)
		}
		p.joinOn = f.Name
		key = f.Name
	}
	if key == "" {
		return nil, invalid("join with %s needs a keyed source or an on column", tbl.Name)
	}

	joined, err := schema.Concat(left, tbl.Schema)
	if errors.Is(err, schema.ErrDuplicateField) {
		joined, err = schema.Concat(left.Qualify(p.Source.Name), tbl.Schema.Qualify(tbl.Name))
		key = p.Source.Name + "_" + key
	}
	if err != nil {
		return nil, fmt.Errorf("join with %s: %w", tbl.Name, err)
	}
	p.joinSchema = joined
	p.joinKey = key
	return joined, nil
}

func (p *Plan) resolveSelect(items []SelectConfig, in *schema.Schema, registry *expr.Registry) error {
	fields := make([]schema.Field, len(items))
	p.selects = make([]*expr.Compiled, len(items))
	for i, item := range items {
		raw := item.Expr
		if raw == nil {
			raw = item.Name
		}
		e, err := expr.Decode(raw)
		if err != nil {
			return fmt.Errorf("select %d: %w", i, err)
		}
		c, err := expr.Compile(e, in, registry)
		if err != nil {
			return fmt.Errorf("select %d: %w", i, err)
		}
		name := item.Name
		if name == "" {
			col, ok := e.(*expr.Column)
			if !ok {
				return invalid("select %d (%s) needs a name", i, e)
			}
			name = col.Name
		}
		typ := c.Type()
		if item.Type != "" {
			if typ, err = schema.ParseType(item.Type); err != nil {
				return fmt.Errorf("select %s: %w", name, err)
			}
		}
		if typ == schema.TypeNull {
			return invalid("select %s has no type", name)
		}
		p.selects[i] = c
		fields[i] = schema.F(name, typ)
	}
	out, err := schema.New(fields...)
	if err != nil {
		return err
	}
	p.outSchema = out
	return nil
}

func (p *Plan) resolveInto(cfg *IntoConfig, s *schema.Schema) error {
	if cfg.Topic == "" {
		return invalid("into needs a topic")
	}
	format := cfg.Format
	if format == "" {
		format = p.Source.Format.String()
	}
	f, err := serde.ParseFormat(format)
	if err != nil {
		return err
	}
	avroSchema := cfg.AvroSchema
	if f == serde.FormatAvro && avroSchema == "" {
		if avroSchema, err = serde.AvroSchema(cfg.Topic, s); err != nil {
			return err
		}
	}
	enc, _, err := serde.SelectByName(format, avroSchema, cfg.Delimiter, s)
	if err != nil {
		return err
	}
	p.sinkTopic = cfg.Topic
	p.sinkEncoder = enc
	return nil
}

// SinkTopic returns the topic results are published to, empty when the
// query only prints.
func (p *Plan) SinkTopic() string { return p.sinkTopic }

// Build chains the operators of p on top of records. table is the store
// behind the join and is ignored when p has none.
func (p *Plan) Build(records stream.RecordStream, table stream.Table, opts ...stream.Option) (*stream.Operator, error) {
	op, err := stream.New(records, p.Source.Schema, p.Source.KeyField, opts...)
	if err != nil {
		return nil, err
	}

	if p.Table != nil {
		if p.joinOn != "" {
			if op, err = op.Rekey(p.joinOn); err != nil {
				return nil, err
			}
		}
		tableOp, err := stream.NewTable(p.Table.Name, table, p.Table.Schema, p.Table.KeyField)
		if err != nil {
			return nil, err
		}
		if op, err = op.LeftJoin(tableOp, p.joinSchema, p.joinKey); err != nil {
			return nil, err
		}
	}

	if p.where != nil {
		if op, err = op.Filter(p.where); err != nil {
			return nil, err
		}
	}
	if p.selects != nil {
		if op, err = op.ProjectExprs(p.selects, p.outSchema); err != nil {
			return nil, err
		}
	}
	if p.partitionBy != "" {
		if op, err = op.Rekey(p.partitionBy); err != nil {
			return nil, err
		}
	}
	if p.sinkTopic != "" {
		if op, err = op.Sink(p.sinkTopic, p.sinkEncoder); err != nil {
			return nil, err
		}
	}
	if p.print {
		op = op.Print(p.output)
	}
	return op, nil
}

// Describe renders the operator chain of p without running it.
func (p *Plan) Describe() string {
	op, err := p.Build(nopStream{}, nopTable{})
	if err != nil {
		return "invalid plan: " + err.Error()
	}
	return op.Describe()
}

func (p *Plan) String() string {
	var sb strings.Builder
	sb.WriteString(p.Source.Name)
	if p.Table != nil {
		sb.WriteString(" LEFT JOIN ")
		sb.WriteString(p.Table.Name)
	}
	if p.sinkTopic != "" {
		sb.WriteString(" INTO ")
		sb.WriteString(p.sinkTopic)
	}
	return sb.String()
}

// nopStream lets Describe build a plan without records.
type nopStream struct{}

func (s nopStream) Filter(func(models.KeyedRecord) bool) stream.RecordStream { return s }
func (s nopStream) Map(func(models.KeyedRecord) (models.KeyedRecord, bool)) stream.RecordStream {
	return s
}
func (s nopStream) LeftJoin(stream.Table, stream.Joiner) stream.RecordStream { return s }
func (s nopStream) To(string, serde.Encoder) stream.RecordStream             { return s }
func (s nopStream) Peek(func(models.KeyedRecord)) stream.RecordStream        { return s }

type nopTable struct{}

func (nopTable) Lookup(string) (models.Row, bool, error) { return models.Row{}, false, nil }
