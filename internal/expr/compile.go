package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
)

// ParamKind tags a slot of the parameter vector.
type ParamKind int

const (
	// ParamColumn slots carry the coerced value of an input column.
	ParamColumn ParamKind = iota
	// ParamFunction slots carry a bound Function instance.
	ParamFunction
)

// Param describes one slot of the parameter vector built for every call.
type Param struct {
	Kind     ParamKind
	Column   int // input position, ParamColumn only
	Name     string
	Type     schema.Type
	Function Function // ParamFunction only
}

// evalFn computes a value from a filled parameter vector.
type evalFn func(params []any) (any, error)

// Compiled is an expression bound to the positions of one input schema.
// It holds no mutable state and is safe for concurrent use.
type Compiled struct {
	expr   Expr
	typ    schema.Type
	params []Param
	eval   evalFn

	// direct is set for bare columns and literals, which skip the
	// parameter vector entirely.
	direct func(row models.Row) (any, error)
}

// Compile resolves every column of e against s and every function against
// registry, and type checks the tree.
func Compile(e Expr, s *schema.Schema, registry *Registry) (*Compiled, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	c := &compiler{
		schema:      s,
		registry:    registry,
		columnSlots: make(map[int]int),
	}
	fn, typ, err := c.compile(e)
	if err != nil {
		return nil, err
	}
	compiled := &Compiled{
		expr:   e,
		typ:    typ,
		params: c.params,
		eval:   fn,
	}

	switch n := e.(type) {
	case *Column:
		p := c.params[0]
		compiled.direct = func(row models.Row) (any, error) {
			return columnValue(row, p)
		}
	case *Literal:
		v, _, _ := literalValue(n)
		compiled.direct = func(models.Row) (any, error) {
			return v, nil
		}
	}
	return compiled, nil
}

// MustCompile is Compile for expressions known to be valid; it panics on
// error.
func MustCompile(e Expr, s *schema.Schema, registry *Registry) *Compiled {
	c, err := Compile(e, s, registry)
	if err != nil {
		panic(err)
	}
	return c
}

// Expr returns the source tree.
func (c *Compiled) Expr() Expr { return c.expr }

// Type returns the static result type.
func (c *Compiled) Type() schema.Type { return c.typ }

// Params returns a copy of the parameter slots.
func (c *Compiled) Params() []Param {
	out := make([]Param, len(c.params))
	copy(out, c.params)
	return out
}

func (c *Compiled) String() string { return c.expr.String() }

// Evaluate computes the expression for row. Column values are coerced to
// their declared types before use; failures come back as *CoercionError
// or *EvaluationError, never as a panic.
func (c *Compiled) Evaluate(row models.Row) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &EvaluationError{Expr: c.expr.String(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if c.direct != nil {
		return c.direct(row)
	}

	params := make([]any, len(c.params))
	for i, p := range c.params {
		switch p.Kind {
		case ParamColumn:
			v, err := columnValue(row, p)
			if err != nil {
				return nil, err
			}
			params[i] = v
		case ParamFunction:
			params[i] = p.Function
		}
	}

	out, err = c.eval(params)
	if err != nil {
		if _, ok := err.(*CoercionError); ok {
			return nil, err
		}
		return nil, &EvaluationError{Expr: c.expr.String(), Err: err}
	}
	return out, nil
}

// EvaluateBool evaluates a BOOLEAN expression. A null result is false.
func (c *Compiled) EvaluateBool(row models.Row) (bool, error) {
	v, err := c.Evaluate(row)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &EvaluationError{Expr: c.expr.String(), Err: fmt.Errorf("%w: got %T, want bool", ErrTypeMismatch, v)}
	}
	return b, nil
}

func columnValue(row models.Row, p Param) (any, error) {
	if p.Column >= row.Len() {
		return nil, fmt.Errorf("%w: column %s at %d, row has %d", ErrRowArity, p.Name, p.Column, row.Len())
	}
	v, err := Coerce(p.Type, row.Get(p.Column))
	if err != nil {
		if ce, ok := err.(*CoercionError); ok {
			ce.Column = p.Name
		}
		return nil, err
	}
	return v, nil
}

type compiler struct {
	schema      *schema.Schema
	registry    *Registry
	params      []Param
	columnSlots map[int]int // column position -> slot
}

func (c *compiler) compile(e Expr) (evalFn, schema.Type, error) {
	switch n := e.(type) {
	case *Column:
		return c.compileColumn(n)
	case *Literal:
		v, t, err := literalValue(n)
		if err != nil {
			return nil, 0, err
		}
		return func([]any) (any, error) { return v, nil }, t, nil
	case *Unary:
		return c.compileUnary(n)
	case *IsNull:
		operand, _, err := c.compile(n.Operand)
		if err != nil {
			return nil, 0, err
		}
		negate := n.Negate
		return func(p []any) (any, error) {
			v, err := operand(p)
			if err != nil {
				return nil, err
			}
			return (v == nil) != negate, nil
		}, schema.TypeBoolean, nil
	case *Binary:
		return c.compileBinary(n)
	case *Call:
		return c.compileCall(n)
	case nil:
		return nil, 0, fmt.Errorf("expr: nil expression")
	default:
		return nil, 0, fmt.Errorf("expr: unsupported node %T", e)
	}
}

func (c *compiler) compileColumn(n *Column) (evalFn, schema.Type, error) {
	f, err := c.schema.Field(n.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrUnknownColumn, n.Name, err)
	}
	slot, ok := c.columnSlots[f.Index]
	if !ok {
		slot = len(c.params)
		c.params = append(c.params, Param{Kind: ParamColumn, Column: f.Index, Name: f.Name, Type: f.Type})
		c.columnSlots[f.Index] = slot
	}
	return func(p []any) (any, error) { return p[slot], nil }, f.Type, nil
}

func (c *compiler) compileUnary(n *Unary) (evalFn, schema.Type, error) {
	operand, t, err := c.compile(n.Operand)
	if err != nil {
		return nil, 0, err
	}
	switch n.Op {
	case OpNot:
		if t != schema.TypeBoolean && t != schema.TypeNull {
			return nil, 0, fmt.Errorf("%w: NOT on %s", ErrTypeMismatch, t)
		}
		return func(p []any) (any, error) {
			v, err := operand(p)
			if err != nil || v == nil {
				return nil, err
			}
			return !v.(bool), nil
		}, schema.TypeBoolean, nil
	case OpNeg:
		if !t.IsNumeric() && t != schema.TypeNull {
			return nil, 0, fmt.Errorf("%w: unary minus on %s", ErrTypeMismatch, t)
		}
		return func(p []any) (any, error) {
			v, err := operand(p)
			if err != nil || v == nil {
				return nil, err
			}
			switch x := v.(type) {
			case int32:
				if x == math.MinInt32 {
					return nil, errOutOfRange
				}
				return -x, nil
			case int64:
				if x == math.MinInt64 {
					return nil, errOutOfRange
				}
				return -x, nil
			case float64:
				return -x, nil
			}
			return nil, fmt.Errorf("%w: unary minus on %T", ErrTypeMismatch, v)
		}, t, nil
	default:
		return nil, 0, fmt.Errorf("expr: unknown unary operator %d", n.Op)
	}
}

func (c *compiler) compileBinary(n *Binary) (evalFn, schema.Type, error) {
	left, lt, err := c.compile(n.Left)
	if err != nil {
		return nil, 0, err
	}
	right, rt, err := c.compile(n.Right)
	if err != nil {
		return nil, 0, err
	}

	switch {
	case n.Op == OpAnd || n.Op == OpOr:
		for _, t := range []schema.Type{lt, rt} {
			if t != schema.TypeBoolean && t != schema.TypeNull {
				return nil, 0, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, n.Op, t)
			}
		}
		return logical(n.Op, left, right), schema.TypeBoolean, nil

	case n.Op.isArithmetic():
		if (!lt.IsNumeric() && lt != schema.TypeNull) || (!rt.IsNumeric() && rt != schema.TypeNull) {
			return nil, 0, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, lt, n.Op, rt)
		}
		typ := resultNumeric(lt, rt)
		return arithmetic(n.Op, typ, left, right), typ, nil

	case n.Op.isComparison():
		kind, err := comparisonKind(n.Op, lt, rt)
		if err != nil {
			return nil, 0, err
		}
		return comparison(n.Op, kind, left, right), schema.TypeBoolean, nil
	}
	return nil, 0, fmt.Errorf("expr: unknown binary operator %d", n.Op)
}

func (c *compiler) compileCall(n *Call) (evalFn, schema.Type, error) {
	factory, ok := c.registry.Lookup(n.Name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownFunction, strings.ToUpper(n.Name))
	}
	fn := factory()

	args := make([]evalFn, len(n.Args))
	types := make([]schema.Type, len(n.Args))
	for i, a := range n.Args {
		var err error
		if args[i], types[i], err = c.compile(a); err != nil {
			return nil, 0, err
		}
	}
	ret, err := fn.ReturnType(types)
	if err != nil {
		return nil, 0, err
	}

	slot := len(c.params)
	c.params = append(c.params, Param{Kind: ParamFunction, Column: -1, Name: strings.ToUpper(n.Name), Type: ret, Function: fn})

	return func(p []any) (any, error) {
		values := make([]any, len(args))
		for i, a := range args {
			v, err := a(p)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		out, err := p[slot].(Function).Evaluate(values...)
		if err != nil || out == nil {
			return nil, err
		}
		return Coerce(ret, out)
	}, ret, nil
}

func literalValue(l *Literal) (any, schema.Type, error) {
	if l.Type != schema.TypeNull {
		v, err := Coerce(l.Type, l.Value)
		return v, l.Type, err
	}
	switch v := l.Value.(type) {
	case nil:
		return nil, schema.TypeNull, nil
	case bool:
		return v, schema.TypeBoolean, nil
	case int32:
		return v, schema.TypeInteger, nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return int32(v), schema.TypeInteger, nil
		}
		return int64(v), schema.TypeBigint, nil
	case int64:
		return v, schema.TypeBigint, nil
	case float32:
		return float64(v), schema.TypeDouble, nil
	case float64:
		return v, schema.TypeDouble, nil
	case string:
		return v, schema.TypeVarchar, nil
	}
	return nil, 0, fmt.Errorf("%w: unsupported literal %v (%T)", ErrTypeMismatch, l.Value, l.Value)
}

func resultNumeric(a, b schema.Type) schema.Type {
	switch {
	case a == schema.TypeNull && b == schema.TypeNull:
		return schema.TypeInteger
	case a == schema.TypeNull:
		return b
	case b == schema.TypeNull:
		return a
	}
	return schema.WiderNumeric(a, b)
}

func logical(op BinaryOp, left, right evalFn) evalFn {
	return func(p []any) (any, error) {
		l, err := left(p)
		if err != nil {
			return nil, err
		}
		// short circuit on the dominant value
		if l != nil && l.(bool) == (op == OpOr) {
			return l, nil
		}
		r, err := right(p)
		if err != nil {
			return nil, err
		}
		if r != nil && r.(bool) == (op == OpOr) {
			return r, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return op == OpAnd, nil
	}
}

func arithmetic(op BinaryOp, typ schema.Type, left, right evalFn) evalFn {
	return func(p []any) (any, error) {
		l, err := left(p)
		if err != nil || l == nil {
			return nil, err
		}
		r, err := right(p)
		if err != nil || r == nil {
			return nil, err
		}
		if typ == schema.TypeDouble {
			a, err := toFloat64(l)
			if err != nil {
				return nil, err
			}
			b, err := toFloat64(r)
			if err != nil {
				return nil, err
			}
			switch op {
			case OpAdd:
				return a + b, nil
			case OpSub:
				return a - b, nil
			case OpMul:
				return a * b, nil
			case OpDiv:
				return a / b, nil
			default:
				return math.Mod(a, b), nil
			}
		}

		a, err := toInt64(l)
		if err != nil {
			return nil, err
		}
		b, err := toInt64(r)
		if err != nil {
			return nil, err
		}
		var out int64
		switch op {
		case OpAdd:
			out = a + b
			if (b > 0 && out < a) || (b < 0 && out > a) {
				return nil, errOutOfRange
			}
		case OpSub:
			out = a - b
			if (b < 0 && out < a) || (b > 0 && out > a) {
				return nil, errOutOfRange
			}
		case OpMul:
			out = a * b
			if a != 0 && (out/a != b || (a == -1 && b == math.MinInt64)) {
				return nil, errOutOfRange
			}
		case OpDiv, OpMod:
			if b == 0 {
				return nil, ErrDivisionByZero
			}
			if op == OpDiv {
				if a == math.MinInt64 && b == -1 {
					return nil, errOutOfRange
				}
				out = a / b
			} else {
				out = a % b
			}
		}
		if typ == schema.TypeInteger {
			if out < math.MinInt32 || out > math.MaxInt32 {
				return nil, errOutOfRange
			}
			return int32(out), nil
		}
		return out, nil
	}
}

type compareKind int

const (
	compareNull compareKind = iota
	compareInt
	compareFloat
	compareString
	compareBool
)

func comparisonKind(op BinaryOp, lt, rt schema.Type) (compareKind, error) {
	switch {
	case lt == schema.TypeNull || rt == schema.TypeNull:
		return compareNull, nil
	case lt.IsNumeric() && rt.IsNumeric():
		if lt == schema.TypeDouble || rt == schema.TypeDouble {
			return compareFloat, nil
		}
		return compareInt, nil
	case lt == schema.TypeVarchar && rt == schema.TypeVarchar:
		return compareString, nil
	case lt == schema.TypeBoolean && rt == schema.TypeBoolean:
		if op != OpEq && op != OpNotEq {
			return 0, fmt.Errorf("%w: %s on BOOLEAN", ErrTypeMismatch, op)
		}
		return compareBool, nil
	}
	return 0, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, lt, op, rt)
}

func comparison(op BinaryOp, kind compareKind, left, right evalFn) evalFn {
	return func(p []any) (any, error) {
		if kind == compareNull {
			return nil, nil
		}
		l, err := left(p)
		if err != nil || l == nil {
			return nil, err
		}
		r, err := right(p)
		if err != nil || r == nil {
			return nil, err
		}

		var cmp int
		switch kind {
		case compareInt:
			a, err := toInt64(l)
			if err != nil {
				return nil, err
			}
			b, err := toInt64(r)
			if err != nil {
				return nil, err
			}
			cmp = compareOrdered(a, b)
		case compareFloat:
			a, err := toFloat64(l)
			if err != nil {
				return nil, err
			}
			b, err := toFloat64(r)
			if err != nil {
				return nil, err
			}
			cmp = compareOrdered(a, b)
		case compareString:
			cmp = strings.Compare(l.(string), r.(string))
		case compareBool:
			if l.(bool) == r.(bool) {
				cmp = 0
			} else {
				cmp = 1
			}
		}

		switch op {
		case OpEq:
			return cmp == 0, nil
		case OpNotEq:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLtEq:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
