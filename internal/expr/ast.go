// Package expr compiles scalar expression trees into evaluators bound to
// column positions and function instances.
//
// Compilation happens once per expression per plan; the resulting Compiled
// value is immutable and is evaluated once per record, possibly from many
// goroutines at the same time.
package expr

import (
	"fmt"
	"strings"

	"github.com/tarungka/wiresql/internal/schema"
)

// Expr is a node of a scalar expression tree. The set of node types is
// closed: Column, Literal, Binary, Unary, IsNull and Call.
type Expr interface {
	fmt.Stringer
	node()
}

// Column references an input column by name.
type Column struct {
	Name string
}

// Literal is a constant. A zero Type means the type is inferred from Value.
type Literal struct {
	Value any
	Type  schema.Type
}

// BinaryOp is an infix operator.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
)

var binaryOpSymbols = map[BinaryOp]string{
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpMod:   "%",
	OpEq:    "=",
	OpNotEq: "!=",
	OpLt:    "<",
	OpLtEq:  "<=",
	OpGt:    ">",
	OpGtEq:  ">=",
	OpAnd:   "AND",
	OpOr:    "OR",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpSymbols[op]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// ParseBinaryOp maps an operator symbol or keyword to a BinaryOp.
func ParseBinaryOp(s string) (BinaryOp, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	switch sym {
	case "==":
		return OpEq, nil
	case "<>":
		return OpNotEq, nil
	case "&&":
		return OpAnd, nil
	case "||":
		return OpOr, nil
	}
	for op, str := range binaryOpSymbols {
		if str == sym {
			return op, nil
		}
	}
	return 0, fmt.Errorf("expr: unknown operator %q", s)
}

func (op BinaryOp) isArithmetic() bool {
	return op <= OpMod
}

func (op BinaryOp) isComparison() bool {
	return op >= OpEq && op <= OpGtEq
}

// Binary applies Op to Left and Right.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

func (op UnaryOp) String() string {
	if op == OpNot {
		return "NOT"
	}
	return "-"
}

// Unary applies Op to Operand.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// IsNull is `Operand IS NULL`, or `IS NOT NULL` when Negate is set.
type IsNull struct {
	Operand Expr
	Negate  bool
}

// Call invokes the registered function Name.
type Call struct {
	Name string
	Args []Expr
}

func (*Column) node()  {}
func (*Literal) node() {}
func (*Binary) node()  {}
func (*Unary) node()   {}
func (*IsNull) node()  {}
func (*Call) node()    {}

func (c *Column) String() string { return c.Name }

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return fmt.Sprint(v)
	}
}

func (b *Binary) String() string {
	return "(" + b.Left.String() + " " + b.Op.String() + " " + b.Right.String() + ")"
}

func (u *Unary) String() string {
	if u.Op == OpNot {
		return "(NOT " + u.Operand.String() + ")"
	}
	return "(-" + u.Operand.String() + ")"
}

func (n *IsNull) String() string {
	if n.Negate {
		return "(" + n.Operand.String() + " IS NOT NULL)"
	}
	return "(" + n.Operand.String() + " IS NULL)"
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return strings.ToUpper(c.Name) + "(" + strings.Join(args, ", ") + ")"
}

// Col references a column.
func Col(name string) Expr { return &Column{Name: name} }

// Lit is a literal whose type is inferred from v.
func Lit(v any) Expr { return &Literal{Value: v} }

// Bin builds a binary expression.
func Bin(op BinaryOp, left, right Expr) Expr { return &Binary{Op: op, Left: left, Right: right} }

// Not negates a boolean expression.
func Not(e Expr) Expr { return &Unary{Op: OpNot, Operand: e} }

// Neg negates a numeric expression.
func Neg(e Expr) Expr { return &Unary{Op: OpNeg, Operand: e} }

// Fn calls a registered function.
func Fn(name string, args ...Expr) Expr { return &Call{Name: name, Args: args} }
