package expr

import (
	"errors"
	"fmt"

	"github.com/tarungka/wiresql/internal/schema"
)

// Plan-build errors. They are permanent and never retried.
var (
	ErrUnknownColumn   = errors.New("expr: unknown column")
	ErrUnknownFunction = errors.New("expr: unknown function")
	ErrTypeMismatch    = errors.New("expr: type mismatch")
)

// Per-record errors.
var (
	ErrDivisionByZero = errors.New("expr: division by zero")
	ErrRowArity       = errors.New("expr: row shorter than schema")
)

// CoercionError is returned when a value cannot be converted to the type a
// column or function declares.
type CoercionError struct {
	Column string // empty when the value is not a column value
	Value  any
	Target schema.Type
	Err    error
}

func (e *CoercionError) Error() string {
	where := ""
	if e.Column != "" {
		where = " for column " + e.Column
	}
	msg := fmt.Sprintf("expr: cannot coerce %v (%T) to %s%s", e.Value, e.Value, e.Target, where)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// EvaluationError wraps any failure raised while evaluating a compiled
// expression against a record, including recovered panics from functions.
type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("expr: evaluating %s: %v", e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
