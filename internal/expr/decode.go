package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/tarungka/wiresql/internal/schema"
)

// Decode converts the generic (JSON or YAML decoded) form of an expression
// into a tree. The accepted shapes are:
//
//	"name"                               column reference
//	5, 1.5, true                         literal
//	{"column": "name"}
//	{"literal": v, "type": "BIGINT"}     type is optional
//	{"op": ">", "args": [a, b]}          binary; "-" with one arg is negation
//	{"not": e}
//	{"is_null": e} / {"is_not_null": e}
//	{"call": "UCASE", "args": [...]}
func Decode(raw any) (Expr, error) {
	switch v := raw.(type) {
	case nil:
		return &Literal{}, nil
	case string:
		return &Column{Name: v}, nil
	case bool, int, int32, int64, float32:
		return &Literal{Value: v}, nil
	case float64:
		return &Literal{Value: normalizeNumber(v)}, nil
	case map[string]any:
		return decodeMap(v)
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[fmt.Sprint(k)] = val
		}
		return decodeMap(m)
	}
	return nil, fmt.Errorf("expr: cannot decode %v (%T)", raw, raw)
}

// normalizeNumber turns integral JSON numbers back into integers so that
// `5` does not compile as DOUBLE.
func normalizeNumber(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return int32(f)
	}
	return f
}

func decodeMap(m map[string]any) (Expr, error) {
	if name, ok := m["column"]; ok {
		s, ok := name.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("expr: column must be a non empty string, got %v", name)
		}
		return &Column{Name: s}, nil
	}

	if val, ok := m["literal"]; ok {
		lit := &Literal{Value: val}
		if f, ok := val.(float64); ok {
			lit.Value = normalizeNumber(f)
		}
		if t, ok := m["type"]; ok {
			typ, err := schema.ParseType(fmt.Sprint(t))
			if err != nil {
				return nil, err
			}
			lit.Type = typ
		}
		return lit, nil
	}

	if operand, ok := m["not"]; ok {
		e, err := Decode(operand)
		if err != nil {
			return nil, err
		}
		return Not(e), nil
	}

	isNull, hasNull := m["is_null"]
	isNotNull, hasNotNull := m["is_not_null"]
	switch {
	case hasNull && hasNotNull:
		return nil, fmt.Errorf("expr: is_null and is_not_null in one object: %v", m)
	case hasNull, hasNotNull:
		operand := isNull
		if hasNotNull {
			operand = isNotNull
		}
		e, err := Decode(operand)
		if err != nil {
			return nil, err
		}
		return &IsNull{Operand: e, Negate: hasNotNull}, nil
	}

	args, err := decodeArgs(m["args"])
	if err != nil {
		return nil, err
	}

	if name, ok := m["call"]; ok {
		return &Call{Name: strings.ToUpper(fmt.Sprint(name)), Args: args}, nil
	}

	if sym, ok := m["op"]; ok {
		s := fmt.Sprint(sym)
		if strings.ToUpper(s) == "NOT" && len(args) == 1 {
			return Not(args[0]), nil
		}
		if s == "-" && len(args) == 1 {
			return Neg(args[0]), nil
		}
		op, err := ParseBinaryOp(s)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("expr: operator %s takes 2 arguments, got %d", op, len(args))
		}
		return Bin(op, args[0], args[1]), nil
	}

	return nil, fmt.Errorf("expr: cannot decode %v", m)
}

func decodeArgs(raw any) ([]Expr, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expr: args must be a list, got %T", raw)
	}
	args := make([]Expr, len(list))
	for i, a := range list {
		e, err := Decode(a)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}
	return args, nil
}
