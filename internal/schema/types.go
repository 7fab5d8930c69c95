package schema

import (
	"fmt"
	"strings"
)

// Type is the SQL type of a column or expression.
type Type int

const (
	// TypeNull is only ever the type of a bare NULL literal.
	TypeNull Type = iota
	TypeBoolean
	TypeInteger
	TypeBigint
	TypeDouble
	TypeVarchar
)

var typeNames = map[Type]string{
	TypeNull:    "NULL",
	TypeBoolean: "BOOLEAN",
	TypeInteger: "INTEGER",
	TypeBigint:  "BIGINT",
	TypeDouble:  "DOUBLE",
	TypeVarchar: "VARCHAR",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsNumeric reports whether t takes part in arithmetic.
func (t Type) IsNumeric() bool {
	return t == TypeInteger || t == TypeBigint || t == TypeDouble
}

// ParseType maps a SQL type name, including the common aliases, to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BOOLEAN", "BOOL":
		return TypeBoolean, nil
	case "INTEGER", "INT":
		return TypeInteger, nil
	case "BIGINT", "LONG":
		return TypeBigint, nil
	case "DOUBLE", "FLOAT", "REAL":
		return TypeDouble, nil
	case "VARCHAR", "STRING", "TEXT":
		return TypeVarchar, nil
	default:
		return TypeNull, fmt.Errorf("schema: unknown type %q", name)
	}
}

// WiderNumeric returns the numeric type both a and b promote to.
func WiderNumeric(a, b Type) Type {
	switch {
	case a == TypeDouble || b == TypeDouble:
		return TypeDouble
	case a == TypeBigint || b == TypeBigint:
		return TypeBigint
	default:
		return TypeInteger
	}
}
