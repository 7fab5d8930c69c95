package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tarungka/wiresql/internal/schema"
)

var (
	errOutOfRange  = errors.New("out of range")
	errNotIntegral = errors.New("not an integral value")
	errUnsupported = errors.New("unsupported value type")
)

// Coerce converts v to the runtime representation of t: bool, int32, int64,
// float64 or string. nil is always returned unchanged.
func Coerce(t schema.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch t {
	case schema.TypeNull:
		return v, nil
	case schema.TypeBoolean:
		out, err = toBool(v)
	case schema.TypeInteger:
		var i int64
		i, err = toInt64(v)
		if err == nil && (i < math.MinInt32 || i > math.MaxInt32) {
			err = errOutOfRange
		}
		out = int32(i)
	case schema.TypeBigint:
		out, err = toInt64(v)
	case schema.TypeDouble:
		out, err = toFloat64(v)
	case schema.TypeVarchar:
		out, err = toString(v)
	default:
		err = fmt.Errorf("unknown type %s", t)
	}
	if err != nil {
		return nil, &CoercionError{Value: v, Target: t, Err: err}
	}
	return out, nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if strings.EqualFold(b, "true") {
			return true, nil
		}
		if strings.EqualFold(b, "false") {
			return false, nil
		}
	}
	return false, errUnsupported
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, errOutOfRange
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errOutOfRange
		}
		return int64(n), nil
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, errUnsupported
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errNotIntegral
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errOutOfRange
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", errUnsupported
}

// Stringify renders a runtime value the way it is used as a record key.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
