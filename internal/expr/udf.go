package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tarungka/wiresql/internal/schema"
)

// Function is a user-defined function callable from an expression.
//
// Evaluate receives arguments already in their runtime representation (see
// Coerce) and may be called from many goroutines at once; an implementation
// must not keep per-call state in its receiver.
type Function interface {
	// ReturnType validates the argument types and returns the result type.
	ReturnType(args []schema.Type) (schema.Type, error)
	Evaluate(args ...any) (any, error)
}

// Factory builds one Function instance. Every call site in an expression
// gets its own instance.
type Factory func() Function

// Registry maps upper-cased function names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in functions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToUpper(name)] = factory
}

// Lookup finds a function by name, ignoring case.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToUpper(name)]
	return f, ok
}

// Names lists the registered functions in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtin adapts a pair of plain functions to Function. Any nil argument
// makes the result nil.
type builtin struct {
	ret func(args []schema.Type) (schema.Type, error)
	fn  func(args []any) (any, error)
}

func (b *builtin) ReturnType(args []schema.Type) (schema.Type, error) {
	return b.ret(args)
}

func (b *builtin) Evaluate(args ...any) (any, error) {
	for _, a := range args {
		if a == nil {
			return nil, nil
		}
	}
	return b.fn(args)
}

func fixed(name string, ret schema.Type, params ...func(schema.Type) bool) func([]schema.Type) (schema.Type, error) {
	return func(args []schema.Type) (schema.Type, error) {
		if len(args) != len(params) {
			return 0, fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrTypeMismatch, name, len(params), len(args))
		}
		for i, ok := range params {
			if args[i] != schema.TypeNull && !ok(args[i]) {
				return 0, fmt.Errorf("%w: %s argument %d cannot be %s", ErrTypeMismatch, name, i+1, args[i])
			}
		}
		return ret, nil
	}
}

func isVarchar(t schema.Type) bool { return t == schema.TypeVarchar }
func isNumeric(t schema.Type) bool { return t.IsNumeric() }
func isIntegral(t schema.Type) bool {
	return t == schema.TypeInteger || t == schema.TypeBigint
}

func stringFn(name string, ret schema.Type, f func(string) any) Factory {
	return func() Function {
		return &builtin{
			ret: fixed(name, ret, isVarchar),
			fn: func(args []any) (any, error) {
				return f(args[0].(string)), nil
			},
		}
	}
}

func registerBuiltins(r *Registry) {
	r.Register("UCASE", stringFn("UCASE", schema.TypeVarchar, func(s string) any { return strings.ToUpper(s) }))
	r.Register("LCASE", stringFn("LCASE", schema.TypeVarchar, func(s string) any { return strings.ToLower(s) }))
	r.Register("TRIM", stringFn("TRIM", schema.TypeVarchar, func(s string) any { return strings.TrimSpace(s) }))
	r.Register("LEN", stringFn("LEN", schema.TypeInteger, func(s string) any { return int32(len([]rune(s))) }))

	r.Register("CONCAT", func() Function {
		return &builtin{
			ret: func(args []schema.Type) (schema.Type, error) {
				if len(args) < 2 {
					return 0, fmt.Errorf("%w: CONCAT takes at least 2 arguments", ErrTypeMismatch)
				}
				for i, a := range args {
					if a != schema.TypeNull && a != schema.TypeVarchar {
						return 0, fmt.Errorf("%w: CONCAT argument %d cannot be %s", ErrTypeMismatch, i+1, a)
					}
				}
				return schema.TypeVarchar, nil
			},
			fn: func(args []any) (any, error) {
				var sb strings.Builder
				for _, a := range args {
					sb.WriteString(a.(string))
				}
				return sb.String(), nil
			},
		}
	})

	// SUBSTRING(s, start[, end]) uses zero based, end exclusive positions,
	// clamped to the string.
	r.Register("SUBSTRING", func() Function {
		return &builtin{
			ret: func(args []schema.Type) (schema.Type, error) {
				if len(args) == 2 {
					return fixed("SUBSTRING", schema.TypeVarchar, isVarchar, isIntegral)(args)
				}
				return fixed("SUBSTRING", schema.TypeVarchar, isVarchar, isIntegral, isIntegral)(args)
			},
			fn: func(args []any) (any, error) {
				runes := []rune(args[0].(string))
				start, err := toInt64(args[1])
				if err != nil {
					return nil, err
				}
				end := int64(len(runes))
				if len(args) == 3 {
					if end, err = toInt64(args[2]); err != nil {
						return nil, err
					}
				}
				start = max(0, min(start, int64(len(runes))))
				end = max(start, min(end, int64(len(runes))))
				return string(runes[start:end]), nil
			},
		}
	})

	r.Register("ABS", func() Function {
		return &builtin{
			ret: func(args []schema.Type) (schema.Type, error) {
				if _, err := fixed("ABS", schema.TypeDouble, isNumeric)(args); err != nil {
					return 0, err
				}
				if args[0] == schema.TypeNull {
					return schema.TypeDouble, nil
				}
				return args[0], nil
			},
			fn: func(args []any) (any, error) {
				switch n := args[0].(type) {
				case int32:
					if n == math.MinInt32 {
						return nil, errOutOfRange
					}
					if n < 0 {
						return -n, nil
					}
					return n, nil
				case int64:
					if n == math.MinInt64 {
						return nil, errOutOfRange
					}
					if n < 0 {
						return -n, nil
					}
					return n, nil
				}
				f, err := toFloat64(args[0])
				if err != nil {
					return nil, err
				}
				return math.Abs(f), nil
			},
		}
	})

	float := func(name string, ret schema.Type, f func(float64) (any, error)) Factory {
		return func() Function {
			return &builtin{
				ret: fixed(name, ret, isNumeric),
				fn: func(args []any) (any, error) {
					x, err := toFloat64(args[0])
					if err != nil {
						return nil, err
					}
					return f(x)
				},
			}
		}
	}
	r.Register("CEIL", float("CEIL", schema.TypeDouble, func(x float64) (any, error) { return math.Ceil(x), nil }))
	r.Register("FLOOR", float("FLOOR", schema.TypeDouble, func(x float64) (any, error) { return math.Floor(x), nil }))
	// ROUND rounds half up and fails when the result does not fit a BIGINT.
	r.Register("ROUND", float("ROUND", schema.TypeBigint, func(x float64) (any, error) {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, errOutOfRange
		}
		return floatToInt64(math.Floor(x + 0.5))
	}))
}
