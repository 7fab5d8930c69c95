package stream

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tarungka/wiresql/internal/metrics"
)

// Plan-build errors, always wrapped in a *PlanError.
var (
	ErrNilInput       = errors.New("stream: nil input")
	ErrArity          = errors.New("stream: arity mismatch")
	ErrSchemaMismatch = errors.New("stream: schema mismatch")
	ErrNoDestination  = errors.New("stream: no destination")
)

// ErrNullKey is reported for a record whose new key column is null.
var ErrNullKey = errors.New("stream: null key")

// PlanError is returned when an operator cannot be built. It is permanent:
// building the same operator again fails the same way.
type PlanError struct {
	Op  Kind
	Err error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("stream: cannot build %s: %v", e.Op, e.Err)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

func planError(op Kind, err error) error {
	return &PlanError{Op: op, Err: err}
}

// ErrorReporter receives every record an operator drops. identity names the
// record (or payload) without exposing it. Implementations must be safe for
// concurrent use.
type ErrorReporter interface {
	Report(op Kind, identity string, err error)
}

// LogReporter logs dropped records and counts them.
type LogReporter struct {
	logger  zerolog.Logger
	metrics *metrics.QueryMetrics
}

// NewLogReporter returns a reporter writing to logger. m may be nil.
func NewLogReporter(logger zerolog.Logger, m *metrics.QueryMetrics) *LogReporter {
	return &LogReporter{logger: logger, metrics: m}
}

func (r *LogReporter) Report(op Kind, identity string, err error) {
	r.logger.Warn().Err(err).Str("operator", op.String()).Str("record", identity).Msg("dropping record")
	if r.metrics != nil {
		r.metrics.IncrementDropped(op.String())
	}
}
