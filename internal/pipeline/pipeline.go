package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/internal/metrics"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/serde"
	"github.com/tarungka/wiresql/stream"
)

// ErrNoPublisher is reported for every record reaching a sink on a stream
// built without a publisher.
var ErrNoPublisher = errors.New("pipeline: no publisher")

// Stream is the local, channel based runtime behind stream.RecordStream.
// Every stage runs on its own goroutine; records of one Stream are
// processed in arrival order.
type Stream struct {
	ctx       context.Context
	out       <-chan models.KeyedRecord
	publisher stream.Publisher
	reporter  stream.ErrorReporter
	metrics   *metrics.QueryMetrics
	buffer    int
}

var _ stream.RecordStream = (*Stream)(nil)

type Option func(*Stream)

// WithPublisher sets where sinks publish.
func WithPublisher(p stream.Publisher) Option {
	return func(s *Stream) {
		s.publisher = p
	}
}

// WithReporter sets where lookup and publish failures are reported.
func WithReporter(r stream.ErrorReporter) Option {
	return func(s *Stream) {
		s.reporter = r
	}
}

// WithMetrics counts published records.
func WithMetrics(m *metrics.QueryMetrics) Option {
	return func(s *Stream) {
		s.metrics = m
	}
}

// WithBufferSize sets the channel buffer of every stage.
func WithBufferSize(n int) Option {
	return func(s *Stream) {
		s.buffer = n
	}
}

// NewStream wraps in. Stages stop when ctx is done.
func NewStream(ctx context.Context, in <-chan models.KeyedRecord, opts ...Option) *Stream {
	s := &Stream{ctx: ctx, out: in}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = stream.NewLogReporter(log.Logger, s.metrics)
	}
	return s
}

func (s *Stream) then(fn TransformFunc) *Stream {
	next := *s
	next.out = fn(s.ctx, s.out)
	return &next
}

// Out returns the channel of records leaving the last stage.
func (s *Stream) Out() <-chan models.KeyedRecord {
	return s.out
}

func (s *Stream) Filter(keep func(models.KeyedRecord) bool) stream.RecordStream {
	return s.then(Filter(keep, s.buffer))
}

func (s *Stream) Map(fn func(models.KeyedRecord) (models.KeyedRecord, bool)) stream.RecordStream {
	return s.then(Map(fn, s.buffer))
}

func (s *Stream) Peek(fn func(models.KeyedRecord)) stream.RecordStream {
	return s.then(Peek(fn, s.buffer))
}

func (s *Stream) LeftJoin(table stream.Table, joiner stream.Joiner) stream.RecordStream {
	reporter := s.reporter
	return s.then(Map(func(rec models.KeyedRecord) (models.KeyedRecord, bool) {
		right, found, err := table.Lookup(rec.Key)
		if err != nil {
			reporter.Report(stream.KindLeftJoin, rec.Identity(), fmt.Errorf("table lookup: %w", err))
			return rec, false
		}
		return joiner(rec, right, found)
	}, s.buffer))
}

// To publishes every record. A record that cannot be encoded or published
// is reported and still passed on.
func (s *Stream) To(destination string, encoder serde.Encoder) stream.RecordStream {
	ctx, publisher, reporter, m := s.ctx, s.publisher, s.reporter, s.metrics
	return s.then(Peek(func(rec models.KeyedRecord) {
		if publisher == nil {
			reporter.Report(stream.KindSink, rec.Identity(), ErrNoPublisher)
			return
		}
		var value []byte
		if !rec.Value.IsZero() {
			var err error
			if value, err = encoder.Encode(rec.Value); err != nil {
				reporter.Report(stream.KindSink, rec.Identity(), err)
				return
			}
		}
		if err := publisher.Publish(ctx, destination, rec.Key, value); err != nil {
			reporter.Report(stream.KindSink, rec.Identity(), fmt.Errorf("publish to %s: %w", destination, err))
			return
		}
		if m != nil {
			m.IncrementPublished(destination)
		}
	}, s.buffer))
}

// Drain consumes every record leaving the stream and returns how many there
// were. It returns when the stream ends or ctx is done.
func (s *Stream) Drain() int {
	n := 0
	for {
		select {
		case <-s.ctx.Done():
			return n
		case _, ok := <-s.out:
			if !ok {
				return n
			}
			n++
		}
	}
}

// Collect is Drain returning the records.
func (s *Stream) Collect() []models.KeyedRecord {
	var recs []models.KeyedRecord
	for {
		select {
		case <-s.ctx.Done():
			return recs
		case rec, ok := <-s.out:
			if !ok {
				return recs
			}
			recs = append(recs, rec)
		}
	}
}
