package pipeline

import (
	"context"

	"github.com/tarungka/wiresql/internal/models"
)

// TransformFunc is one stage of a channel pipeline. It owns and closes the
// channel it returns.
type TransformFunc func(ctx context.Context, in <-chan models.KeyedRecord) <-chan models.KeyedRecord

// Map builds a stage applying mapper to every record. Records for which
// mapper returns false are dropped. The stage stops when in is closed or
// ctx is done.
func Map(mapper func(models.KeyedRecord) (models.KeyedRecord, bool), buffer int) TransformFunc {
	return func(ctx context.Context, in <-chan models.KeyedRecord) <-chan models.KeyedRecord {
		out := make(chan models.KeyedRecord, buffer)
		go func() {
			defer close(out)
			for {
				var (
					rec models.KeyedRecord
					ok  bool
				)
				select {
				case <-ctx.Done():
					return
				case rec, ok = <-in:
					if !ok {
						return
					}
				}

				next, keep := mapper(rec)
				if !keep {
					continue
				}
				select {
				case out <- next:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

// Filter builds a stage keeping the records for which keep returns true.
func Filter(keep func(models.KeyedRecord) bool, buffer int) TransformFunc {
	return Map(func(rec models.KeyedRecord) (models.KeyedRecord, bool) {
		return rec, keep(rec)
	}, buffer)
}

// Peek builds a stage calling fn for every record.
func Peek(fn func(models.KeyedRecord), buffer int) TransformFunc {
	return Map(func(rec models.KeyedRecord) (models.KeyedRecord, bool) {
		fn(rec)
		return rec, true
	}, buffer)
}

// Emit returns a channel yielding recs in order, then closed.
func Emit(ctx context.Context, recs ...models.KeyedRecord) <-chan models.KeyedRecord {
	out := make(chan models.KeyedRecord)
	go func() {
		defer close(out)
		for _, rec := range recs {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
