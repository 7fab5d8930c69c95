package pipeline

import (
	"context"
	"sync"

	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/partitioner"
)

// Partition splits in by record key into n streams sharing opts. Records
// with the same key always land in the same stream, in arrival order.
func Partition(ctx context.Context, in <-chan models.KeyedRecord, n int, opts ...Option) []*Stream {
	p := partitioner.NewPartitioner[models.KeyedRecord](n, partitioner.HashKey,
		partitioner.WithContext[models.KeyedRecord](ctx))
	p.Examine()

	channels := p.PartitionData(in)
	streams := make([]*Stream, len(channels))
	for i, ch := range channels {
		streams[i] = NewStream(ctx, ch, opts...)
	}
	return streams
}

// Merge fans the outputs of streams into one channel, closed once all of
// them are.
func Merge(ctx context.Context, streams ...*Stream) <-chan models.KeyedRecord {
	out := make(chan models.KeyedRecord)
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(in <-chan models.KeyedRecord) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case rec, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- rec:
					case <-ctx.Done():
						return
					}
				}
			}
		}(s.Out())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
