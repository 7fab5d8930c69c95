package partitioner

import (
	"context"

	"github.com/rs/zerolog/log"
)

type Partitioner[T any] struct {
	// Number of partitions
	partitions int
	// Hashing function
	hashFn func(T) (uint64, error)
	// Buffer size of every partitioned channel
	bufferSize int
	// Context, closing it stops the fan out
	ctx context.Context
}

type PartitionerOption[T any] func(*Partitioner[T])

// PartitionData fans dataChannel out to one channel per partition. Values
// whose hash fails go to partition 0. Every output channel is closed once
// dataChannel is drained or the context is done.
func (p *Partitioner[T]) PartitionData(dataChannel <-chan T) []chan T {
	partitionedChannels := make([]chan T, p.partitions)

	for i := 0; i < p.partitions; i++ {
		partitionedChannels[i] = make(chan T, p.bufferSize)
	}

	go func() {
		defer func() {
			for _, ch := range partitionedChannels {
				close(ch)
			}
		}()

		for {
			var (
				data T
				ok   bool
			)
			select {
			case <-p.ctx.Done():
				return
			case data, ok = <-dataChannel:
				if !ok {
					return
				}
			}

			var partition uint64
			hashedValue, err := p.hashFn(data)
			if err != nil {
				log.Err(err).Msg("Error when hashing the record, using partition 0")
			} else {
				partition = hashedValue % uint64(p.partitions)
			}

			select {
			case partitionedChannels[partition] <- data:
			case <-p.ctx.Done():
				return
			}
		}
	}()

	return partitionedChannels
}

// Partitions returns the number of partitions.
func (p *Partitioner[T]) Partitions() int {
	return p.partitions
}

func (p *Partitioner[T]) Examine() {
	log.Debug().Int("partitions", p.partitions).Int("bufferSize", p.bufferSize).Msg("partitioner")
}

func WithBufferSize[T any](size int) PartitionerOption[T] {
	return func(p *Partitioner[T]) {
		p.bufferSize = size
	}
}

func WithContext[T any](ctx context.Context) PartitionerOption[T] {
	return func(p *Partitioner[T]) {
		p.ctx = ctx
	}
}

// Partitioner factory function
func NewPartitioner[T any](partitions int, hashFn func(T) (uint64, error), opts ...PartitionerOption[T]) *Partitioner[T] {
	if partitions < 1 {
		partitions = 1
	}

	// Create a default partitioner with basic values
	p := &Partitioner[T]{
		partitions: partitions,
		hashFn:     hashFn,
		bufferSize: 100,                  // Default buffer size
		ctx:        context.Background(), // Default context
	}

	// Apply any optional configurations
	for _, opt := range opts {
		opt(p)
	}

	return p
}
