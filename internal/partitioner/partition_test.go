package partitioner

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiresql/internal/models"
)

func TestHashFnv_Stable(t *testing.T) {
	a, err := HashFnv([]byte("orders"))
	require.NoError(t, err)
	b, err := HashFnv([]byte("orders"))
	require.NoError(t, err)
	c, err := HashFnv([]byte("orders2"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPartitionData_SameKeySamePartition(t *testing.T) {
	in := make(chan models.KeyedRecord)
	p := NewPartitioner[models.KeyedRecord](4, HashKey, WithBufferSize[models.KeyedRecord](0))
	outs := p.PartitionData(in)
	require.Len(t, outs, 4)

	go func() {
		defer close(in)
		for i := 0; i < 200; i++ {
			in <- models.NewKeyedRecord(fmt.Sprintf("k%d", i%10), models.RowOf(i))
		}
	}()

	var (
		mu    sync.Mutex
		seen  = make(map[string]int)
		total int
		wg    sync.WaitGroup
	)
	for i, ch := range outs {
		wg.Add(1)
		go func(i int, ch <-chan models.KeyedRecord) {
			defer wg.Done()
			for rec := range ch {
				mu.Lock()
				if prev, ok := seen[rec.Key]; ok {
					assert.Equal(t, prev, i, "key %s moved partitions", rec.Key)
				}
				seen[rec.Key] = i
				total++
				mu.Unlock()
			}
		}(i, ch)
	}
	wg.Wait()

	assert.Equal(t, 200, total)
	assert.Len(t, seen, 10)
}

func TestPartitionData_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)
	p := NewPartitioner[int](2, func(i int) (uint64, error) { return uint64(i), nil }, WithContext[int](ctx))
	outs := p.PartitionData(in)

	cancel()
	for _, ch := range outs {
		for range ch {
		}
	}
	assert.Equal(t, 2, p.Partitions())
}
