package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQueryMetrics_Concurrent(t *testing.T) {
	m := NewQueryMetrics("stats_test")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementConsumed("in")
				m.IncrementPublished("out")
				if j%10 == 0 {
					m.IncrementDropped("FILTER")
				}
			}
		}()
	}
	wg.Wait()

	stats := m.GetStats()
	assert.Equal(t, "stats_test", stats.Name)
	assert.Equal(t, uint64(1000), stats.Consumed)
	assert.Equal(t, uint64(1000), stats.Published)
	assert.Equal(t, uint64(100), stats.Dropped)
	assert.Equal(t, map[string]uint64{"FILTER": 100}, stats.DropsByOperator)

	assert.Equal(t, 1000.0, testutil.ToFloat64(RecordsConsumed.WithLabelValues("stats_test", "in")))
	assert.Equal(t, 100.0, testutil.ToFloat64(RecordsDropped.WithLabelValues("stats_test", "FILTER")))
}

func TestQueryMetrics_SnapshotIsACopy(t *testing.T) {
	m := NewQueryMetrics("snapshot_test")
	m.IncrementDropped("PROJECT")

	stats := m.GetStats()
	stats.DropsByOperator["PROJECT"] = 99

	assert.Equal(t, uint64(1), m.GetStats().DropsByOperator["PROJECT"])
}

func TestForget(t *testing.T) {
	gone := NewQueryMetrics("forget_gone")
	kept := NewQueryMetrics("forget_kept")
	for _, m := range []*QueryMetrics{gone, kept} {
		m.IncrementConsumed("in")
		m.IncrementPublished("out")
		m.IncrementDropped("PROJECT")
	}

	Forget("forget_gone")

	labels := prometheus.Labels{"query": "forget_gone"}
	assert.Zero(t, RecordsConsumed.DeletePartialMatch(labels))
	assert.Zero(t, RecordsPublished.DeletePartialMatch(labels))
	assert.Zero(t, RecordsDropped.DeletePartialMatch(labels))
	assert.Equal(t, 1.0, testutil.ToFloat64(RecordsConsumed.WithLabelValues("forget_kept", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RecordsDropped.WithLabelValues("forget_kept", "PROJECT")))
}
