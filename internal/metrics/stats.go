package metrics

import (
	"sync"
	"sync/atomic"
)

// QueryMetrics holds the counters of one running query. Counters are
// updated atomically from every partition of the query.
type QueryMetrics struct {
	name string
	mu   sync.RWMutex // protects dropsByOperator

	consumed  uint64
	published uint64
	dropped   uint64

	dropsByOperator map[string]uint64
}

// NewQueryMetrics creates a new collector for the query name.
func NewQueryMetrics(name string) *QueryMetrics {
	return &QueryMetrics{
		name:            name,
		dropsByOperator: make(map[string]uint64),
	}
}

// Name returns the query the counters belong to.
func (m *QueryMetrics) Name() string {
	return m.name
}

// IncrementConsumed counts one record read from topic.
func (m *QueryMetrics) IncrementConsumed(topic string) {
	atomic.AddUint64(&m.consumed, 1)
	RecordsConsumed.WithLabelValues(m.name, topic).Inc()
}

// IncrementPublished counts one record written to topic.
func (m *QueryMetrics) IncrementPublished(topic string) {
	atomic.AddUint64(&m.published, 1)
	RecordsPublished.WithLabelValues(m.name, topic).Inc()
}

// IncrementDropped counts one record dropped by operator.
func (m *QueryMetrics) IncrementDropped(operator string) {
	atomic.AddUint64(&m.dropped, 1)
	RecordsDropped.WithLabelValues(m.name, operator).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropsByOperator[operator]++
}

// QueryStats is a snapshot of QueryMetrics.
type QueryStats struct {
	Name            string            `json:"name"`
	Consumed        uint64            `json:"consumed"`
	Published       uint64            `json:"published"`
	Dropped         uint64            `json:"dropped"`
	DropsByOperator map[string]uint64 `json:"drops_by_operator,omitempty"`
}

// GetStats returns a snapshot of the current counters.
func (m *QueryMetrics) GetStats() QueryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	drops := make(map[string]uint64, len(m.dropsByOperator))
	for k, v := range m.dropsByOperator {
		drops[k] = v
	}

	return QueryStats{
		Name:            m.name,
		Consumed:        atomic.LoadUint64(&m.consumed),
		Published:       atomic.LoadUint64(&m.published),
		Dropped:         atomic.LoadUint64(&m.dropped),
		DropsByOperator: drops,
	}
}
