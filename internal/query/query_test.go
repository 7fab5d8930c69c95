package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/metrics"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/serde"
	"github.com/tarungka/wiresql/internal/table"
	"github.com/tarungka/wiresql/stream"
)

// fakeSubscriber serves preloaded channels by topic.
type fakeSubscriber struct {
	topics map[string]chan models.KeyedRecord
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{topics: make(map[string]chan models.KeyedRecord)}
}

// feed loads recs on topic. The topic ends after them when closed is true.
func (s *fakeSubscriber) feed(topic string, closed bool, recs ...models.KeyedRecord) {
	ch := make(chan models.KeyedRecord, len(recs))
	for _, r := range recs {
		ch <- r
	}
	if closed {
		close(ch)
	}
	s.topics[topic] = ch
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, topic string, _ serde.Decoder) (<-chan models.KeyedRecord, error) {
	ch, ok := s.topics[topic]
	if !ok {
		return nil, fmt.Errorf("no topic %s", topic)
	}
	return ch, nil
}

type published struct {
	topic, key string
	value      []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: value})
	return nil
}

func (p *fakePublisher) values() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.key + "=" + string(m.value)
	}
	sort.Strings(out)
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	_, err := c.Add(catalog.EntryConfig{
		Name:   "orders",
		Format: "delimited",
		Fields: []catalog.FieldConfig{
			{Name: "id", Type: "INTEGER"},
			{Name: "customer", Type: "VARCHAR"},
			{Name: "amount", Type: "DOUBLE"},
		},
	})
	require.NoError(t, err)
	_, err = c.Add(catalog.EntryConfig{
		Name:   "customers",
		Kind:   "table",
		Key:    "customer",
		Format: "json",
		Fields: []catalog.FieldConfig{
			{Name: "customer", Type: "VARCHAR"},
			{Name: "tier", Type: "VARCHAR"},
		},
	})
	require.NoError(t, err)
	return c
}

func order(id int32, customer any, amount float64) models.KeyedRecord {
	return models.NewKeyedRecord(fmt.Sprint(id), models.RowOf(id, customer, amount))
}

func waitDone(t *testing.T, q *Query) error {
	t.Helper()
	select {
	case <-q.Done():
		return q.Wait()
	case <-time.After(5 * time.Second):
		t.Fatalf("query %s did not stop", q.ID())
		return nil
	}
}

func TestPlan_Describe(t *testing.T) {
	p, err := NewPlan(Config{
		ID:    "q",
		From:  "orders",
		Where: map[string]any{"op": ">", "args": []any{"amount", 10}},
		Select: []SelectConfig{
			{Name: "id"},
			{Name: "big", Expr: map[string]any{"op": "*", "args": []any{"amount", 2}}},
		},
		PartitionBy: "id",
		Into:        &IntoConfig{Topic: "big_orders"},
	}, testCatalog(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "orders INTO big_orders", p.String())
	assert.Equal(t, "big_orders", p.SinkTopic())
	assert.Equal(t, ""+
		"SINK big_orders (DELIMITED) KEY id\n"+
		"  REKEY KEY id\n"+
		"    PROJECT id AS id, (amount * 2) AS big\n"+
		"      FILTER (amount > 10)\n"+
		"        SOURCE (id INTEGER, customer VARCHAR, amount DOUBLE)", p.Describe())
}

func TestPlan_Errors(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"no source", Config{}, ErrInvalidQuery},
		{"unknown source", Config{From: "nope"}, catalog.ErrNotFound},
		{"reading a table", Config{From: "customers"}, ErrInvalidQuery},
		{"joining a stream", Config{From: "orders", Join: &JoinConfig{Table: "orders", On: "customer"}}, ErrInvalidQuery},
		{"join without key", Config{From: "orders", Join: &JoinConfig{Table: "customers"}}, ErrInvalidQuery},
		{"unknown where column", Config{From: "orders", Where: "nope"}, schema.ErrFieldNotFound},
		{"unnamed expression", Config{From: "orders", Select: []SelectConfig{{Expr: map[string]any{"op": "+", "args": []any{"id", 1}}}}}, ErrInvalidQuery},
		{"unknown partition column", Config{From: "orders", PartitionBy: "nope"}, schema.ErrFieldNotFound},
		{"into without topic", Config{From: "orders", Into: &IntoConfig{}}, ErrInvalidQuery},
		{"into unknown format", Config{From: "orders", Into: &IntoConfig{Topic: "x", Format: "xml"}}, serde.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.cfg, cat, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_FilterProjectSink(t *testing.T) {
	sub := newFakeSubscriber()
	sub.feed("orders", true,
		order(1, "ann", 5),
		order(2, "bob", 50),
		order(3, nil, 70),
		order(4, "ann", 500),
	)
	pub := &fakePublisher{}
	r := NewRegistry(testCatalog(t), sub, pub, WithPartitions(3))

	q, err := r.Start(context.Background(), Config{
		From:  "orders",
		Where: map[string]any{"op": ">", "args": []any{"amount", 10}},
		Select: []SelectConfig{
			{Name: "customer"},
			{Name: "amount"},
		},
		PartitionBy: "customer",
		Into:        &IntoConfig{Topic: "big", Format: "json"},
	})
	require.NoError(t, err)
	assert.Equal(t, "WIRESQL_1", q.ID())

	require.NoError(t, waitDone(t, q))
	assert.Equal(t, StateDone, q.State())
	assert.Equal(t, []string{
		`ann={"customer":"ann","amount":500}`,
		`bob={"customer":"bob","amount":50}`,
	}, pub.values())

	stats := q.Info().Stats
	assert.EqualValues(t, 4, stats.Consumed)
	assert.EqualValues(t, 2, stats.Published)
	// the order without a customer cannot be rekeyed
	assert.EqualValues(t, 1, stats.Dropped)
	assert.EqualValues(t, 1, stats.DropsByOperator["REKEY"])
}

func TestRegistry_LeftJoin(t *testing.T) {
	store := table.NewMemTable()
	require.NoError(t, store.Apply("ann", models.RowOf("ann", "gold")))

	sub := newFakeSubscriber()
	sub.feed("customers", true)
	sub.feed("orders", true, order(1, "ann", 5), order(2, "bob", 6))

	var out bytes.Buffer
	color.NoColor = true
	r := NewRegistry(testCatalog(t), sub, nil,
		WithPrintOutput(&out),
		WithTableFactory(func(name string, s *schema.Schema) (TableStore, error) {
			assert.Equal(t, "customers", name)
			return store, nil
		}),
	)

	q, err := r.Start(context.Background(), Config{
		ID:    "enrich",
		From:  "orders",
		Join:  &JoinConfig{Table: "customers", On: "customer"},
		Print: true,
	})
	require.NoError(t, err)
	require.NoError(t, waitDone(t, q))

	// customer is on both sides so every field is qualified
	assert.Contains(t, q.Plan().Describe(), "LEFT_JOIN customers KEY orders_customer")
	assert.Equal(t, "ann | 1, ann, 5, ann, gold\nbob | 2, bob, 6, null, null\n", out.String())
}

func TestRegistry_Terminate(t *testing.T) {
	sub := newFakeSubscriber()
	sub.feed("orders", false, order(1, "ann", 5))
	r := NewRegistry(testCatalog(t), sub, nil)

	q, err := r.Start(context.Background(), Config{ID: "live", From: "orders"})
	require.NoError(t, err)

	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "live", infos[0].ID)
	assert.Equal(t, StateRunning, infos[0].State)

	_, err = r.Start(context.Background(), Config{ID: "LIVE", From: "orders"})
	assert.ErrorIs(t, err, ErrDuplicateQuery)

	require.Eventually(t, func() bool { return q.Info().Stats.Consumed == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Terminate("LIVE"))
	assert.Equal(t, StateTerminated, q.State())
	assert.Empty(t, r.List())
	// the terminated query left no labeled series behind
	assert.Zero(t, metrics.RecordsConsumed.DeletePartialMatch(prometheus.Labels{"query": "live"}))

	assert.ErrorIs(t, r.Terminate("live"), ErrQueryNotFound)
}

func TestRegistry_StartErrors(t *testing.T) {
	sub := newFakeSubscriber()
	r := NewRegistry(testCatalog(t), sub, nil)

	_, err := r.Start(context.Background(), Config{From: "orders"})
	assert.ErrorContains(t, err, "subscribe orders")

	sub.feed("orders", false)
	_, err = r.Start(context.Background(), Config{From: "orders", Where: "amount"})
	var planErr *stream.PlanError
	require.True(t, errors.As(err, &planErr))
	assert.Equal(t, stream.KindFilter, planErr.Op)
	assert.ErrorIs(t, err, expr.ErrTypeMismatch)

	// failed starts do not leave anything behind
	assert.Empty(t, r.List())
}

func TestRegistry_Close(t *testing.T) {
	sub := newFakeSubscriber()
	sub.feed("orders", false)
	r := NewRegistry(testCatalog(t), sub, nil)

	a, err := r.Start(context.Background(), Config{From: "orders"})
	require.NoError(t, err)
	b, err := r.Start(context.Background(), Config{From: "orders"})
	require.NoError(t, err)
	assert.Equal(t, "WIRESQL_2", b.ID())

	require.NoError(t, r.Close())
	assert.Equal(t, StateTerminated, a.State())
	assert.Equal(t, StateTerminated, b.State())

	_, err = r.Start(context.Background(), Config{From: "orders"})
	assert.ErrorIs(t, err, ErrClosed)
}
