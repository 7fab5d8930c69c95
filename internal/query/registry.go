package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/expr"
	"github.com/tarungka/wiresql/internal/logger"
	"github.com/tarungka/wiresql/internal/metrics"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/pipeline"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/table"
	"github.com/tarungka/wiresql/stream"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueryNotFound  = errors.New("query: not found")
	ErrDuplicateQuery = errors.New("query: duplicate id")
	ErrClosed         = errors.New("query: registry closed")
)

// State is the lifecycle state of a query.
type State string

const (
	StateRunning    State = "RUNNING"
	StateDone       State = "DONE"
	StateTerminated State = "TERMINATED"
	StateFailed     State = "FAILED"
)

// TableStore holds the rows a join reads.
type TableStore interface {
	stream.Table
	table.Writer
}

// TableFactory creates the store behind the table called name.
type TableFactory func(name string, s *schema.Schema) (TableStore, error)

func memTables(string, *schema.Schema) (TableStore, error) {
	return table.NewMemTable(), nil
}

// Query is one running query.
type Query struct {
	id      string
	plan    *Plan
	metrics *metrics.QueryMetrics
	started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	err        error
	terminated bool
}

func (q *Query) ID() string            { return q.id }
func (q *Query) Plan() *Plan           { return q.plan }
func (q *Query) Done() <-chan struct{} { return q.done }

// State returns the current state of q.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Wait blocks until q stops and returns the error that stopped it, if any.
func (q *Query) Wait() error {
	<-q.done
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Info is the JSON view of a query served by the admin API.
type Info struct {
	ID      string             `json:"id"`
	Query   string             `json:"query"`
	State   State              `json:"state"`
	Started time.Time          `json:"started"`
	Plan    string             `json:"plan"`
	Error   string             `json:"error,omitempty"`
	Stats   metrics.QueryStats `json:"stats"`
}

// Info returns a snapshot of q.
func (q *Query) Info() Info {
	q.mu.Lock()
	defer q.mu.Unlock()
	info := Info{
		ID:      q.id,
		Query:   q.plan.String(),
		State:   q.state,
		Started: q.started,
		Plan:    q.plan.Describe(),
		Stats:   q.metrics.GetStats(),
	}
	if q.err != nil {
		info.Error = q.err.Error()
	}
	return info
}

// Registry starts queries and keeps track of the live ones.
type Registry struct {
	mu      sync.Mutex
	queries map[string]*Query
	seq     int
	closed  bool

	catalog    *catalog.Catalog
	subscriber stream.Subscriber
	publisher  stream.Publisher
	functions  *expr.Registry
	newTable   TableFactory
	partitions int
	buffer     int
	output     io.Writer
	logger     zerolog.Logger
}

type RegistryOption func(*Registry)

// WithFunctions sets the functions queries may call.
func WithFunctions(f *expr.Registry) RegistryOption {
	return func(r *Registry) {
		r.functions = f
	}
}

// WithTableFactory sets how join tables are stored, in memory by default.
func WithTableFactory(f TableFactory) RegistryOption {
	return func(r *Registry) {
		r.newTable = f
	}
}

// WithPartitions sets the default number of partitions per query.
func WithPartitions(n int) RegistryOption {
	return func(r *Registry) {
		r.partitions = n
	}
}

// WithBufferSize sets the channel buffer of every stage.
func WithBufferSize(n int) RegistryOption {
	return func(r *Registry) {
		r.buffer = n
	}
}

// WithPrintOutput sets where printing queries write.
func WithPrintOutput(w io.Writer) RegistryOption {
	return func(r *Registry) {
		r.output = w
	}
}

// NewRegistry creates a registry reading from subscriber and publishing to
// publisher.
func NewRegistry(cat *catalog.Catalog, subscriber stream.Subscriber, publisher stream.Publisher, opts ...RegistryOption) *Registry {
	r := &Registry{
		queries:    make(map[string]*Query),
		catalog:    cat,
		subscriber: subscriber,
		publisher:  publisher,
		newTable:   memTables,
		partitions: 1,
		logger:     logger.Component("query"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// reserve claims an id for a new query, generating one when id is empty.
func (r *Registry) reserve(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	if id == "" {
		for {
			r.seq++
			id = fmt.Sprintf("WIRESQL_%d", r.seq)
			if _, taken := r.queries[strings.ToUpper(id)]; !taken {
				break
			}
		}
	}
	if _, taken := r.queries[strings.ToUpper(id)]; taken {
		return "", fmt.Errorf("%w: %s", ErrDuplicateQuery, id)
	}
	// placeholder until the query is running
	r.queries[strings.ToUpper(id)] = nil
	return id, nil
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queries, strings.ToUpper(id))
}

// Start plans cfg and runs it until ctx is done, the query is terminated
// or its source ends.
func (r *Registry) Start(ctx context.Context, cfg Config) (*Query, error) {
	id, err := r.reserve(cfg.ID)
	if err != nil {
		return nil, err
	}
	cfg.ID = id

	q, err := r.start(ctx, cfg)
	if err != nil {
		r.release(id)
		return nil, err
	}

	r.mu.Lock()
	r.queries[strings.ToUpper(id)] = q
	r.mu.Unlock()
	return q, nil
}

func (r *Registry) start(ctx context.Context, cfg Config) (*Query, error) {
	planOpts := []PlanOption{}
	if r.output != nil {
		planOpts = append(planOpts, WithOutput(r.output))
	}
	plan, err := NewPlan(cfg, r.catalog, r.functions, planOpts...)
	if err != nil {
		return nil, err
	}
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = r.partitions
	}

	m := metrics.NewQueryMetrics(cfg.ID)
	log := r.logger.With().Str("query", cfg.ID).Logger()
	reporter := stream.NewLogReporter(log, m)

	qctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(qctx)

	var store TableStore
	if plan.Table != nil {
		if store, err = r.newTable(plan.Table.Name, plan.Table.Schema); err != nil {
			cancel()
			return nil, fmt.Errorf("table %s: %w", plan.Table.Name, err)
		}
		changelog, err := r.subscriber.Subscribe(gctx, plan.Table.Topic, plan.Table.Decoder)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", plan.Table.Topic, err)
		}
		g.Go(func() error {
			return table.Materialize(gctx, store, changelog)
		})
	}

	in, err := r.subscriber.Subscribe(gctx, plan.Source.Topic, plan.Source.Decoder)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", plan.Source.Topic, err)
	}
	topic := plan.Source.Topic
	in = pipeline.Peek(func(models.KeyedRecord) { m.IncrementConsumed(topic) }, r.buffer)(gctx, in)

	streams := pipeline.Partition(gctx, in, partitions,
		pipeline.WithPublisher(r.publisher),
		pipeline.WithReporter(reporter),
		pipeline.WithMetrics(m),
		pipeline.WithBufferSize(r.buffer),
	)
	outs := make([]*pipeline.Stream, len(streams))
	for i, s := range streams {
		op, err := plan.Build(s, store, stream.WithReporter(reporter))
		if err != nil {
			cancel()
			return nil, err
		}
		outs[i] = op.Records().(*pipeline.Stream)
	}

	q := &Query{
		id:      cfg.ID,
		plan:    plan,
		metrics: m,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateRunning,
	}

	g.Go(func() error {
		n := 0
		for range pipeline.Merge(gctx, outs...) {
			n++
		}
		log.Debug().Int("records", n).Msg("query output ended")
		// the table changelog never ends on its own
		cancel()
		return nil
	})

	metrics.QueriesRunning.Inc()
	log.Info().Str("plan", plan.String()).Int("partitions", partitions).Msg("query started")

	go func() {
		err := g.Wait()
		cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		metrics.QueriesRunning.Dec()

		q.mu.Lock()
		q.err = err
		switch {
		case err != nil:
			q.state = StateFailed
			log.Err(err).Msg("query failed")
		case q.terminated:
			q.state = StateTerminated
		default:
			q.state = StateDone
		}
		q.mu.Unlock()
		log.Info().Str("state", string(q.State())).Msg("query stopped")
		close(q.done)
	}()
	return q, nil
}

// Get returns the query called id.
func (r *Registry) Get(id string) (*Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queries[strings.ToUpper(id)]
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, id)
	}
	return q, nil
}

// List returns a snapshot of every query, sorted by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	queries := make([]*Query, 0, len(r.queries))
	for _, q := range r.queries {
		if q != nil {
			queries = append(queries, q)
		}
	}
	r.mu.Unlock()

	infos := make([]Info, len(queries))
	for i, q := range queries {
		infos[i] = q.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Terminate stops the query called id, waits for it and forgets it.
func (r *Registry) Terminate(id string) error {
	q, err := r.Get(id)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.terminated = true
	q.mu.Unlock()
	q.cancel()
	<-q.done

	r.release(id)
	metrics.Forget(q.id)
	return nil
}

// Close terminates every query. Start fails once Close has been called.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.queries))
	for _, q := range r.queries {
		if q != nil {
			ids = append(ids, q.id)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Terminate(id); err != nil && !errors.Is(err, ErrQueryNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
