// Package sources subscribes the runtime to the topics queries read.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/internal/logger"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/serde"
	"github.com/tarungka/wiresql/stream"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrNoBrokers = errors.New("sources: no bootstrap servers")

// KafkaConfig is the "kafka" section of the configuration.
type KafkaConfig struct {
	BootstrapServers []string `koanf:"bootstrap_servers"`
	// Group is the consumer group prefix. Without one every subscription
	// reads its topic from the start and commits nothing.
	Group            string `koanf:"group"`
	AutoCreateTopics bool   `koanf:"auto_create_topics"`
}

// KafkaSource subscribes to Kafka topics with one client per
// subscription.
type KafkaSource struct {
	config   KafkaConfig
	reporter stream.ErrorReporter
	buffer   int
	logger   zerolog.Logger

	mu      sync.Mutex
	seq     int
	clients map[*kgo.Client]struct{}
	opts    []kgo.Opt
}

var _ stream.Subscriber = (*KafkaSource)(nil)

type Option func(*KafkaSource)

// WithReporter sets where undecodable records are reported.
func WithReporter(r stream.ErrorReporter) Option {
	return func(k *KafkaSource) {
		k.reporter = r
	}
}

// WithBufferSize sets the buffer of every subscription channel.
func WithBufferSize(n int) Option {
	return func(k *KafkaSource) {
		k.buffer = n
	}
}

// WithClientOpts adds options to every client created.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(k *KafkaSource) {
		k.opts = append(k.opts, opts...)
	}
}

// NewKafkaSource validates cfg. No connection is made until Subscribe.
func NewKafkaSource(cfg KafkaConfig, opts ...Option) (*KafkaSource, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, ErrNoBrokers
	}
	k := &KafkaSource{
		config:  cfg,
		buffer:  5,
		logger:  logger.Component("kafka-source"),
		clients: make(map[*kgo.Client]struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.reporter == nil {
		k.reporter = stream.NewLogReporter(k.logger, nil)
	}
	return k, nil
}

func (k *KafkaSource) clientOpts(topic string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(k.config.BootstrapServers...),
		kgo.ConsumeTopics(topic),
	}
	if k.config.AutoCreateTopics {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	if k.config.Group != "" {
		k.mu.Lock()
		k.seq++
		// queries reading the same topic must not share partitions
		group := fmt.Sprintf("%s-%s-%d", k.config.Group, topic, k.seq)
		k.mu.Unlock()
		opts = append(opts, kgo.ConsumerGroup(group))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}
	return append(opts, k.opts...)
}

// Subscribe starts consuming topic. Every record is decoded with decoder;
// a record with no value is passed on as a tombstone. Records that cannot
// be decoded are reported and skipped. The returned channel is closed when
// ctx is done.
func (k *KafkaSource) Subscribe(ctx context.Context, topic string, decoder serde.Decoder) (<-chan models.KeyedRecord, error) {
	client, err := kgo.NewClient(k.clientOpts(topic)...)
	if err != nil {
		k.logger.Err(err).Str("topic", topic).Msg("error when creating a kafka consumer")
		return nil, err
	}
	k.mu.Lock()
	k.clients[client] = struct{}{}
	k.mu.Unlock()

	out := make(chan models.KeyedRecord, k.buffer)
	go func() {
		defer func() {
			close(out)
			// Close may already have taken the client
			k.mu.Lock()
			_, owned := k.clients[client]
			delete(k.clients, client)
			k.mu.Unlock()
			if owned {
				client.Close()
			}
			k.logger.Trace().Str("topic", topic).Msg("done reading from the kafka source")
		}()
		k.consume(ctx, client, decoder, out)
	}()
	return out, nil
}

func (k *KafkaSource) consume(ctx context.Context, client *kgo.Client, decoder serde.Decoder, out chan<- models.KeyedRecord) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(t string, p int32, err error) {
			// retriable errors are retried by the client, these are not
			k.logger.Err(err).Str("topic", t).Int32("partition", p).Msg("fetch error")
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec, ok := k.decode(iter.Next(), decoder)
			if !ok {
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

// RecordIdentity names a Kafka record as topic/partition@offset.
func RecordIdentity(r *kgo.Record) string {
	return fmt.Sprintf("%s/%d@%d", r.Topic, r.Partition, r.Offset)
}

func (k *KafkaSource) decode(r *kgo.Record, decoder serde.Decoder) (models.KeyedRecord, bool) {
	if r.Value == nil {
		return models.NewKeyedRecord(string(r.Key), models.Row{}), true
	}
	row, err := decoder.Decode(r.Value)
	if err != nil {
		k.reporter.Report(stream.KindSource, RecordIdentity(r), serde.WithIdentity(err, RecordIdentity(r)))
		return models.KeyedRecord{}, false
	}
	return models.NewKeyedRecord(string(r.Key), row), true
}

// Close stops every open subscription.
func (k *KafkaSource) Close() {
	k.mu.Lock()
	clients := k.clients
	k.clients = make(map[*kgo.Client]struct{})
	k.mu.Unlock()

	for client := range clients {
		client.Close()
	}
	log.Trace().Int("clients", len(clients)).Msg("closed kafka source")
}
