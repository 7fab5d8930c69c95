// Package sinks publishes query results.
package sinks

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/tarungka/wiresql/internal/logger"
	"github.com/tarungka/wiresql/stream"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrNoBrokers = errors.New("sinks: no bootstrap servers")

// KafkaConfig is the "kafka" section of the configuration as far as
// producing is concerned.
type KafkaConfig struct {
	BootstrapServers []string `koanf:"bootstrap_servers"`
	AutoCreateTopics bool     `koanf:"auto_create_topics"`
}

// producer is the part of *kgo.Client the publisher uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaPublisher publishes to Kafka topics through one shared client.
type KafkaPublisher struct {
	client producer
	logger zerolog.Logger
}

var _ stream.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects to the brokers of cfg.
func NewKafkaPublisher(cfg KafkaConfig, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, ErrNoBrokers
	}
	l := logger.Component("kafka-sink")
	l.Trace().Msg("connecting to kafka cluster as a sink")

	kopts := []kgo.Opt{kgo.SeedBrokers(cfg.BootstrapServers...)}
	if cfg.AutoCreateTopics {
		kopts = append(kopts, kgo.AllowAutoTopicCreation())
	}
	client, err := kgo.NewClient(append(kopts, opts...)...)
	if err != nil {
		l.Err(err).Msg("error when creating a kafka producer")
		return nil, err
	}
	return &KafkaPublisher{client: client, logger: l}, nil
}

// Publish produces one record and waits for the broker to acknowledge it.
// A nil value is produced as a tombstone.
func (k *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	done := make(chan error, 1)
	k.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Err(err).Str("topic", r.Topic).Msg("record had a produce error")
		} else {
			k.logger.Trace().Str("topic", r.Topic).Int64("offset", r.Offset).Msg("successfully produced record")
		}
		done <- err
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes buffered records and disconnects.
func (k *KafkaPublisher) Close(ctx context.Context) error {
	k.logger.Info().Msg("disconnecting kafka sink")
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}
