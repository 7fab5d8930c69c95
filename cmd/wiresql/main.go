package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/logger"
	"github.com/tarungka/wiresql/internal/query"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/table"
	"github.com/tarungka/wiresql/internal/utils"
	"github.com/tarungka/wiresql/server"
	"github.com/tarungka/wiresql/sinks"
	"github.com/tarungka/wiresql/sources"
	"github.com/tarungka/wiresql/stream"
)

var (
	buildString = "unknown"
	ko          = koanf.New(".")
)

func main() {
	if err := initConfig(ko, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if ko.Bool("version") {
		fmt.Println(buildString)
		os.Exit(0)
	}

	if path := ko.String("log-file"); path != "" {
		// logs will be written to both the file and stderr
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()
		logger.SetLogFile(logFile)
	}
	logger.SetDevelopment(ko.Bool("development"))
	log.Logger = logger.GetLogger("wiresql")
	if err := logger.SetLevel(ko.String("log-level")); err != nil {
		log.Warn().Err(err).Msg("unknown log level, keeping the default")
	}
	log.Info().Str("build", buildString).Msg("Starting wiresql")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Err(err).Msg("wiresql stopped with an error")
		os.Exit(1)
	}
	log.Info().Msg("wiresql stopped")
}

func run(ctx context.Context) error {
	cat, err := catalog.Load(ko)
	if err != nil {
		return err
	}
	configs, err := query.LoadConfigs(ko)
	if err != nil {
		return err
	}

	var kafkaConfig sources.KafkaConfig
	if err := ko.Unmarshal("kafka", &kafkaConfig); err != nil {
		return err
	}
	subscriber, err := sources.NewKafkaSource(kafkaConfig, sources.WithBufferSize(ko.Int("buffer")))
	if err != nil {
		return err
	}
	defer subscriber.Close()

	publisher, closePublisher, err := newPublisher(kafkaConfig)
	if err != nil {
		return err
	}
	defer closePublisher()

	opts := []query.RegistryOption{
		query.WithPartitions(ko.Int("partitions")),
		query.WithBufferSize(ko.Int("buffer")),
	}
	if dir := ko.String("state-dir"); dir != "" {
		if utils.PathExists(dir) {
			log.Info().Msgf("Reusing table state in %s", dir)
		}
		db, err := table.OpenBadger(dir)
		if err != nil {
			return fmt.Errorf("opening state in %s: %w", dir, err)
		}
		defer db.Close()
		opts = append(opts, query.WithTableFactory(badgerTables(db)))
	}

	registry := query.NewRegistry(cat, subscriber, publisher, opts...)
	defer registry.Close()

	for _, cfg := range configs {
		q, err := registry.Start(ctx, cfg)
		if err != nil {
			log.Err(err).Str("query", cfg.ID).Msg("error when starting query")
			continue
		}
		log.Debug().Str("query", q.ID()).Msgf("Running query:\n%s", q.Plan().Describe())
	}

	srv := server.New(ctx, ":"+ko.String("port"), registry, cat)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("received interrupt signal; closing queries")
	return nil
}

func newPublisher(kafkaConfig sources.KafkaConfig) (stream.Publisher, func(), error) {
	if dir := ko.String("output-dir"); dir != "" {
		p, err := sinks.NewFilePublisher(dir)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	}
	p, err := sinks.NewKafkaPublisher(sinks.KafkaConfig{
		BootstrapServers: kafkaConfig.BootstrapServers,
		AutoCreateTopics: kafkaConfig.AutoCreateTopics,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Close(ctx); err != nil {
			log.Err(err).Msg("error flushing kafka sink")
		}
	}, nil
}

func badgerTables(db *badger.DB) query.TableFactory {
	return func(name string, s *schema.Schema) (query.TableStore, error) {
		return table.NewBadgerTable(db, name, s), nil
	}
}
