package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ec-event-sourcing/internal/bootstrap"
	"github.com/example/ec-event-sourcing/internal/config"
	"github.com/example/ec-event-sourcing/internal/infrastructure/kafka"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/example/ec-event-sourcing/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New("core", cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting core",
		zap.String("event_store", cfg.EventStoreBackend),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaConsumerGroup),
	)

	// DynamoDB streams its own inserts to Kinesis; other backends publish to Kafka.
	var publisher store.Publisher
	if cfg.EventStoreBackend != config.BackendDynamoDB {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	stack, err := bootstrap.Build(ctx, cfg, publisher, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup,
		kafka.WithConsumerLogger(log),
	)
	defer consumer.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consuming events for sagas", zap.String("topic", cfg.KafkaTopic))
		return consumer.Consume(ctx, stack.Manager.HandleEvent)
	})

	err = g.Wait()
	log.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
