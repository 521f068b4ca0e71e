package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/ec-event-sourcing/internal/bootstrap"
	"github.com/example/ec-event-sourcing/internal/config"
	"github.com/example/ec-event-sourcing/internal/infrastructure/kinesis"
	"github.com/example/ec-event-sourcing/internal/logger"
	"go.uber.org/zap"
)

var (
	stack *bootstrap.Stack
	log   *zap.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Lambda Saga] invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireDurableState(); err != nil {
		fmt.Fprintf(os.Stderr, "[Lambda Saga] invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err = logger.New("lambda-saga", cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Lambda Saga] failed to build logger: %v\n", err)
		os.Exit(1)
	}

	// Events reach this function through the DynamoDB Kinesis integration,
	// so the store itself publishes nothing.
	stack, err = bootstrap.Build(context.Background(), cfg, nil, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	log.Info("initialized successfully")
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.Debug("received records", zap.Int("records", len(kinesisEvent.Records)))

	resp := kinesis.ProcessBatch(ctx, kinesisEvent, stack.Manager.Handle, log)

	log.Info("processed batch",
		zap.Int("records", len(kinesisEvent.Records)),
		zap.Int("failures", len(resp.BatchItemFailures)),
	)
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
