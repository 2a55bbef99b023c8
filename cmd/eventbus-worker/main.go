package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zoff-tech/go-eventbus/pkg/broker"
	"github.com/zoff-tech/go-eventbus/pkg/config"
	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/pipeline"
	"github.com/zoff-tech/go-eventbus/pkg/processor"
	"github.com/zoff-tech/go-eventbus/pkg/store"
	"github.com/zoff-tech/go-eventbus/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.Load("./cmd/eventbus-worker")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	// Apply schema migrations for the postgres backend
	if cfg.Database.Type == "postgres" {
		if err := store.MigratePostgres(cfg.Database.DSN); err != nil {
			log.Fatal("Failed to run migrations: ", err)
		}
	}

	// Initialize the entity repository
	repo, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize repository: ", err)
	}

	// Initialize the publisher for follow-up events
	publisher, err := broker.NewPublisher(ctx, &cfg.Broker)
	if err != nil {
		log.Fatal("Failed to initialize publisher: ", err)
	}
	defer publisher.Close()

	// Side-effect ports. Real services substitute their own providers;
	// these reference implementations announce payment outcomes on the
	// bus and log notification sends.
	charge := newChargeProvider(publisher)
	notify := &notifyProvider{}

	dispatcher := &pipeline.Dispatcher{
		Payments:      pipeline.NewProcessor(repo, charge, entity.KindPayment, "card"),
		Orders:        pipeline.NewProcessor(repo, notify, entity.KindOrder, "order-status"),
		Notifications: pipeline.NewProcessor(repo, notify, entity.KindNotification, "email"),
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = entity.MaxRetries
	}

	consumer := broker.NewConsumer(cfg.Broker, cfg.Consumer, maxRetries, dispatcher)
	defer consumer.Close()

	// Business-level retry of failed entities, independent of message
	// redelivery.
	retryController := pipeline.NewRetryController(repo, notify)
	retryProcessor := processor.NewRetryProcessor(retryController, cfg)
	go func() {
		if err := retryProcessor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Retry processor stopped: %v", err)
		}
	}()

	// Blocks until the context is cancelled by a signal
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Consumer stopped: ", err)
	}
}
