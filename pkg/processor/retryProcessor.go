// Package processor runs the periodic job that drives business-level
// retries of failed entities.
package processor

import (
	"context"
	"log"
	"time"

	"github.com/zoff-tech/go-eventbus/pkg/config"
	"github.com/zoff-tech/go-eventbus/pkg/pipeline"
)

// RetryProcessor periodically scans storage for retryable failed entities
// and re-attempts their side effect through the RetryController.
type RetryProcessor struct {
	controller   *pipeline.RetryController
	pollInterval time.Duration
	batchSize    int
}

// NewRetryProcessor creates a new instance of RetryProcessor.
func NewRetryProcessor(controller *pipeline.RetryController, cfg *config.Settings) *RetryProcessor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.RetryBatch
	if batch <= 0 {
		batch = 10
	}
	return &RetryProcessor{
		controller:   controller,
		pollInterval: interval,
		batchSize:    batch,
	}
}

// Run blocks until the context is cancelled, retrying one batch per tick.
func (p *RetryProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			succeeded, err := p.controller.RetryEligible(ctx, p.batchSize)
			if err != nil {
				log.Printf("Failed to fetch retryable entities: %v", err)
				continue
			}
			if succeeded > 0 {
				log.Printf("Business retry recovered %d entities", succeeded)
			}
		}
	}
}
