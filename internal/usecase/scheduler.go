package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

// Scheduler wires the ticker driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring batches.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline with the provided scheduler. Batch errors are
// logged; an overlapping trigger is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		report, err := s.pipeline.RunBatch(ctx)
		switch {
		case errors.Is(err, domain.ErrRunInProgress):
			s.logger.Info("batch skipped, previous run still active", "trigger", trigger)
		case err != nil:
			s.logger.Error("scheduled batch failed", "trigger", trigger, "run", report.RunID, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
