package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/resources"
	"github.com/nova-academy/backend/pkg/queue"
)

// FinalizeProcessor consumes resource finalize jobs: it mirrors the playback
// URL of a processed upload onto the durable resource row. Upload sessions
// expire from the TTL store; this is what makes the linkage permanent.
type FinalizeProcessor struct {
	resources *resources.Repository
	queue     *queue.Queue
	logger    *zap.Logger
}

// NewFinalizeProcessor creates a resource finalize processor.
func NewFinalizeProcessor(repo *resources.Repository, q *queue.Queue, logger *zap.Logger) *FinalizeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinalizeProcessor{resources: repo, queue: q, logger: logger}
}

// Process executes one finalize job.
func (p *FinalizeProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeResourceFinalize {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ResourceFinalizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	err := p.resources.AttachPlayback(ctx, payload.FileKey, payload.FileURL)
	if errors.Is(err, resources.ErrNotFound) {
		// Uploads opened without an entity attachment have no resource row;
		// nothing to mirror.
		p.logger.Info("no resource row for file key, skipping", zap.String("file_key", payload.FileKey))
		return nil
	}
	if err != nil {
		return fmt.Errorf("attach playback: %w", err)
	}

	p.logger.Info("resource finalized", zap.String("file_key", payload.FileKey))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *FinalizeProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("finalize worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
