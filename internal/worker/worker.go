package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/pkg/queue"
)

// dequeueTimeout bounds each BLPOP so the loop notices cancellation.
const dequeueTimeout = 5 * time.Second

// JobSource is the queue side the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ActivityStore persists drained activity entries.
type ActivityStore interface {
	RecordActivity(ctx context.Context, entry models.ActivityLog) error
}

// ActivityProcessor drains activity log jobs from Redis into PostgreSQL.
type ActivityProcessor struct {
	store   ActivityStore
	queue   JobSource
	logger  *zap.Logger
	backoff time.Duration
}

// NewActivityProcessor creates an activity log processor.
func NewActivityProcessor(store ActivityStore, q JobSource, logger *zap.Logger) *ActivityProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityProcessor{store: store, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one activity log job.
func (p *ActivityProcessor) Process(ctx context.Context, job *queue.Job) error {
	entry, err := job.ActivityPayload()
	if err != nil {
		return err
	}
	if err := p.store.RecordActivity(ctx, entry); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	p.logger.Debug("activity persisted",
		zap.String("job_id", job.ID),
		zap.String("session_id", entry.SessionID.String()),
		zap.String("activity_type", entry.ActivityType),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *ActivityProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("activity worker stopping")
			return
		}

		job, _, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ActivityProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
