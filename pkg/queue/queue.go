package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/models"
)

const (
	// QueueActivity is the Redis list key for activity log jobs.
	QueueActivity = "worker:activity"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeActivityLog JobType = "activity_log"
)

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// NewActivityJob wraps an activity entry in a job envelope.
func NewActivityJob(entry models.ActivityLog) (*Job, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeActivityLog,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

// ActivityPayload decodes the activity entry carried by job.
func (j *Job) ActivityPayload() (models.ActivityLog, error) {
	var entry models.ActivityLog
	if j.Type != JobTypeActivityLog {
		return entry, fmt.Errorf("job %s: unexpected type %q", j.ID, j.Type)
	}
	if err := json.Unmarshal(j.Payload, &entry); err != nil {
		return entry, fmt.Errorf("unmarshal activity payload: %w", err)
	}
	return entry, nil
}

// RecordActivity enqueues an activity log entry for the worker to persist.
func (q *Queue) RecordActivity(ctx context.Context, entry models.ActivityLog) error {
	job, err := NewActivityJob(entry)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueActivity, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued activity job",
		zap.String("job_id", job.ID),
		zap.String("session_id", entry.SessionID.String()),
		zap.String("activity_type", entry.ActivityType),
	)
	return nil
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
// A nil job with a nil error means nothing usable was read.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueActivity).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueActivity, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
