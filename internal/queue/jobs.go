// Package queue defines the asynq task used to hand a finished batch to the
// catalog asynchronously.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// IndexBatchTask is enqueued once per batch that uploaded at least one file.
	IndexBatchTask = "gallery:index"
)

// IndexPayload is serialized into the task so the relay worker knows which
// batch to announce and how many files it holds.
type IndexPayload struct {
	BatchID string `json:"batch_id"`
	Count   int    `json:"count"`
}

// NewIndexTask builds the task without enqueueing it.
func NewIndexTask(payload IndexPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	// The catalog call is never retried automatically.
	return asynq.NewTask(IndexBatchTask, data, asynq.MaxRetry(0)), nil
}

// DecodeIndex reads the payload of an index task.
func DecodeIndex(task *asynq.Task) (IndexPayload, error) {
	var payload IndexPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return IndexPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Enqueuer is the subset of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueIndex enqueues an index job.
func EnqueueIndex(ctx context.Context, client Enqueuer, payload IndexPayload) error {
	task, err := NewIndexTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue index task: %w", err)
	}
	return nil
}
