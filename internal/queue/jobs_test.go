package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func TestEnqueueIndex(t *testing.T) {
	client := &recordingClient{}
	require.NoError(t, EnqueueIndex(context.Background(), client, IndexPayload{BatchID: "b1", Count: 3}))
	require.Len(t, client.tasks, 1)
	assert.Equal(t, IndexBatchTask, client.tasks[0].Type())

	payload, err := DecodeIndex(client.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, IndexPayload{BatchID: "b1", Count: 3}, payload)
}

func TestEnqueueIndexError(t *testing.T) {
	client := &recordingClient{err: errors.New("redis down")}
	err := EnqueueIndex(context.Background(), client, IndexPayload{BatchID: "b1", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestDecodeIndexRejectsGarbage(t *testing.T) {
	_, err := DecodeIndex(asynq.NewTask(IndexBatchTask, []byte("{")))
	assert.Error(t, err)
}
