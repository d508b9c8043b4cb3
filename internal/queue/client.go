package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry = 5
	defaultTimeout  = 3 * time.Minute
)

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Client {
	if maxRetry < 0 {
		maxRetry = defaultMaxRetry
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// EnqueueTransformImage schedules a job once. The job id doubles as the task
// id, so starting a job twice does not queue a second transform.
func (c *Client) EnqueueTransformImage(ctx context.Context, payload TransformImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewTransformImageTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue transform job_id=%s: %w", payload.JobID, err)
	}
	return info, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
