package push

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const enqueueTimeout = 2 * time.Second

// Enqueuer is the subset of *asynq.Client used by Queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules push tasks.
type Queue struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

// NewQueue creates a push queue over an existing enqueuer.
func NewQueue(client Enqueuer, queue string, maxRetry int) *Queue {
	return &Queue{client: client, queue: queue, maxRetry: maxRetry}
}

// NewRedisClient creates an asynq client from a redis:// URL.
func NewRedisClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// EnqueueMessagePush schedules a push. It waits at most two seconds for the
// broker so a slow queue cannot hold up the caller.
func (q *Queue) EnqueueMessagePush(ctx context.Context, p MessagePushPayload) (string, error) {
	task, err := NewMessagePushTask(p)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue push: %w", err)
	}
	return info.ID, nil
}
