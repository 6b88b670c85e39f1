package jobsredis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iofold/iofold-sub002/pkg/asyncx"
	"github.com/iofold/iofold-sub002/pkg/jobs"
)

const (
	defaultQueueKey = "jobs:queue"

	enqueueAttempts = 3
	enqueueBackoff  = 50 * time.Millisecond
)

// Queue is a Redis list carrying queue messages. It implements both
// jobs.Transport and jobs.Consumer, so the API side and the worker side
// can share one instance. Delivery is at-least-once; the job row claim
// on the consumer side deduplicates.
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue creates a queue over an existing Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: defaultQueueKey}
}

var (
	_ jobs.Transport = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)

// Enqueue pushes a message onto the queue. Transient push failures are
// retried with backoff before the error surfaces to the caller.
func (q *Queue) Enqueue(ctx context.Context, msg jobs.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", msg.JobID)
	}

	_, err = asyncx.RetryWithBackoff(ctx, enqueueAttempts, enqueueBackoff,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, q.rdb.LPush(ctx, q.key, data).Err()
		})
	if err != nil {
		return redisErrors.NewWithCause(ErrEnqueue, err).WithDetail("job_id", msg.JobID)
	}
	return nil
}

// Dequeue blocks until a message is available or the timeout expires.
// Returns (nil, nil) on timeout or context cancellation.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*jobs.QueueMessage, error) {
	result, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // timeout, no message
		}
		if ctx.Err() != nil {
			return nil, nil // context cancelled
		}
		return nil, redisErrors.NewWithCause(ErrDequeue, err)
	}

	// result[0] = key, result[1] = payload
	var msg jobs.QueueMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err)
	}
	return &msg, nil
}
