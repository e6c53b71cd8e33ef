package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gemini-backend/internal/cache"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTimedOut is returned when no worker result arrived within the wait
// ceiling. The job itself is not cancelled; a worker may still complete and
// persist its result afterwards.
var ErrTimedOut = errors.New("timed out waiting for job result")

// resultTTL bounds how long an unclaimed result lingers in the broker after
// the producer has given up on it.
const resultTTL = 2 * time.Minute

// Job is the wire payload placed on the work queue. It is ephemeral: if lost,
// the message row simply keeps an unset response.
type Job struct {
	MessageID   int64  `json:"message_id"`
	UserMessage string `json:"user_message"`
	ResultKey   string `json:"result_key"`
}

// Result is what a worker publishes back on the job's result key.
type Result struct {
	MessageID int64  `json:"message_id"`
	Response  string `json:"response"`
	Err       string `json:"error,omitempty"`
}

// Queue is a durable Redis-backed work queue shared between the API process
// and the worker processes. It is the sole concurrency boundary between them.
type Queue struct {
	redis  *cache.Redis
	key    string
	logger *slog.Logger
}

// New creates a queue over the given Redis list key.
func New(r *cache.Redis, key string, logger *slog.Logger) *Queue {
	return &Queue{
		redis:  r,
		key:    key,
		logger: logger.With("component", "queue"),
	}
}

// Handle lets the producer await the result of an enqueued job.
type Handle struct {
	q         *Queue
	resultKey string
}

// Enqueue pushes a job onto the queue and returns a handle for awaiting its
// result.
func (q *Queue) Enqueue(ctx context.Context, messageID int64, userMessage string) (*Handle, error) {
	job := Job{
		MessageID:   messageID,
		UserMessage: userMessage,
		ResultKey:   "gemini:result:" + uuid.NewString(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.redis.Client().RPush(ctx, q.key, payload).Err(); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return &Handle{q: q, resultKey: job.ResultKey}, nil
}

// Await blocks until a worker publishes a result or the wall-clock timeout
// expires, whichever comes first.
func (h *Handle) Await(ctx context.Context, timeout time.Duration) (*Result, error) {
	res, err := h.q.redis.Client().BLPop(ctx, timeout, h.resultKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTimedOut
		}
		return nil, fmt.Errorf("await result: %w", err)
	}
	var out Result
	if err := json.Unmarshal([]byte(res[1]), &out); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &out, nil
}

// Dequeue blocks until a job is available or ctx is cancelled. Malformed
// payloads are logged and skipped rather than poisoning the consumer loop.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		res, err := q.redis.Client().BLPop(ctx, 0, q.key).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue job: %w", err)
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Warn("dropping malformed job payload", "error", err)
			continue
		}
		return &job, nil
	}
}

// Publish pushes the job's result onto its result key. The key expires after
// resultTTL in case the producer already returned a degraded record.
func (q *Queue) Publish(ctx context.Context, job Job, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	pipe := q.redis.Client().TxPipeline()
	pipe.LPush(ctx, job.ResultKey, payload)
	pipe.Expire(ctx, job.ResultKey, resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}
