package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gemini-backend/internal/metrics"
	"gemini-backend/internal/queue"
	"gemini-backend/internal/repo"
)

// dequeueRetryDelay spaces out retries while the broker is unreachable.
const dequeueRetryDelay = time.Second

// Source is the queue surface the worker consumes from.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Publish(ctx context.Context, job queue.Job, result queue.Result) error
}

// MessageStore persists AI responses into message rows.
type MessageStore interface {
	SetMessageResponse(ctx context.Context, id int64, response string) error
}

// Responder generates a response for user text and never fails; provider
// errors arrive as descriptive response strings.
type Responder interface {
	Generate(ctx context.Context, text string) string
}

// Worker consumes jobs from the queue, asks the AI adapter for a response and
// commits it to the message row. It runs in its own process; the queue is the
// only channel back to the API side.
type Worker struct {
	source      Source
	store       MessageStore
	ai          Responder
	concurrency int
	retryDelay  time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New builds a Worker with the given consumer concurrency.
func New(source Source, store MessageStore, ai Responder, concurrency int, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		source:      source,
		store:       store,
		ai:          ai,
		concurrency: concurrency,
		retryDelay:  dequeueRetryDelay,
		logger:      logger.With("component", "worker"),
		metrics:     m,
	}
}

// Run blocks consuming jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consumeLoop(ctx)
		}()
	}
	wg.Wait()

	w.logger.Info("worker stopped")
	return ctx.Err()
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		job, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			if w.metrics != nil {
				w.metrics.Errors.WithLabelValues("worker").Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}
		w.Process(ctx, *job)
	}
}

// Process handles one job: generate, persist, publish. Re-processing the same
// message id is safe because the persist step is a plain overwrite.
func (w *Worker) Process(ctx context.Context, job queue.Job) {
	response := w.ai.Generate(ctx, job.UserMessage)

	err := w.store.SetMessageResponse(ctx, job.MessageID, response)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// Message deleted while the job was in flight; drop the result.
		w.logger.Info("message gone, discarding result", "message_id", job.MessageID)
		w.count("discarded")
		return
	case err != nil:
		w.logger.Error("persist response failed", "message_id", job.MessageID, "error", err)
		w.count("failed")
		w.publish(ctx, job, queue.Result{MessageID: job.MessageID, Err: err.Error()})
		return
	}

	w.count("ok")
	w.publish(ctx, job, queue.Result{MessageID: job.MessageID, Response: response})
}

func (w *Worker) publish(ctx context.Context, job queue.Job, result queue.Result) {
	// The producer may have timed out and moved on; publishing is best effort.
	if err := w.source.Publish(ctx, job, result); err != nil {
		w.logger.Warn("publish result failed", "message_id", job.MessageID, "error", err)
	}
}

func (w *Worker) count(result string) {
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(result).Inc()
	}
}
