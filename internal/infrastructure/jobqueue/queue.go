// Package jobqueue is the work-queue backend the web process talks to. Job
// records live in the store; job ids travel to workers through the broker.
package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepMinAge   = 10 * time.Second
	defaultSweepBatch    = 100
)

type Queue struct {
	name   string
	store  ports.JobStore
	broker ports.JobBroker
	now    func() time.Time
	newID  func() string

	sweepInterval time.Duration
	sweepMinAge   time.Duration
	sweepBatch    int
}

// Options tune the consumer-side sweep that picks up queued records the
// broker never delivered. The broker keeps nothing for absent subscribers,
// so ids published while no worker was listening only reach a worker
// through the sweep.
type Options struct {
	SweepInterval time.Duration
	// SweepMinAge keeps the sweep away from ids the broker is still
	// delivering.
	SweepMinAge time.Duration
	SweepBatch  int
}

func New(name string, store ports.JobStore, broker ports.JobBroker) *Queue {
	return NewWithOptions(name, store, broker, Options{})
}

func NewWithOptions(name string, store ports.JobStore, broker ports.JobBroker, options Options) *Queue {
	if name == "" {
		name = "default"
	}
	interval := options.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	minAge := options.SweepMinAge
	if minAge < 0 {
		minAge = 0
	} else if minAge == 0 {
		minAge = defaultSweepMinAge
	}
	batch := options.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Queue{
		name:          name,
		store:         store,
		broker:        broker,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		sweepInterval: interval,
		sweepMinAge:   minAge,
		sweepBatch:    batch,
	}
}

func (q *Queue) Name() string { return q.name }

// Enqueue records the job as queued and then hands its id to the broker, so
// the record always exists before any worker can see the id.
func (q *Queue) Enqueue(ctx context.Context, funcName string, args ...string) (string, error) {
	job := &domain.JobRecord{
		ID:         q.newID(),
		Queue:      q.name,
		FuncName:   funcName,
		Args:       append([]string(nil), args...),
		Status:     domain.JobQueued,
		EnqueuedAt: q.now(),
	}
	if err := q.store.Create(ctx, job); err != nil {
		return "", domain.WrapError(domain.ErrQueueUnavailable, "store job", err)
	}

	if err := q.broker.Publish(ctx, job.ID); err != nil {
		if markErr := q.store.MarkFailed(ctx, job.ID, fmt.Sprintf("enqueue failed: %v", err)); markErr != nil {
			slog.Warn("enqueue_mark_failed_error", "job_id", job.ID, "error", markErr)
		}
		return "", domain.WrapError(domain.ErrQueueUnavailable, "publish job", err)
	}
	return job.ID, nil
}

// FetchJob returns nil, nil when the id was never issued.
func (q *Queue) FetchJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	job, err := q.store.GetByID(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrJobNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	return job, nil
}

// Consume delivers job ids for this queue to handler until ctx is done. Ids
// arrive from the broker subscription and from a periodic sweep of records
// still queued in the store; the claim in MarkStarted keeps a job that shows
// up on both paths from running twice.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, string) error) error {
	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.sweepLoop(sweepCtx, handler)
	}()

	err := q.broker.Subscribe(ctx, handler)
	stopSweep()
	wg.Wait()
	return err
}

// Sweep hands every job that has sat queued for at least the minimum age to
// handler, oldest first, and reports how many ids it dispatched.
func (q *Queue) Sweep(ctx context.Context, handler func(context.Context, string) error) (int, error) {
	ids, err := q.store.ListQueued(ctx, q.name, q.now().Add(-q.sweepMinAge), q.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := handler(ctx, id); err != nil {
			slog.Error("worker_handler_error", "job_id", id, "source", "sweep", "error", err)
		}
	}
	return len(ids), nil
}

func (q *Queue) sweepLoop(ctx context.Context, handler func(context.Context, string) error) {
	q.sweepOnce(ctx, handler)

	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweepOnce(ctx, handler)
		}
	}
}

func (q *Queue) sweepOnce(ctx context.Context, handler func(context.Context, string) error) {
	n, err := q.Sweep(ctx, handler)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("queue_sweep_failed", "queue", q.name, "error", err)
		}
		return
	}
	if n > 0 {
		slog.Info("queue_sweep", "queue", q.name, "jobs", n)
	}
}
