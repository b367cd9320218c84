package jobqueue

import (
	"context"
	"errors"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/resilience"
)

// RetryingStore retries the worker's terminal writes on transient store
// errors. MarkStarted is passed through untouched: a claim is only ever
// attempted once.
type RetryingStore struct {
	ports.JobStore
	executor *resilience.Executor
}

func NewRetryingStore(store ports.JobStore, executor *resilience.Executor) *RetryingStore {
	return &RetryingStore{JobStore: store, executor: executor}
}

func (s *RetryingStore) MarkFinished(ctx context.Context, id string, result string, meta map[string]string) error {
	return s.executor.Execute(ctx, "store.mark_finished", func(ctx context.Context) error {
		return s.JobStore.MarkFinished(ctx, id, result, meta)
	}, classifyStoreError)
}

func (s *RetryingStore) MarkFailed(ctx context.Context, id string, excInfo string) error {
	return s.executor.Execute(ctx, "store.mark_failed", func(ctx context.Context) error {
		return s.JobStore.MarkFailed(ctx, id, excInfo)
	}, classifyStoreError)
}

func classifyStoreError(err error) resilience.ErrorClassification {
	if domain.IsKind(err, domain.ErrJobNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
