package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

func TestResolveImmediatelyAfterSubmitIsPending(t *testing.T) {
	queue := newMemoryQueueFake()
	jobID, err := NewSubmitUseCase(queue).Submit(context.Background(), "uploads/x.csv")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	view, err := NewResolveUseCase(queue).Resolve(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if view.State != domain.StatePending {
		t.Fatalf("expected pending, got %s", view.State)
	}
	if view.JobID != jobID {
		t.Fatalf("expected job id %s, got %s", jobID, view.JobID)
	}
}

func TestResolveUnknownIDIsNotFound(t *testing.T) {
	uc := NewResolveUseCase(newMemoryQueueFake())
	for _, id := range []string{"never-issued", "", "   "} {
		view, err := uc.Resolve(context.Background(), id)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", id, err)
		}
		if view.State != domain.StateNotFound {
			t.Fatalf("Resolve(%q): expected not found, got %s", id, view.State)
		}
	}
}

func TestResolveTreatsBackendNotFoundErrorAsNotFound(t *testing.T) {
	queue := newMemoryQueueFake()
	queue.fetchErr = domain.WrapError(domain.ErrJobNotFound, "fetch", errors.New("missing"))

	view, err := NewResolveUseCase(queue).Resolve(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if view.State != domain.StateNotFound {
		t.Fatalf("expected not found, got %s", view.State)
	}
}

func TestResolvePropagatesBackendErrors(t *testing.T) {
	queue := newMemoryQueueFake()
	queue.fetchErr = errors.New("connection reset")

	_, err := NewResolveUseCase(queue).Resolve(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolveClassifiesFinishedAndFailed(t *testing.T) {
	ctx := context.Background()
	queue := newMemoryQueueFake()
	finishedID, _ := queue.Enqueue(ctx, domain.FuncAnalyzeData, "a.csv")
	failedID, _ := queue.Enqueue(ctx, domain.FuncAnalyzeData, "b.csv")
	startedID, _ := queue.Enqueue(ctx, domain.FuncAnalyzeData, "c.csv")

	_ = queue.MarkFinished(ctx, finishedID, `[1] "E:/data/results/a.pdf"`, map[string]string{"pages": "2"})
	_ = queue.MarkFailed(ctx, failedID, "Error in read.csv: no lines available")
	_ = queue.MarkStarted(ctx, startedID)

	uc := NewResolveUseCase(queue)

	view, err := uc.Resolve(ctx, finishedID)
	if err != nil {
		t.Fatalf("Resolve(finished) error = %v", err)
	}
	if view.State != domain.StateFinished || view.RawResult != `[1] "E:/data/results/a.pdf"` {
		t.Fatalf("unexpected finished view: %+v", view)
	}
	if view.ErrorDetail != "" {
		t.Fatalf("finished view must not carry error detail")
	}

	view, err = uc.Resolve(ctx, failedID)
	if err != nil {
		t.Fatalf("Resolve(failed) error = %v", err)
	}
	if view.State != domain.StateFailed || view.ErrorDetail != "Error in read.csv: no lines available" {
		t.Fatalf("unexpected failed view: %+v", view)
	}
	if view.RawResult != "" {
		t.Fatalf("failed view must not carry a result")
	}

	view, err = uc.Resolve(ctx, startedID)
	if err != nil {
		t.Fatalf("Resolve(started) error = %v", err)
	}
	if view.State != domain.StatePending {
		t.Fatalf("expected started job to be pending, got %s", view.State)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	queue := newMemoryQueueFake()
	jobID, _ := queue.Enqueue(ctx, domain.FuncAnalyzeData, "a.csv")
	uc := NewResolveUseCase(queue)

	first, err := uc.Resolve(ctx, jobID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		next, err := uc.Resolve(ctx, jobID)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if next.State != first.State || next.RawResult != first.RawResult || next.ErrorDetail != first.ErrorDetail {
			t.Fatalf("resolve changed between calls: %+v vs %+v", first, next)
		}
	}
	if queue.status(jobID) != domain.JobQueued {
		t.Fatalf("resolve must not mutate the job, status=%s", queue.status(jobID))
	}
}

func TestResolveThenNormalizeScenario(t *testing.T) {
	ctx := context.Background()
	queue := newMemoryQueueFake()
	jobID, err := NewSubmitUseCase(queue).Submit(ctx, "uploads/x.csv")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Simulated worker.
	if err := queue.MarkFinished(ctx, jobID, `"E:\data\results\x.pdf"`, nil); err != nil {
		t.Fatalf("MarkFinished() error = %v", err)
	}

	view, err := NewResolveUseCase(queue).Resolve(ctx, jobID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if view.State != domain.StateFinished {
		t.Fatalf("expected finished, got %s", view.State)
	}

	normalized, err := NewResultNormalizer("E:/data", "/media", "E:").Normalize(view.RawResult)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !normalized.Servable() {
		t.Fatalf("expected servable url for %q", normalized.DisplayPath)
	}
	if normalized.ServableURL != "/media/results/x.pdf" {
		t.Fatalf("unexpected servable url %q", normalized.ServableURL)
	}
}
