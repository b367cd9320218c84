package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
)

// terminalWriteTimeout bounds the status write that closes a job once the
// job context is gone.
const terminalWriteTimeout = 30 * time.Second

// JobFunc is a function a job record can reference by name.
type JobFunc func(ctx context.Context, args []string) (string, map[string]string, error)

// ExecutionObserver receives worker-side measurements.
type ExecutionObserver interface {
	StartJob()
	FinishJob(duration time.Duration, err error)
	ObserveQueueLag(lag time.Duration)
}

type ExecuteUseCase struct {
	store    ports.JobStore
	funcs    map[string]JobFunc
	storage  ports.ObjectStorage
	cleanup  CleanupPolicy
	observer ExecutionObserver
	now      func() time.Time
}

func NewExecuteUseCase(store ports.JobStore, storage ports.ObjectStorage, cleanup CleanupPolicy, observer ExecutionObserver) *ExecuteUseCase {
	return &ExecuteUseCase{
		store:    store,
		funcs:    make(map[string]JobFunc),
		storage:  storage,
		cleanup:  cleanup,
		observer: observer,
		now:      time.Now,
	}
}

func (uc *ExecuteUseCase) Register(name string, fn JobFunc) {
	uc.funcs[name] = fn
}

// Execute runs the job identified by jobID. Jobs already in a terminal state
// are skipped, so a redelivered id is never run twice.
func (uc *ExecuteUseCase) Execute(ctx context.Context, jobID string) error {
	job, err := uc.store.GetByID(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrJobNotFound) {
			slog.Warn("job_dropped", "job_id", jobID, "reason", "unknown job id")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() || job.Status == domain.JobStarted {
		slog.Info("job_skipped", "job_id", jobID, "status", job.Status)
		return nil
	}

	fn, ok := uc.funcs[job.FuncName]
	if !ok {
		detail := fmt.Sprintf("unknown function %q", job.FuncName)
		writeCtx, cancelWrite := terminalContext(ctx)
		defer cancelWrite()
		if err := uc.store.MarkFailed(writeCtx, jobID, detail); err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		return domain.WrapError(domain.ErrJobFailed, "dispatch job", errors.New(detail))
	}

	if err := uc.store.MarkStarted(ctx, jobID); err != nil {
		if domain.IsKind(err, domain.ErrJobNotFound) {
			slog.Info("job_skipped", "job_id", jobID, "reason", "claimed by another worker")
			return nil
		}
		return fmt.Errorf("mark job started: %w", err)
	}

	start := uc.now()
	if uc.observer != nil {
		uc.observer.ObserveQueueLag(start.Sub(job.EnqueuedAt))
		uc.observer.StartJob()
	}
	slog.Info("job_started", "job_id", jobID, "func", job.FuncName)

	result, meta, runErr := fn(ctx, job.Args)
	duration := uc.now().Sub(start)
	if uc.observer != nil {
		uc.observer.FinishJob(duration, runErr)
	}

	// A worker shutdown cancels ctx mid-run; the outcome is still recorded.
	writeCtx, cancelWrite := terminalContext(ctx)
	defer cancelWrite()
	defer uc.removeInput(writeCtx, job)

	if runErr != nil {
		slog.Error("job_failed", "job_id", jobID, "func", job.FuncName, "duration_ms", duration.Milliseconds(), "error", runErr)
		if err := uc.store.MarkFailed(writeCtx, jobID, formatExcInfo(job, runErr)); err != nil {
			return fmt.Errorf("%w; mark failed status: %v", runErr, err)
		}
		return domain.WrapError(domain.ErrJobFailed, job.FuncName, runErr)
	}

	if err := uc.store.MarkFinished(writeCtx, jobID, result, meta); err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}
	slog.Info("job_finished", "job_id", jobID, "func", job.FuncName, "duration_ms", duration.Milliseconds())
	return nil
}

func (uc *ExecuteUseCase) removeInput(ctx context.Context, job *domain.JobRecord) {
	if uc.cleanup != CleanupAfterAnalysis || uc.storage == nil {
		return
	}
	input := job.InputPath()
	if input == "" {
		return
	}
	if err := uc.storage.Remove(ctx, input); err != nil {
		slog.Warn("job_input_cleanup_failed", "job_id", job.ID, "path", input, "error", err)
	}
}

func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func formatExcInfo(job *domain.JobRecord, err error) string {
	return fmt.Sprintf("%s(%q) raised: %v", job.FuncName, job.Args, err)
}

// AnalyzeDataFunc adapts the analysis engine to the JobFunc signature. The
// engine output goes under outputDir; the artifact is inspected on a
// best-effort basis and failures there never fail the job.
func AnalyzeDataFunc(engine ports.AnalysisEngine, inspector ports.ArtifactInspector, outputDir string) JobFunc {
	return func(ctx context.Context, args []string) (string, map[string]string, error) {
		if len(args) == 0 || args[0] == "" {
			return "", nil, errors.New("analyze_data: input path argument is missing")
		}
		result, err := engine.Analyze(ctx, args[0], outputDir)
		if err != nil {
			return "", nil, err
		}

		meta := map[string]string{"input": filepath.Base(args[0])}
		if inspector == nil {
			return result, meta, nil
		}
		artifact, _ := NormalizeResult(result, "", "", "")
		info, err := inspector.Inspect(ctx, artifact.DisplayPath)
		if err != nil {
			slog.Debug("artifact_inspect_skipped", "path", artifact.DisplayPath, "error", err)
			return result, meta, nil
		}
		for k, v := range info {
			meta[k] = v
		}
		return result, meta, nil
	}
}
