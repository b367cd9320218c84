package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

// JobQueue is the work-queue backend. FetchJob returns nil, nil for unknown ids.
type JobQueue interface {
	Enqueue(ctx context.Context, funcName string, args ...string) (string, error)
	FetchJob(ctx context.Context, jobID string) (*domain.JobRecord, error)
}

// JobConsumer delivers dequeued job ids to the worker. It blocks until ctx is done.
type JobConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, string) error) error
}

// JobStore persists job records for the queue backend.
type JobStore interface {
	Create(ctx context.Context, job *domain.JobRecord) error
	GetByID(ctx context.Context, id string) (*domain.JobRecord, error)
	MarkStarted(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id string, result string, meta map[string]string) error
	MarkFailed(ctx context.Context, id string, excInfo string) error
	// ListQueued returns ids of jobs still queued on queue that were enqueued
	// no later than enqueuedBefore, oldest first.
	ListQueued(ctx context.Context, queue string, enqueuedBefore time.Time, limit int) ([]string, error)
}

// JobBroker dispatches job ids to workers.
type JobBroker interface {
	Publish(ctx context.Context, jobID string) error
	Subscribe(ctx context.Context, handler func(context.Context, string) error) error
}

// ObjectStorage stores uploaded data files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (string, int64, error)
	Remove(ctx context.Context, path string) error
}

// DataPreparer converts an uploaded file into the format the engine reads.
// It returns the path of the prepared file, which may be the input path.
type DataPreparer interface {
	Prepare(ctx context.Context, path string) (string, error)
}

// AnalysisEngine is the external statistical engine. The returned string is
// the engine's printed representation of the generated artifact path.
type AnalysisEngine interface {
	Analyze(ctx context.Context, inputPath, outputDir string) (string, error)
}

// ArtifactInspector reports descriptive metadata about a generated artifact.
type ArtifactInspector interface {
	Inspect(ctx context.Context, path string) (map[string]string, error)
}
