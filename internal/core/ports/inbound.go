package ports

import (
	"context"
	"io"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

// JobSubmitter enqueues an analysis request for an already-persisted input file.
type JobSubmitter interface {
	Submit(ctx context.Context, inputPath string) (string, error)
}

// JobResolver classifies the current backend state of a job.
type JobResolver interface {
	Resolve(ctx context.Context, jobID string) (domain.JobView, error)
}

// ResultNormalizer turns a finished job's raw result into a displayable path.
type ResultNormalizer interface {
	Normalize(raw string) (domain.NormalizedResult, error)
}

// UploadService is the inbound contract for the upload form: intake followed
// by submission.
type UploadService interface {
	Upload(ctx context.Context, filename string, body io.Reader) (string, error)
}

// JobExecutor runs one dequeued job to completion or failure.
type JobExecutor interface {
	Execute(ctx context.Context, jobID string) error
}
