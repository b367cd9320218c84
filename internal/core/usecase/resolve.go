package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
)

type ResolveUseCase struct {
	queue ports.JobQueue
}

func NewResolveUseCase(queue ports.JobQueue) *ResolveUseCase {
	return &ResolveUseCase{queue: queue}
}

// Resolve re-fetches the job from the backend and classifies it. It never
// mutates the record, so callers may poll it as often as they like.
func (uc *ResolveUseCase) Resolve(ctx context.Context, jobID string) (domain.JobView, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.JobView{State: domain.StateNotFound}, nil
	}

	job, err := uc.queue.FetchJob(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrJobNotFound) {
			return domain.JobView{JobID: jobID, State: domain.StateNotFound}, nil
		}
		return domain.JobView{}, fmt.Errorf("fetch job %s: %w", jobID, err)
	}
	return classifyJob(jobID, job), nil
}

func classifyJob(jobID string, job *domain.JobRecord) domain.JobView {
	view := domain.JobView{JobID: jobID}
	switch {
	case job == nil:
		view.State = domain.StateNotFound
	case job.IsFinished():
		view.State = domain.StateFinished
		view.RawResult = job.Result
		view.Meta = job.Meta
	case job.IsFailed():
		view.State = domain.StateFailed
		view.ErrorDetail = job.ExcInfo
	default:
		view.State = domain.StatePending
	}
	return view
}
