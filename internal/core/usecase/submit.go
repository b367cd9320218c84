package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
)

type SubmitUseCase struct {
	queue ports.JobQueue
}

func NewSubmitUseCase(queue ports.JobQueue) *SubmitUseCase {
	return &SubmitUseCase{queue: queue}
}

// Submit enqueues an analysis of inputPath and returns the backend-assigned
// job id. The path is trusted; existence is not re-checked here. The call
// does not wait for execution and is not retried on failure.
func (uc *SubmitUseCase) Submit(ctx context.Context, inputPath string) (string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return "", domain.WrapError(domain.ErrValidation, "submit", errors.New("input path is required"))
	}

	jobID, err := uc.queue.Enqueue(ctx, domain.FuncAnalyzeData, inputPath)
	if err != nil {
		if domain.IsKind(err, domain.ErrQueueUnavailable) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrQueueUnavailable, "enqueue analysis", err)
	}
	if jobID == "" {
		return "", fmt.Errorf("enqueue analysis: backend returned empty job id")
	}
	return jobID, nil
}
