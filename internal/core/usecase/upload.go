package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

type CleanupPolicy string

const (
	// CleanupAfterSubmit removes the stored upload as soon as it has been
	// handed to submission.
	CleanupAfterSubmit CleanupPolicy = "after_submit"
	// CleanupAfterAnalysis leaves removal to the worker once the job ends.
	CleanupAfterAnalysis CleanupPolicy = "after_analysis"
)

func ParseCleanupPolicy(value string) CleanupPolicy {
	if CleanupPolicy(value) == CleanupAfterSubmit {
		return CleanupAfterSubmit
	}
	return CleanupAfterAnalysis
}

type UploadUseCase struct {
	intake  *IntakeUseCase
	submit  *SubmitUseCase
	cleanup CleanupPolicy
}

func NewUploadUseCase(intake *IntakeUseCase, submit *SubmitUseCase, cleanup CleanupPolicy) *UploadUseCase {
	return &UploadUseCase{
		intake:  intake,
		submit:  submit,
		cleanup: cleanup,
	}
}

// Upload persists the file, enqueues its analysis and returns the job id.
func (uc *UploadUseCase) Upload(ctx context.Context, filename string, body io.Reader) (string, error) {
	file, err := uc.intake.Intake(ctx, filename, body)
	if err != nil {
		return "", err
	}
	slog.Debug("upload_persisted", "filename", file.OriginalName, "path", file.StoragePath, "bytes", file.Size)

	jobID, err := uc.submit.Submit(ctx, file.StoragePath)
	if err != nil {
		uc.discard(ctx, file.StoragePath)
		return "", fmt.Errorf("submit analysis: %w", err)
	}

	if uc.cleanup == CleanupAfterSubmit {
		uc.discard(ctx, file.StoragePath)
	}
	return jobID, nil
}

func (uc *UploadUseCase) discard(ctx context.Context, path string) {
	if err := uc.intake.Discard(ctx, path); err != nil {
		slog.Warn("upload_discard_failed", "path", path, "error", err)
	}
}
