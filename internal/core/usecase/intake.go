package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
)

var defaultAllowedExtensions = []string{".csv", ".tsv", ".txt", ".xlsx"}

type IntakeUseCase struct {
	storage    ports.ObjectStorage
	preparer   ports.DataPreparer
	extensions map[string]struct{}
}

func NewIntakeUseCase(storage ports.ObjectStorage, preparer ports.DataPreparer, allowedExtensions []string) *IntakeUseCase {
	if len(allowedExtensions) == 0 {
		allowedExtensions = defaultAllowedExtensions
	}
	extensions := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = struct{}{}
	}
	return &IntakeUseCase{
		storage:    storage,
		preparer:   preparer,
		extensions: extensions,
	}
}

// Intake persists an uploaded data file and returns where it landed. The
// returned path is what gets handed to submission.
func (uc *IntakeUseCase) Intake(ctx context.Context, filename string, body io.Reader) (domain.UploadedFile, error) {
	if strings.TrimSpace(filename) == "" {
		return domain.UploadedFile{}, domain.WrapError(domain.ErrValidation, "intake", errors.New("file name is required"))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := uc.extensions[ext]; !ok {
		return domain.UploadedFile{}, domain.WrapError(domain.ErrValidation, "intake", fmt.Errorf("unsupported file type %q", ext))
	}

	key := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename))
	path, size, err := uc.storage.Save(ctx, key, body)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("save uploaded file: %w", err)
	}
	if size == 0 {
		uc.removeRejected(ctx, path, "empty upload")
		return domain.UploadedFile{}, domain.WrapError(domain.ErrValidation, "intake", errors.New("uploaded file is empty"))
	}

	if uc.preparer != nil {
		prepared, err := uc.preparer.Prepare(ctx, path)
		if err != nil {
			uc.removeRejected(ctx, path, "prepare failed")
			return domain.UploadedFile{}, fmt.Errorf("prepare uploaded file: %w", err)
		}
		path = prepared
	}

	return domain.UploadedFile{
		OriginalName: filename,
		StoragePath:  path,
		Size:         size,
	}, nil
}

// Discard removes a persisted upload. Missing files are ignored by storage.
func (uc *IntakeUseCase) Discard(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := uc.storage.Remove(ctx, path); err != nil {
		return fmt.Errorf("discard uploaded file: %w", err)
	}
	return nil
}

func (uc *IntakeUseCase) removeRejected(ctx context.Context, path, reason string) {
	if err := uc.storage.Remove(ctx, path); err != nil {
		slog.Warn("upload_cleanup_failed", "path", path, "reason", reason, "error", err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		return "datafile.csv"
	}
	return base
}
