package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/kirillkom/analysis-portal/internal/bootstrap"
	"github.com/kirillkom/analysis-portal/internal/config"
	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/observability/logging"
)

// jobService is the slice of the backend the operator commands need.
type jobService interface {
	Submit(ctx context.Context, inputPath string) (string, error)
	Resolve(ctx context.Context, jobID string) (domain.JobView, error)
	Normalize(raw string) (domain.NormalizedResult, error)
}

type commandContext struct {
	open func(ctx context.Context) (jobService, func(), error)
}

func newCommandContext() *commandContext {
	return &commandContext{open: openBackend}
}

func (c *commandContext) withService(ctx context.Context, fn func(jobService) error) error {
	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(svc)
}

type appService struct {
	app *bootstrap.App
}

func (s appService) Submit(ctx context.Context, inputPath string) (string, error) {
	return s.app.SubmitUC.Submit(ctx, inputPath)
}

func (s appService) Resolve(ctx context.Context, jobID string) (domain.JobView, error) {
	return s.app.ResolveUC.Resolve(ctx, jobID)
}

func (s appService) Normalize(raw string) (domain.NormalizedResult, error) {
	return s.app.Normalizer.Normalize(raw)
}

func openBackend(ctx context.Context) (jobService, func(), error) {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "jobctl", cfg.LogLevel))

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return appService{app: app}, app.Close, nil
}
