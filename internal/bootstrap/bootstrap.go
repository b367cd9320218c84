package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kirillkom/analysis-portal/internal/config"
	"github.com/kirillkom/analysis-portal/internal/core/domain"
	"github.com/kirillkom/analysis-portal/internal/core/ports"
	"github.com/kirillkom/analysis-portal/internal/core/usecase"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/artifact/pdfinfo"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/dataprep/spreadsheet"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/engine/rscript"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/jobqueue"
	natsqueue "github.com/kirillkom/analysis-portal/internal/infrastructure/queue/nats"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/resilience"
	"github.com/kirillkom/analysis-portal/internal/infrastructure/storage/localfs"
)

// App is the explicit backend handle shared by the web process, the worker
// and the operator CLI. Nothing in the module reaches the queue through
// package-level state.
type App struct {
	Config config.Config

	Queue    *jobqueue.Queue
	Consumer ports.JobConsumer
	Broker   *natsqueue.Broker
	Store    *postgres.JobRepository
	Storage  *localfs.Storage

	SubmitUC   *usecase.SubmitUseCase
	ResolveUC  *usecase.ResolveUseCase
	UploadUC   *usecase.UploadUseCase
	Normalizer *usecase.ResultNormalizer

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	cfg, err := withAbsoluteMediaRoot(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := postgres.NewJobRepository(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.UploadDir())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init upload storage: %w", err)
	}

	broker, err := natsqueue.NewWithOptions(
		cfg.NATSURL,
		natsqueue.Subject(cfg.QueueSubjectPrefix, cfg.QueueName),
		natsqueue.Options{ResilienceExecutor: resilience.NewExecutor(queueResilienceConfig(cfg))},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job broker: %w", err)
	}

	queue := jobqueue.NewWithOptions(cfg.QueueName, store, broker, jobqueue.Options{
		SweepInterval: time.Duration(cfg.QueueSweepIntervalSeconds) * time.Second,
	})
	cleanup := usecase.ParseCleanupPolicy(cfg.InputCleanup)
	intakeUC := usecase.NewIntakeUseCase(storage, spreadsheet.NewPreparer(), cfg.UploadAllowedExtensions)
	submitUC := usecase.NewSubmitUseCase(queue)

	return &App{
		Config:   cfg,
		Queue:    queue,
		Consumer: queue,
		Broker:   broker,
		Store:    store,
		Storage:  storage,

		SubmitUC:   submitUC,
		ResolveUC:  usecase.NewResolveUseCase(queue),
		UploadUC:   usecase.NewUploadUseCase(intakeUC, submitUC, cleanup),
		Normalizer: newNormalizer(cfg),

		closeFn: func() {
			broker.Close()
			_ = db.Close()
		},
	}, nil
}

// NewExecutor builds the worker-side job runner with the analysis function
// registered under domain.FuncAnalyzeData.
func (a *App) NewExecutor(observer usecase.ExecutionObserver) *usecase.ExecuteUseCase {
	engine := rscript.New(rscript.Config{
		Binary:       a.Config.RscriptBin,
		ScriptsDir:   a.Config.AnalysisScriptsDir,
		HelperScript: a.Config.AnalysisHelperScript,
		MainScript:   a.Config.AnalysisMainScript,
		Function:     a.Config.AnalysisFunction,
		Timeout:      time.Duration(a.Config.AnalysisTimeoutSecs) * time.Second,
	})

	store := jobqueue.NewRetryingStore(a.Store, resilience.NewExecutor(terminalWriteResilienceConfig()))
	executor := usecase.NewExecuteUseCase(store, a.Storage, usecase.ParseCleanupPolicy(a.Config.InputCleanup), observer)
	executor.Register(domain.FuncAnalyzeData, usecase.AnalyzeDataFunc(engine, pdfinfo.NewInspector(), a.Config.ResultsDir()))
	return executor
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func queueResilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig().WithoutRetry()
	out.BreakerEnabled = cfg.QueueBreakerEnabled
	if cfg.QueueBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.QueueBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.QueueBreakerFailureRatio
	out.BreakerOpenTimeout = time.Duration(cfg.QueueBreakerOpenTimeoutSeconds) * time.Second
	return out
}

// terminalWriteResilienceConfig retries the worker's final status writes.
func terminalWriteResilienceConfig() resilience.Config {
	out := resilience.DefaultConfig()
	out.BreakerEnabled = false
	out.RetryMaxAttempts = 4
	out.RetryInitialBackoff = 200 * time.Millisecond
	out.RetryMaxBackoff = 2 * time.Second
	return out
}

// withAbsoluteMediaRoot pins the media root so the engine output dir, the
// upload dir and the normalizer's servable root all agree.
func withAbsoluteMediaRoot(cfg config.Config) (config.Config, error) {
	abs, err := filepath.Abs(cfg.MediaRoot)
	if err != nil {
		return cfg, err
	}
	cfg.MediaRoot = abs
	return cfg, nil
}

func newNormalizer(cfg config.Config) *usecase.ResultNormalizer {
	return usecase.NewResultNormalizer(filepath.ToSlash(cfg.MediaRoot), cfg.MediaURL, cfg.MediaLocalPrefix)
}
