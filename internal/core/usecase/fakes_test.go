package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

// memoryQueueFake plays the queue backend: it issues ids, keeps records and
// lets tests act as the worker by mutating them directly.
type memoryQueueFake struct {
	mu         sync.Mutex
	seq        int
	jobs       map[string]*domain.JobRecord
	enqueueErr error
	fetchErr   error
	fetchCalls int
}

func newMemoryQueueFake() *memoryQueueFake {
	return &memoryQueueFake{jobs: make(map[string]*domain.JobRecord)}
}

func (f *memoryQueueFake) Enqueue(_ context.Context, funcName string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.seq++
	id := fmt.Sprintf("job-%d", f.seq)
	f.jobs[id] = &domain.JobRecord{
		ID:         id,
		Queue:      "default",
		FuncName:   funcName,
		Args:       append([]string(nil), args...),
		Status:     domain.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	return id, nil
}

func (f *memoryQueueFake) FetchJob(_ context.Context, jobID string) (*domain.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, nil
	}
	copyJob := *job
	return &copyJob, nil
}

func (f *memoryQueueFake) Create(_ context.Context, job *domain.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyJob := *job
	f.jobs[job.ID] = &copyJob
	return nil
}

func (f *memoryQueueFake) GetByID(ctx context.Context, id string) (*domain.JobRecord, error) {
	job, err := f.FetchJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", errors.New(id))
	}
	return job, nil
}

func (f *memoryQueueFake) MarkStarted(_ context.Context, id string) error {
	return f.update(id, func(job *domain.JobRecord) {
		now := time.Now().UTC()
		job.Status = domain.JobStarted
		job.StartedAt = &now
	})
}

func (f *memoryQueueFake) MarkFinished(ctx context.Context, id, result string, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.update(id, func(job *domain.JobRecord) {
		job.Status = domain.JobFinished
		job.Result = result
		job.Meta = meta
	})
}

func (f *memoryQueueFake) MarkFailed(ctx context.Context, id, excInfo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.update(id, func(job *domain.JobRecord) {
		job.Status = domain.JobFailed
		job.ExcInfo = excInfo
	})
}

func (f *memoryQueueFake) ListQueued(_ context.Context, queue string, enqueuedBefore time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, job := range f.jobs {
		if len(ids) == limit {
			break
		}
		if job.Queue == queue && job.Status == domain.JobQueued && !job.EnqueuedAt.After(enqueuedBefore) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *memoryQueueFake) update(id string, fn func(*domain.JobRecord)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "update job", errors.New(id))
	}
	fn(job)
	return nil
}

func (f *memoryQueueFake) status(id string) domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Status
}

type storageFake struct {
	saved     map[string]string
	removed   []string
	saveErr   error
	removeErr error
}

func newStorageFake() *storageFake {
	return &storageFake{saved: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (string, int64, error) {
	if f.saveErr != nil {
		return "", 0, f.saveErr
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, data)
	if err != nil {
		return "", 0, err
	}
	path := "/media/datafiles/" + key
	f.saved[path] = buf.String()
	return path, n, nil
}

func (f *storageFake) Remove(_ context.Context, path string) error {
	f.removed = append(f.removed, path)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.saved, path)
	return nil
}

type preparerFake struct {
	suffix string
	err    error
}

func (f *preparerFake) Prepare(_ context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return path + f.suffix, nil
}

type engineFake struct {
	result    string
	err       error
	input     string
	outputDir string
}

func (f *engineFake) Analyze(_ context.Context, inputPath, outputDir string) (string, error) {
	f.input = inputPath
	f.outputDir = outputDir
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

type inspectorFake struct {
	path string
	info map[string]string
	err  error
}

func (f *inspectorFake) Inspect(_ context.Context, path string) (map[string]string, error) {
	f.path = path
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}
