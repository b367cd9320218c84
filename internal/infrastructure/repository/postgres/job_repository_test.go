package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

var jobColumns = []string{"id", "queue", "func_name", "args", "status", "result", "exc_info", "meta", "enqueued_at", "started_at", "ended_at"}

func newJobRepoWithMock(t *testing.T) (*JobRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewJobRepository(db), mock, func() { _ = db.Close() }
}

func TestJobRepositoryCreateInsertsQueuedJob(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO analysis_jobs").
		WithArgs("job-1", "default", domain.FuncAnalyzeData, []byte(`["/media/datafiles/x.csv"]`), string(domain.JobQueued), "", "", []byte(`{}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.JobRecord{
		ID:         "job-1",
		Queue:      "default",
		FuncName:   domain.FuncAnalyzeData,
		Args:       []string{"/media/datafiles/x.csv"},
		Status:     domain.JobQueued,
		EnqueuedAt: now,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryGetByIDScansRecord(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	enqueued := time.Now().UTC().Add(-time.Minute)
	ended := time.Now().UTC()
	rows := sqlmock.NewRows(jobColumns).
		AddRow("job-1", "default", domain.FuncAnalyzeData, []byte(`["x.csv"]`), string(domain.JobFinished),
			`[1] "E:/data/results/x.pdf"`, "", []byte(`{"pages":"4"}`), enqueued, enqueued, ended)

	mock.ExpectQuery("FROM analysis_jobs").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := repo.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !job.IsFinished() || job.IsFailed() {
		t.Fatalf("unexpected flags for status %s", job.Status)
	}
	if job.InputPath() != "x.csv" {
		t.Fatalf("unexpected input path %q", job.InputPath())
	}
	if job.Meta["pages"] != "4" {
		t.Fatalf("unexpected meta %v", job.Meta)
	}
	if job.EndedAt == nil || !job.EndedAt.Equal(ended) {
		t.Fatalf("unexpected ended_at %v", job.EndedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, queue, func_name").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryMarkStartedOnlyClaimsQueuedJobs(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs("job-1", string(domain.JobStarted), sqlmock.AnyArg(), string(domain.JobQueued)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkStarted(context.Background(), "job-1")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for already claimed job, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryMarkFinishedStoresResult(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs("job-1", string(domain.JobFinished), `"E:/x.pdf"`, []byte(`{"pages":"1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFinished(context.Background(), "job-1", `"E:/x.pdf"`, map[string]string{"pages": "1"}); err != nil {
		t.Fatalf("MarkFinished() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryMarkFailedReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs("missing", string(domain.JobFailed), "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkFailed(context.Background(), "missing", "boom")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryListQueuedReturnsOldestQueuedIDs(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	cutoff := time.Now().UTC().Add(-10 * time.Second)
	mock.ExpectQuery("WHERE queue = \\$1 AND status = \\$2 AND enqueued_at <= \\$3").
		WithArgs("default", string(domain.JobQueued), cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1").AddRow("job-2"))

	ids, err := repo.ListQueued(context.Background(), "default", cutoff, 0)
	if err != nil {
		t.Fatalf("ListQueued() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "job-1" || ids[1] != "job-2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
