package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

// JobRepository is the durable half of the queue backend: one row per job,
// written by the enqueuer and the worker, read by everyone else.
type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id TEXT PRIMARY KEY,
	queue TEXT NOT NULL,
	func_name TEXT NOT NULL,
	args JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	exc_info TEXT NOT NULL DEFAULT '',
	meta JSONB NOT NULL DEFAULT '{}'::jsonb,
	enqueued_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_analysis_jobs_queue_status ON analysis_jobs(queue, status);
CREATE INDEX IF NOT EXISTS idx_analysis_jobs_enqueued_at ON analysis_jobs(enqueued_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.JobRecord) error {
	argsJSON, err := json.Marshal(nonNilArgs(job.Args))
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	metaJSON, err := json.Marshal(nonNilMeta(job.Meta))
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO analysis_jobs (id, queue, func_name, args, status, result, exc_info, meta, enqueued_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, job.ID, job.Queue, job.FuncName, argsJSON, string(job.Status), job.Result, job.ExcInfo, metaJSON, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, queue, func_name, args, status, result, exc_info, meta, enqueued_at, started_at, ended_at
FROM analysis_jobs
WHERE id = $1
`, id)

	var job domain.JobRecord
	var argsRaw, metaRaw []byte
	var status string
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.Queue, &job.FuncName, &argsRaw, &status, &job.Result, &job.ExcInfo,
		&metaRaw, &job.EnqueuedAt, &startedAt, &endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(argsRaw, &job.Args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &job.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	job.Status = domain.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		job.EndedAt = &t
	}
	return &job, nil
}

// MarkStarted claims a queued job. Zero affected rows means the job is
// unknown or another worker already claimed it.
func (r *JobRepository) MarkStarted(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = $2, started_at = $3
WHERE id = $1 AND status = $4
`, id, string(domain.JobStarted), r.now(), string(domain.JobQueued))
	if err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}
	return requireAffected(result, "claim job", id)
}

func (r *JobRepository) MarkFinished(ctx context.Context, id string, resultValue string, meta map[string]string) error {
	metaJSON, err := json.Marshal(nonNilMeta(meta))
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = $2, result = $3, meta = $4, ended_at = $5
WHERE id = $1
`, id, string(domain.JobFinished), resultValue, metaJSON, r.now())
	if err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}
	return requireAffected(result, "finish job", id)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, excInfo string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = $2, exc_info = $3, ended_at = $4
WHERE id = $1
`, id, string(domain.JobFailed), excInfo, r.now())
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return requireAffected(result, "fail job", id)
}

// ListQueued returns the oldest queued job ids on queue enqueued at or before
// enqueuedBefore. A non-positive limit defaults to 100.
func (r *JobRepository) ListQueued(ctx context.Context, queue string, enqueuedBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM analysis_jobs
WHERE queue = $1 AND status = $2 AND enqueued_at <= $3
ORDER BY enqueued_at ASC
LIMIT $4
`, queue, string(domain.JobQueued), enqueuedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queued job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued jobs: %w", err)
	}
	return ids, nil
}

func requireAffected(result sql.Result, operation, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrJobNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}

func nonNilArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func nonNilMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}
