package domain

import "time"

// FuncAnalyzeData is the function reference enqueued for every uploaded data file.
const FuncAnalyzeData = "analysis.analyze_data"

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobStarted  JobStatus = "started"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

// JobRecord is the queue backend's copy of a job. The web process never
// keeps its own copy; every read goes back to the backend by id.
type JobRecord struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	FuncName   string            `json:"func_name"`
	Args       []string          `json:"args"`
	Status     JobStatus         `json:"status"`
	Result     string            `json:"result,omitempty"`
	ExcInfo    string            `json:"exc_info,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
}

func (j *JobRecord) IsFinished() bool { return j != nil && j.Status == JobFinished }

func (j *JobRecord) IsFailed() bool { return j != nil && j.Status == JobFailed }

// InputPath returns the first positional argument, which for analysis jobs
// is the persisted data file.
func (j *JobRecord) InputPath() string {
	if j == nil || len(j.Args) == 0 {
		return ""
	}
	return j.Args[0]
}

type JobState string

const (
	StateNotFound JobState = "not_found"
	StatePending  JobState = "pending"
	StateFinished JobState = "finished"
	StateFailed   JobState = "failed"
)

// JobView is the three-way (plus not-found) interpretation of a job record.
// RawResult is set only for StateFinished, ErrorDetail only for StateFailed.
type JobView struct {
	JobID       string            `json:"id"`
	State       JobState          `json:"state"`
	RawResult   string            `json:"result,omitempty"`
	ErrorDetail string            `json:"error,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// NormalizedResult is derived from a finished job's raw result each time it
// is viewed. ServableURL is empty when the path is not locally servable.
type NormalizedResult struct {
	DisplayPath string `json:"display_path"`
	ServableURL string `json:"servable_url,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
}

func (r NormalizedResult) Servable() bool { return r.ServableURL != "" }

// UploadedFile describes a persisted upload before it is handed to submission.
type UploadedFile struct {
	OriginalName string
	StoragePath  string
	Size         int64
}
