// Package jobs defines the background work the server runs off the request
// path: sync cycles against a remote and bank-feed imports.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeSyncCycle runs one push/pull cycle against a remote endpoint.
	JobTypeSyncCycle JobType = "sync_cycle"
	// JobTypeImportFeed imports a date range from the bank feed.
	JobTypeImportFeed JobType = "import_feed"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Job is one unit of background work. Sync jobs set Endpoint; import jobs
// set the date range.
type Job struct {
	JobID string  `json:"job_id"`
	Type  JobType `json:"type"`

	Endpoint  string     `json:"endpoint,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Handler processes one job. A returned error schedules a retry until
// MaxRetries is exhausted.
type Handler func(ctx context.Context, job *Job) error

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *Job) error
	Close() error
}

// Consumer runs jobs from the queue.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Store tracks job execution for status queries.
type Store interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, filter Filter) ([]*Job, error)
}

// Filter defines filtering criteria for listing jobs.
type Filter struct {
	Type   JobType
	Status JobStatus
	Limit  int
}
