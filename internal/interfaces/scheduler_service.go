package interfaces

import "time"

// JobStatus represents the current status of a scheduled maintenance job.
type JobStatus struct {
	Name      string
	Schedule  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	LastError string
}

// SchedulerService manages cron-based background maintenance (fallback-mode
// re-probing, integrity sweeps). Jobs are registered before Start.
type SchedulerService interface {
	// RegisterJob registers a named job with a cron schedule.
	RegisterJob(name string, schedule string, handler func() error) error

	// Start begins running registered jobs.
	Start() error

	// Stop halts the scheduler and waits for running jobs to finish.
	Stop() error

	// IsRunning returns true if the scheduler is active.
	IsRunning() bool

	// GetJobStatus returns the status of a specific job.
	GetJobStatus(name string) (*JobStatus, error)

	// GetAllJobStatuses returns all job statuses keyed by name.
	GetAllJobStatuses() map[string]*JobStatus
}
