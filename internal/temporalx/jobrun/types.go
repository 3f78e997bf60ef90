package jobrun

import "time"

const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"
)

// Input starts one workflow per job_run row.
type Input struct {
	JobID string `json:"job_id"`
	// ActivityTimeout bounds a single handler run. Zero means defaultActivityTimeout.
	ActivityTimeout time.Duration `json:"activity_timeout,omitempty"`
}

type TickResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	// Retry is set on a failed job that still has attempts left; the
	// workflow ticks again at WaitUntil.
	Retry     bool       `json:"retry,omitempty"`
	WaitUntil *time.Time `json:"wait_until,omitempty"`
}
