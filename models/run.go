package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunScope is the granularity of a batch job
type RunScope string

const (
	ScopeListing  RunScope = "listing"
	ScopeCategory RunScope = "category"
	ScopeSite     RunScope = "site"
)

type ScrapeRun struct {
	ID           int64      `json:"id" db:"id"`
	Supplier     string     `json:"supplier" db:"supplier"`
	Scope        RunScope   `json:"scope" db:"scope"`
	Target       string     `json:"target" db:"target"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Status       RunStatus  `json:"status" db:"status"`
	Total        int        `json:"total" db:"total"`
	Created      int        `json:"created" db:"created"`
	Skipped      int        `json:"skipped" db:"skipped"`
	Failed       int        `json:"failed" db:"failed"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
}

// SupplierStats aggregates the run history of one supplier
type SupplierStats struct {
	Supplier          string     `json:"supplier" db:"supplier"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus     RunStatus  `json:"last_run_status" db:"last_run_status"`
	TotalCreated      int        `json:"total_created" db:"total_created"`
	SuccessRate       float64    `json:"success_rate" db:"success_rate"`
	AvgRunDurationSec int        `json:"avg_run_duration_sec" db:"avg_run_duration_sec"`
}
