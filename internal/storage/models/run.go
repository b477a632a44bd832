package models

import (
	"time"
)

// Run outcomes recorded in the ledger
const (
	ResultRunning = "running"
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// WorkflowRun represents one triggered workflow run
type WorkflowRun struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	TemplateID string     `json:"template_id"`
	Branch     string     `json:"branch"`
	Commit     string     `json:"commit"`
	Username   string     `json:"username"`
	JobID      string     `json:"job_id,omitempty"`
	Status     string     `json:"status,omitempty"`
	Polls      int        `json:"polls"`
	Result     string     `json:"result"`
	Error      string     `json:"error,omitempty"`
}
