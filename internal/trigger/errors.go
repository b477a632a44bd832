package trigger

import (
	"errors"
	"fmt"
	"time"

	"awxtrigger/internal/engine"
)

// ErrCanceled is matched by errors returned when the caller cancels the wait
var ErrCanceled = errors.New("wait for workflow job canceled")

// LaunchError reports that no workflow job could be started
type LaunchError struct {
	TemplateID string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch workflow template %s: %v", e.TemplateID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// PollError reports that the job status could not be queried.
// It says nothing about the job itself.
type PollError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("failed to query status of workflow job %s after %d attempts: %v", e.JobID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("failed to query status of workflow job %s: %v", e.JobID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// TerminalFailure reports that the job finished in a non-success state
type TerminalFailure struct {
	JobID  string
	Status engine.JobStatus
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("Tests execution failed with status: %s (workflow job %s)", e.Status, e.JobID)
}

// TimeoutError reports that the job did not finish within the maximum wait
type TimeoutError struct {
	JobID      string
	LastStatus engine.JobStatus
	Waited     time.Duration
}

func (e *TimeoutError) Error() string {
	last := string(e.LastStatus)
	if last == "" {
		last = "unknown"
	}
	return fmt.Sprintf("workflow job %s did not finish within %s (last status: %s)", e.JobID, e.Waited.Round(time.Second), last)
}
