package engine

import "context"

// JobStatus is the status string reported by the remote workflow system
type JobStatus string

// Known AWX workflow job statuses
const (
	StatusNew        JobStatus = "new"
	StatusPending    JobStatus = "pending"
	StatusWaiting    JobStatus = "waiting"
	StatusRunning    JobStatus = "running"
	StatusSuccessful JobStatus = "successful"
	StatusFailed     JobStatus = "failed"
	StatusError      JobStatus = "error"
	StatusCanceled   JobStatus = "canceled"
)

// IsSuccessful reports whether the job finished successfully
func (s JobStatus) IsSuccessful() bool {
	return s == StatusSuccessful
}

// IsFailure reports whether the job reached a failed terminal state
func (s JobStatus) IsFailure() bool {
	switch s {
	case StatusFailed, StatusError, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition will happen.
// Unknown statuses are treated as still running.
func (s JobStatus) IsTerminal() bool {
	return s.IsSuccessful() || s.IsFailure()
}

func (s JobStatus) String() string {
	return string(s)
}

// Extra variable names passed to the launched workflow
const (
	VarBranch   = "oak_repo_branch"
	VarCommit   = "oak_repo_commit"
	VarUsername = "username"
)

// LaunchRequest describes a workflow template launch
type LaunchRequest struct {
	TemplateID string
	Variables  map[string]string
}

// NewLaunchRequest builds a launch request for the given template and source revision
func NewLaunchRequest(templateID, branch, commit, user string) LaunchRequest {
	return LaunchRequest{
		TemplateID: templateID,
		Variables: map[string]string{
			VarBranch:   branch,
			VarCommit:   commit,
			VarUsername: user,
		},
	}
}

// Branch returns the source branch variable
func (r LaunchRequest) Branch() string { return r.Variables[VarBranch] }

// Commit returns the source commit variable
func (r LaunchRequest) Commit() string { return r.Variables[VarCommit] }

// User returns the approving user variable
func (r LaunchRequest) User() string { return r.Variables[VarUsername] }

// JobHandle identifies a launched workflow job
type JobHandle struct {
	JobID string
}

// WorkflowEngine is implemented by remote workflow systems
type WorkflowEngine interface {
	// Launch starts a workflow job from a template
	Launch(ctx context.Context, req LaunchRequest) (JobHandle, error)

	// JobStatus returns the latest status of a launched job
	JobStatus(ctx context.Context, handle JobHandle) (JobStatus, error)

	// Cancel asks the remote system to cancel a running job
	Cancel(ctx context.Context, handle JobHandle) error
}
