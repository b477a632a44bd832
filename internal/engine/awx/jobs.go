package awx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"awxtrigger/internal/engine"
	"awxtrigger/internal/logger"
)

var _ engine.WorkflowEngine = (*Client)(nil)

// Launch starts a workflow job from the given workflow job template
func (c *Client) Launch(ctx context.Context, req engine.LaunchRequest) (engine.JobHandle, error) {
	if req.TemplateID == "" {
		return engine.JobHandle{}, fmt.Errorf("template id cannot be empty")
	}

	path := fmt.Sprintf("/api/v2/workflow_job_templates/%s/launch/", url.PathEscape(req.TemplateID))
	body := map[string]any{
		"extra_vars": req.Variables,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return engine.JobHandle{}, err
	}

	jobID, err := extractJobID(respBody)
	if err != nil {
		return engine.JobHandle{}, err
	}

	return engine.JobHandle{JobID: jobID}, nil
}

// JobStatus returns the current status of a workflow job
func (c *Client) JobStatus(ctx context.Context, handle engine.JobHandle) (engine.JobStatus, error) {
	if handle.JobID == "" {
		return "", fmt.Errorf("job id cannot be empty")
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, jobPath(handle.JobID), nil)
	if err != nil {
		return "", err
	}

	if !gjson.ValidBytes(respBody) {
		return "", fmt.Errorf("%w: job %s status is not JSON", ErrMalformedResponse, handle.JobID)
	}

	job := gjson.ParseBytes(respBody)
	value := job.Get("status")
	if value.Type != gjson.String || value.String() == "" {
		return "", fmt.Errorf("%w: job %s has no status string", ErrMalformedResponse, handle.JobID)
	}
	status := value.String()

	logger.Debug("Workflow job details", "job_id", handle.JobID, "status", status,
		"elapsed", job.Get("elapsed").Float(), "started", job.Get("started").String())

	return engine.JobStatus(status), nil
}

// Cancel requests cancellation of a running workflow job
func (c *Client) Cancel(ctx context.Context, handle engine.JobHandle) error {
	if handle.JobID == "" {
		return fmt.Errorf("job id cannot be empty")
	}

	_, err := c.doRequest(ctx, http.MethodPost, jobPath(handle.JobID)+"cancel/", nil)
	return err
}

func jobPath(jobID string) string {
	return fmt.Sprintf("/api/v2/workflow_jobs/%s/", url.PathEscape(jobID))
}

// extractJobID reads the launched job id. Workflow launches answer with
// "workflow_job"; "id" carries the same value on current AWX releases.
func extractJobID(respBody []byte) (string, error) {
	if !gjson.ValidBytes(respBody) {
		return "", fmt.Errorf("%w: launch response is not JSON", ErrMalformedResponse)
	}

	for _, field := range []string{"workflow_job", "id"} {
		value := gjson.GetBytes(respBody, field)
		if !value.Exists() {
			continue
		}
		switch value.Type {
		case gjson.Number, gjson.String:
			if id := value.String(); id != "" && id != "0" {
				return id, nil
			}
		}
	}

	return "", fmt.Errorf("%w: launch response has no job identifier", ErrMalformedResponse)
}
