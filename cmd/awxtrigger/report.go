package main

import (
	"fmt"
	"strings"
	"time"

	"awxtrigger/internal/ci"
	"awxtrigger/internal/engine"
	"awxtrigger/internal/logger"
	"awxtrigger/internal/trigger"
)

// writeReport publishes the status output and the job summary
func writeReport(reporter *ci.Reporter, baseURL string, req engine.LaunchRequest, result *trigger.Result, runErr error) {
	if result.Status != "" {
		if err := reporter.SetOutput("status", result.Status.String()); err != nil {
			logger.Warn("Failed to set step output", "name", "status", "error", err)
		}
	}

	if err := reporter.Summary(summaryMarkdown(baseURL, req, result, runErr)); err != nil {
		logger.Warn("Failed to write job summary", "error", err)
	}
}

func summaryMarkdown(baseURL string, req engine.LaunchRequest, result *trigger.Result, runErr error) string {
	var b strings.Builder

	if runErr == nil {
		b.WriteString("### :white_check_mark: AWX tests passed\n\n")
	} else {
		b.WriteString("### :x: AWX tests failed\n\n")
	}

	b.WriteString("| | |\n|---|---|\n")
	row := func(name, value string) {
		fmt.Fprintf(&b, "| %s | %s |\n", name, value)
	}
	row("Template", req.TemplateID)
	row("Branch", "`"+req.Branch()+"`")
	row("Commit", "`"+req.Commit()+"`")
	row("Approved by", req.User())
	if result.JobID != "" {
		row("Workflow job", fmt.Sprintf("[%s](%s)", result.JobID, jobURL(baseURL, result.JobID)))
	}
	if result.Status != "" {
		row("Status", result.Status.String())
		row("Polls", fmt.Sprint(result.Polls))
		row("Elapsed", result.Elapsed.Round(time.Second).String())
	}

	if runErr != nil {
		fmt.Fprintf(&b, "\n%s\n", strings.ReplaceAll(runErr.Error(), "|", "\\|"))
	}
	return b.String()
}

// jobURL links to the workflow job output in the AWX web UI
func jobURL(baseURL, jobID string) string {
	return fmt.Sprintf("%s/#/jobs/workflow/%s/output", baseURL, jobID)
}
