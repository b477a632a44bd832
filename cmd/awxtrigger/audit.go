package main

import (
	"awxtrigger/internal/engine"
	"awxtrigger/internal/logger"
	"awxtrigger/internal/storage"
	"awxtrigger/internal/storage/models"
	"awxtrigger/internal/trigger"
)

// auditLog records the run in the optional SQLite ledger.
// Every failure is logged and otherwise ignored.
type auditLog struct {
	store *storage.Store
	runID string
}

func openAudit(path string, req engine.LaunchRequest) *auditLog {
	if path == "" {
		return &auditLog{}
	}

	store, err := storage.Open(path)
	if err != nil {
		logger.Warn("Run ledger unavailable", "path", path, "error", err)
		return &auditLog{}
	}

	run, err := store.StartRun(models.WorkflowRun{
		TemplateID: req.TemplateID,
		Branch:     req.Branch(),
		Commit:     req.Commit(),
		Username:   req.User(),
	})
	if err != nil {
		logger.Warn("Failed to record run", "path", path, "error", err)
		store.Close()
		return &auditLog{}
	}

	return &auditLog{store: store, runID: run.ID}
}

func (a *auditLog) launched(jobID string) {
	if a.store == nil {
		return
	}
	if err := a.store.SetJobID(a.runID, jobID); err != nil {
		logger.Warn("Failed to record job id", "run_id", a.runID, "error", err)
	}
}

func (a *auditLog) finish(result *trigger.Result, runErr error) {
	if a.store == nil {
		return
	}

	outcome, message := models.ResultSuccess, ""
	if runErr != nil {
		outcome, message = models.ResultFailed, runErr.Error()
	}

	if err := a.store.FinishRun(a.runID, string(result.Status), result.Polls, outcome, message); err != nil {
		logger.Warn("Failed to record run result", "run_id", a.runID, "error", err)
	}
}

func (a *auditLog) close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close run ledger", "error", err)
	}
}
