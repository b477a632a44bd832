package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"awxtrigger/internal/config"
	"awxtrigger/internal/engine"
	"awxtrigger/internal/logger"
)

const cancelTimeout = 30 * time.Second

// Options controls how a launched job is awaited
type Options struct {
	Interval      time.Duration
	MaxWait       time.Duration // 0 waits until a terminal status
	MaxRetries    uint64        // extra attempts for transient poll errors
	RetryDelay    time.Duration
	CancelOnAbort bool

	// Transient decides which poll errors are retried; nil retries all
	Transient func(error) bool

	// OnLaunch is called once the job has been created
	OnLaunch func(handle engine.JobHandle)
}

// OptionsFromConfig converts the poll configuration into trigger options
func OptionsFromConfig(cfg config.PollConfig) Options {
	return Options{
		Interval:      cfg.Interval,
		MaxWait:       cfg.MaxWait,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		CancelOnAbort: cfg.CancelOnAbort,
	}
}

// Result describes the outcome of awaiting a workflow job
type Result struct {
	JobID   string
	Status  engine.JobStatus
	Polls   int
	Elapsed time.Duration
}

// Trigger launches workflow jobs and waits for them to finish
type Trigger struct {
	engine engine.WorkflowEngine
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New creates a new Trigger on top of a workflow engine
func New(e engine.WorkflowEngine, opts Options) *Trigger {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}

	return &Trigger{
		engine: e,
		opts:   opts,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Launch starts the workflow job described by req
func (t *Trigger) Launch(ctx context.Context, req engine.LaunchRequest) (engine.JobHandle, error) {
	if err := validateRequest(req); err != nil {
		return engine.JobHandle{}, &LaunchError{TemplateID: req.TemplateID, Err: err}
	}

	logger.Info("Launching workflow",
		"template_id", req.TemplateID,
		"branch", req.Branch(),
		"commit", req.Commit(),
		"approved_by", req.User())

	handle, err := t.engine.Launch(ctx, req)
	if err != nil {
		return engine.JobHandle{}, &LaunchError{TemplateID: req.TemplateID, Err: err}
	}
	if handle.JobID == "" {
		return engine.JobHandle{}, &LaunchError{TemplateID: req.TemplateID, Err: errors.New("no job identifier returned")}
	}

	logger.Info("Workflow launched", "job_id", handle.JobID)
	if t.opts.OnLaunch != nil {
		t.opts.OnLaunch(handle)
	}
	return handle, nil
}

// AwaitCompletion polls the job until it reaches a terminal status.
// The returned result is never nil and carries the last observed status.
func (t *Trigger) AwaitCompletion(ctx context.Context, handle engine.JobHandle) (*Result, error) {
	log := logger.With("job_id", handle.JobID)
	start := t.now()
	result := &Result{JobID: handle.JobID}

	waitCtx := ctx
	if t.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.opts.MaxWait)
		defer cancel()
	}

	for {
		status, attempts, err := t.queryStatus(waitCtx, handle)
		result.Elapsed = t.now().Sub(start)
		if err != nil {
			if waitCtx.Err() != nil {
				return result, t.abort(ctx, handle, result)
			}
			return result, &PollError{JobID: handle.JobID, Attempts: attempts, Err: err}
		}

		result.Polls++
		result.Status = status
		log.Info("Current job status", "status", status, "poll", result.Polls)

		if status.IsSuccessful() {
			return result, nil
		}
		if status.IsFailure() {
			return result, &TerminalFailure{JobID: handle.JobID, Status: status}
		}

		if err := t.sleep(waitCtx, t.opts.Interval); err != nil {
			result.Elapsed = t.now().Sub(start)
			return result, t.abort(ctx, handle, result)
		}
	}
}

// Run launches the workflow job and waits for it to finish
func (t *Trigger) Run(ctx context.Context, req engine.LaunchRequest) (*Result, error) {
	handle, err := t.Launch(ctx, req)
	if err != nil {
		return &Result{}, err
	}

	result, err := t.AwaitCompletion(ctx, handle)
	if err != nil {
		return result, err
	}

	logger.Info("Tests passed successfully", "job_id", result.JobID, "polls", result.Polls, "elapsed", result.Elapsed.Round(time.Second))
	return result, nil
}

// queryStatus reads the job status, retrying transient failures when configured.
// It returns the number of attempts made.
func (t *Trigger) queryStatus(ctx context.Context, handle engine.JobHandle) (engine.JobStatus, int, error) {
	if t.opts.MaxRetries == 0 {
		status, err := t.engine.JobStatus(ctx, handle)
		return status, 1, err
	}

	var status engine.JobStatus
	attempts := 0
	backoff := retry.WithMaxRetries(t.opts.MaxRetries, retry.NewConstant(t.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		s, err := t.engine.JobStatus(ctx, handle)
		if err == nil {
			status = s
			return nil
		}
		if ctx.Err() == nil && t.isTransient(err) {
			logger.Warn("Transient error querying job status", "job_id", handle.JobID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return status, attempts, err
}

// isTransient classifies a failed status query. Whether the wait itself is
// over is decided by the wait context in queryStatus, not here.
func (t *Trigger) isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if t.opts.Transient == nil {
		return true
	}
	return t.opts.Transient(err)
}

// abort builds the error for a wait ended by the caller or by MaxWait and
// optionally cancels the remote job
func (t *Trigger) abort(ctx context.Context, handle engine.JobHandle, result *Result) error {
	if t.opts.CancelOnAbort {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
		defer cancel()
		if err := t.engine.Cancel(cancelCtx, handle); err != nil {
			logger.Warn("Failed to cancel workflow job", "job_id", handle.JobID, "error", err)
		} else {
			logger.Info("Workflow job cancel requested", "job_id", handle.JobID)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: job %s, last status %q: %w", ErrCanceled, handle.JobID, result.Status, err)
	}
	return &TimeoutError{JobID: handle.JobID, LastStatus: result.Status, Waited: t.opts.MaxWait}
}

// validateRequest checks that every launch input is present
func validateRequest(req engine.LaunchRequest) error {
	if req.TemplateID == "" {
		return errors.New("template id cannot be empty")
	}
	for _, name := range []string{engine.VarBranch, engine.VarCommit, engine.VarUsername} {
		if req.Variables[name] == "" {
			return fmt.Errorf("extra variable %s cannot be empty", name)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
