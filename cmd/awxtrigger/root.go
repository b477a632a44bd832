package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"awxtrigger/internal/ci"
	"awxtrigger/internal/config"
	"awxtrigger/internal/engine"
	"awxtrigger/internal/engine/awx"
	"awxtrigger/internal/logger"
	"awxtrigger/internal/trigger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// cliOptions holds the raw flag values; only flags set by the user are applied
type cliOptions struct {
	configPath string
	envFile    string
	awx        config.AWXConfig
	run        config.RunConfig
	poll       config.PollConfig
	auditPath  string
	logLevel   string
	logFormat  string
}

// execute runs the command line and returns the process exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	reporter := ci.NewReporter(stdout)

	cmd := newRootCmd(reporter, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		reporter.Fail("Action failed: " + err.Error())
		return 1
	}
	return 0
}

func newRootCmd(reporter *ci.Reporter, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "awxtrigger",
		Short: "Launch an AWX workflow for a revision and wait for its result",
		Long: `awxtrigger launches an AWX workflow job template with the branch, commit
and approving user of a change, then polls the workflow job until it
finishes. The exit status is 0 only when the job ends as successful.

Settings are read from the YAML file, then GitHub Action inputs (INPUT_*),
then AWXTRIGGER_* variables, then flags.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.Flags(), opts, reporter, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration file")
	f.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Path to a dotenv file loaded before the configuration")

	f.StringVar(&opts.awx.URL, "awx-url", "", "AWX host or base URL")
	f.StringVar(&opts.awx.Token, "awx-token", "", "AWX OAuth2 token")
	f.StringVar(&opts.awx.TemplateID, "template-id", "", "Workflow job template id")
	f.DurationVar(&opts.awx.Timeout, "awx-timeout", 0, "Timeout of a single AWX request")
	f.StringSliceVar(&opts.awx.CACertFiles, "ca-file", nil, "PEM file of an additional trusted CA (repeatable)")

	f.StringVar(&opts.run.Branch, "branch", "", "Branch under test")
	f.StringVar(&opts.run.Commit, "commit", "", "Commit under test")
	f.StringVar(&opts.run.User, "user", "", "User who approved the run")

	f.DurationVar(&opts.poll.Interval, "poll-interval", 0, "Delay between job status queries (default 1m)")
	f.DurationVar(&opts.poll.MaxWait, "max-wait", 0, "Give up waiting after this long; 0 waits until the job finishes")
	f.Uint64Var(&opts.poll.MaxRetries, "poll-retries", 0, "Retries of a status query failing with a transient error")
	f.DurationVar(&opts.poll.RetryDelay, "retry-delay", 0, "Delay between status query retries (default 10s)")
	f.BoolVar(&opts.poll.CancelOnAbort, "cancel-on-abort", false, "Cancel the AWX job when the wait is interrupted or times out")

	f.StringVar(&opts.auditPath, "audit-db", "", "SQLite file recording each run; empty disables it")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")

	return cmd
}

// flagOverrides applies the flags set on the command line over file and
// environment values
func flagOverrides(flags *pflag.FlagSet, opts *cliOptions) config.Override {
	return func(cfg *config.Config) {
		flags.Visit(func(flag *pflag.Flag) {
			switch flag.Name {
			case "awx-url":
				cfg.AWX.URL = opts.awx.URL
			case "awx-token":
				cfg.AWX.Token = opts.awx.Token
			case "template-id":
				cfg.AWX.TemplateID = opts.awx.TemplateID
			case "awx-timeout":
				cfg.AWX.Timeout = opts.awx.Timeout
			case "ca-file":
				cfg.AWX.CACertFiles = append(cfg.AWX.CACertFiles, opts.awx.CACertFiles...)
			case "branch":
				cfg.Run.Branch = opts.run.Branch
			case "commit":
				cfg.Run.Commit = opts.run.Commit
			case "user":
				cfg.Run.User = opts.run.User
			case "poll-interval":
				cfg.Poll.Interval = opts.poll.Interval
			case "max-wait":
				cfg.Poll.MaxWait = opts.poll.MaxWait
			case "poll-retries":
				cfg.Poll.MaxRetries = opts.poll.MaxRetries
			case "retry-delay":
				cfg.Poll.RetryDelay = opts.poll.RetryDelay
			case "cancel-on-abort":
				cfg.Poll.CancelOnAbort = opts.poll.CancelOnAbort
			case "audit-db":
				cfg.Audit.Path = opts.auditPath
			case "log-level":
				cfg.Log.Level = opts.logLevel
			case "log-format":
				cfg.Log.Format = opts.logFormat
			}
		})
	}
}

func run(ctx context.Context, flags *pflag.FlagSet, opts *cliOptions, reporter *ci.Reporter, stderr io.Writer) error {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath, flagOverrides(flags, opts))
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reporter.MaskValue(cfg.AWX.Token)
	logger.InitWithWriter(stderr, cfg.Log.Level, cfg.Log.Format)
	logger.Debug("Configuration loaded",
		"awx_url", cfg.AWX.URL,
		"template_id", cfg.AWX.TemplateID,
		"poll_interval", cfg.Poll.Interval,
		"max_wait", cfg.Poll.MaxWait,
		"max_retries", cfg.Poll.MaxRetries)

	client, err := awx.NewClient(cfg.AWX)
	if err != nil {
		return err
	}

	req := cfg.LaunchRequest()
	audit := openAudit(cfg.Audit.Path, req)
	defer audit.close()

	topts := trigger.OptionsFromConfig(cfg.Poll)
	topts.Transient = awx.IsTransient
	topts.OnLaunch = func(handle engine.JobHandle) {
		audit.launched(handle.JobID)
		reporter.Notice(fmt.Sprintf("Workflow job %s launched: %s", handle.JobID, jobURL(client.BaseURL(), handle.JobID)))
		if err := reporter.SetOutput("job_id", handle.JobID); err != nil {
			logger.Warn("Failed to set step output", "name", "job_id", "error", err)
		}
	}

	result, err := trigger.New(client, topts).Run(ctx, req)
	audit.finish(result, err)
	writeReport(reporter, client.BaseURL(), req, result, err)

	return err
}
