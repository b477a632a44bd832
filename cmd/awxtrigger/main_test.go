package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"awxtrigger/internal/awxtest"
	"awxtrigger/internal/storage"
	"awxtrigger/internal/storage/models"
)

const testToken = "s3cr3t-token"

var envVars = []string{
	"INPUT_AWX_URL", "INPUT_AWX_TOKEN", "INPUT_AWX_TEMPLATE_ID", "INPUT_AWX_CA_CERTS",
	"INPUT_PR_BRANCH", "INPUT_PR_COMMIT", "INPUT_PR_USER",
	"AWXTRIGGER_AWX_URL", "AWXTRIGGER_AWX_TOKEN", "AWXTRIGGER_AWX_TEMPLATE_ID",
	"AWXTRIGGER_AWX_TIMEOUT", "AWXTRIGGER_AWX_CA_CERT_FILES", "AWXTRIGGER_AWX_CA_CERTS_PEM",
	"AWXTRIGGER_BRANCH", "AWXTRIGGER_COMMIT", "AWXTRIGGER_USER",
	"AWXTRIGGER_POLL_INTERVAL", "AWXTRIGGER_POLL_MAX_WAIT", "AWXTRIGGER_POLL_RETRY_DELAY",
	"AWXTRIGGER_POLL_MAX_RETRIES", "AWXTRIGGER_POLL_CANCEL_ON_ABORT",
	"AWXTRIGGER_AUDIT_PATH", "AWXTRIGGER_LOG_LEVEL", "AWXTRIGGER_LOG_FORMAT",
	"GITHUB_ACTIONS", "GITHUB_OUTPUT", "GITHUB_STEP_SUMMARY",
}

type cliEnv struct {
	srv     *awxtest.Server
	caFile  string
	output  string
	summary string
}

// setup starts a fake AWX API and points the GitHub Actions files at a temp dir
func setup(t *testing.T) *cliEnv {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}

	srv := awxtest.NewServer(testToken)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &cliEnv{
		srv:     srv,
		caFile:  filepath.Join(dir, "ca.pem"),
		output:  filepath.Join(dir, "output"),
		summary: filepath.Join(dir, "summary.md"),
	}
	require.NoError(t, os.WriteFile(env.caFile, []byte(srv.CertPEM()), 0o600))

	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("GITHUB_OUTPUT", env.output)
	t.Setenv("GITHUB_STEP_SUMMARY", env.summary)
	return env
}

func (e *cliEnv) args(extra ...string) []string {
	return append([]string{
		"--config=",
		"--env-file=",
		"--awx-url", e.srv.URL,
		"--awx-token", testToken,
		"--template-id", "12",
		"--branch", "main",
		"--commit", "abc123",
		"--user", "alice",
		"--ca-file", e.caFile,
		"--poll-interval", "10ms",
	}, extra...)
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExecute_Success(t *testing.T) {
	env := setup(t)
	env.srv.ScriptJob(42, awxtest.Status("running"), awxtest.Status("successful"))
	auditDB := filepath.Join(t.TempDir(), "runs.db")

	code, stdout, stderr := runCLI(env.args("--audit-db", auditDB)...)

	require.Equal(t, 0, code, stdout+stderr)
	assert.Equal(t, 2, env.srv.Polls(42))
	assert.Contains(t, stdout, "::add-mask::"+testToken)
	assert.NotContains(t, stdout, "::error::")
	assert.Contains(t, stdout, "::notice::Workflow job 42 launched: "+env.srv.URL+"/#/jobs/workflow/42/output")
	assert.Contains(t, stderr, "Tests passed successfully")

	launches := env.srv.Launches()
	require.Len(t, launches, 1)
	assert.Equal(t, "12", launches[0].TemplateID)
	assert.Equal(t, map[string]string{
		"oak_repo_branch": "main",
		"oak_repo_commit": "abc123",
		"username":        "alice",
	}, launches[0].ExtraVars)

	assert.Equal(t, "job_id=42\nstatus=successful\n", readFile(t, env.output))

	summary := readFile(t, env.summary)
	assert.Contains(t, summary, "AWX tests passed")
	assert.Contains(t, summary, "[42]("+env.srv.URL+"/#/jobs/workflow/42/output)")

	store, err := storage.Open(auditDB)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "42", runs[0].JobID)
	assert.Equal(t, "successful", runs[0].Status)
	assert.Equal(t, 2, runs[0].Polls)
	assert.Equal(t, models.ResultSuccess, runs[0].Result)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestExecute_TerminalFailure(t *testing.T) {
	env := setup(t)
	env.srv.ScriptJob(7, awxtest.Status("failed"))
	auditDB := filepath.Join(t.TempDir(), "runs.db")

	code, stdout, _ := runCLI(env.args("--audit-db", auditDB)...)

	assert.Equal(t, 1, code)
	assert.Equal(t, 1, env.srv.Polls(7))
	assert.Contains(t, stdout, "::error::Action failed: Tests execution failed with status: failed")
	assert.Equal(t, "job_id=7\nstatus=failed\n", readFile(t, env.output))
	assert.Contains(t, readFile(t, env.summary), "AWX tests failed")

	store, err := storage.Open(auditDB)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ResultFailed, runs[0].Result)
	assert.Contains(t, runs[0].Error, "failed")
}

func TestExecute_LaunchRejected(t *testing.T) {
	env := setup(t)
	env.srv.ScriptJob(1, awxtest.Status("successful"))

	args := env.args("--awx-token", "wrong-token")
	code, stdout, _ := runCLI(args...)

	assert.Equal(t, 1, code)
	assert.Equal(t, 1, env.srv.Unauthorized())
	assert.Equal(t, 0, env.srv.TotalPolls())
	assert.Contains(t, stdout, "::error::Action failed:")
	assert.Contains(t, stdout, "401")
	assert.NotContains(t, stdout, "::notice::")
	assert.NoFileExists(t, env.output)
}

func TestExecute_MaxWaitCancelsJob(t *testing.T) {
	env := setup(t)
	env.srv.ScriptJob(5, awxtest.Status("running"))

	code, stdout, _ := runCLI(env.args("--max-wait", "200ms", "--cancel-on-abort")...)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "::error::Action failed:")
	assert.Equal(t, []string{"5"}, env.srv.Cancels())
	assert.Contains(t, readFile(t, env.output), "status=running")
}

func TestExecute_EnvironmentInputs(t *testing.T) {
	env := setup(t)
	env.srv.ScriptJob(9, awxtest.Status("successful"))

	t.Setenv("INPUT_AWX_URL", env.srv.URL)
	t.Setenv("INPUT_AWX_TOKEN", testToken)
	t.Setenv("INPUT_AWX_TEMPLATE_ID", "33")
	t.Setenv("INPUT_AWX_CA_CERTS", env.srv.CertPEM())
	t.Setenv("INPUT_PR_BRANCH", "feature/x")
	t.Setenv("INPUT_PR_COMMIT", "def456")
	t.Setenv("INPUT_PR_USER", "bob")
	t.Setenv("AWXTRIGGER_POLL_INTERVAL", "10ms")

	code, stdout, stderr := runCLI("--config=", "--env-file=")

	require.Equal(t, 0, code, stdout+stderr)
	launches := env.srv.Launches()
	require.Len(t, launches, 1)
	assert.Equal(t, "33", launches[0].TemplateID)
	assert.Equal(t, "feature/x", launches[0].ExtraVars["oak_repo_branch"])
	assert.Equal(t, "bob", launches[0].ExtraVars["username"])
}

func TestExecute_InvalidConfiguration(t *testing.T) {
	setup(t)

	code, stdout, _ := runCLI("--config=", "--env-file=", "--awx-url", "awx.example.com")

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "::error::Action failed: invalid configuration")
}

func TestExecute_RejectsPlainHTTP(t *testing.T) {
	env := setup(t)
	env.srv.ScriptJob(1, awxtest.Status("successful"))

	code, stdout, _ := runCLI(env.args("--awx-url", "http://"+env.srv.Listener.Addr().String())...)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "must be https")
	assert.Empty(t, env.srv.Launches())
}

func TestExecute_MissingConfigFile(t *testing.T) {
	setup(t)

	code, stdout, _ := runCLI("--config", filepath.Join(t.TempDir(), "absent.yaml"), "--env-file=")

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Action failed:")
}

func TestExecute_RejectsArguments(t *testing.T) {
	setup(t)

	code, _, _ := runCLI("unexpected")
	assert.Equal(t, 1, code)
}

func TestExecute_Version(t *testing.T) {
	setup(t)

	code, stdout, _ := runCLI("--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, version)
}
