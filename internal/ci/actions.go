// Package ci reports results back to the CI system running the tool.
package ci

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Reporter writes GitHub Actions workflow commands and files.
// Outside of GitHub Actions it only prints plain messages.
type Reporter struct {
	out    io.Writer
	getenv func(string) string
}

// NewReporter creates a reporter for the current process environment
func NewReporter(out io.Writer) *Reporter {
	return NewReporterWithEnv(out, os.Getenv)
}

// NewReporterWithEnv creates a reporter reading variables through getenv
func NewReporterWithEnv(out io.Writer, getenv func(string) string) *Reporter {
	return &Reporter{
		out:    out,
		getenv: getenv,
	}
}

// IsActions reports whether the tool runs inside GitHub Actions
func (r *Reporter) IsActions() bool {
	return r.getenv("GITHUB_ACTIONS") == "true"
}

// Fail reports the failure message to the CI system
func (r *Reporter) Fail(message string) {
	if r.IsActions() {
		fmt.Fprintf(r.out, "::error::%s\n", escapeData(message))
		return
	}
	fmt.Fprintln(r.out, message)
}

// Notice reports an informational annotation
func (r *Reporter) Notice(message string) {
	if r.IsActions() {
		fmt.Fprintf(r.out, "::notice::%s\n", escapeData(message))
		return
	}
	fmt.Fprintln(r.out, message)
}

// MaskValue hides a secret in subsequent log output
func (r *Reporter) MaskValue(value string) {
	if value == "" || !r.IsActions() {
		return
	}
	fmt.Fprintf(r.out, "::add-mask::%s\n", escapeData(value))
}

// SetOutput sets a step output when GITHUB_OUTPUT is available
func (r *Reporter) SetOutput(name, value string) error {
	path := r.getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	var entry string
	if strings.ContainsAny(value, "\r\n") {
		delimiter := "ghadelimiter_" + uuid.NewString()
		entry = fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter)
	} else {
		entry = fmt.Sprintf("%s=%s\n", name, value)
	}
	return appendFile(path, entry)
}

// Summary appends markdown to the job summary when GITHUB_STEP_SUMMARY is available
func (r *Reporter) Summary(markdown string) error {
	path := r.getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return nil
	}
	if !strings.HasSuffix(markdown, "\n") {
		markdown += "\n"
	}
	return appendFile(path, markdown)
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // Path provided by the runner
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// escapeData escapes a workflow command message
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}
