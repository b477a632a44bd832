package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"awxtrigger/internal/engine"
)

const (
	// DefaultPath is read when no config file is given; it may be absent
	DefaultPath = "awxtrigger.yaml"
	// DefaultEnvFile is loaded into the environment when present
	DefaultEnvFile = ".env"

	envPrefix = "AWXTRIGGER_"
)

// Config represents the application configuration
type Config struct {
	AWX   AWXConfig   `yaml:"awx"`
	Run   RunConfig   `yaml:"run"`
	Poll  PollConfig  `yaml:"poll"`
	Audit AuditConfig `yaml:"audit"`
	Log   LogConfig   `yaml:"log"`
}

// AWXConfig represents the connection to the AWX API
type AWXConfig struct {
	URL         string        `yaml:"url"` // host[:port] or full https URL
	Token       string        `yaml:"token"`
	TemplateID  string        `yaml:"template_id"`
	Timeout     time.Duration `yaml:"timeout"` // per request
	CACertFiles []string      `yaml:"ca_cert_files"`
	CACertsPEM  string        `yaml:"ca_certs_pem"`
}

// RunConfig describes the revision under test
type RunConfig struct {
	Branch string `yaml:"branch"`
	Commit string `yaml:"commit"`
	User   string `yaml:"user"`
}

// PollConfig controls how the job status is awaited
type PollConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MaxWait       time.Duration `yaml:"max_wait"`    // 0 waits forever
	MaxRetries    uint64        `yaml:"max_retries"` // transient poll errors only
	RetryDelay    time.Duration `yaml:"retry_delay"`
	CancelOnAbort bool          `yaml:"cancel_on_abort"`
}

// AuditConfig represents the optional run ledger
type AuditConfig struct {
	Path string `yaml:"path"` // empty disables auditing
}

// LogConfig represents the logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Override mutates a loaded configuration before defaults and validation
type Override func(cfg *Config)

// LaunchRequest builds the launch request described by the configuration
func (c *Config) LaunchRequest() engine.LaunchRequest {
	return engine.NewLaunchRequest(c.AWX.TemplateID, c.Run.Branch, c.Run.Commit, c.Run.User)
}

// Load loads the configuration from the given file path.
// An empty path skips the file, and a missing DefaultPath is not an error.
func Load(filePath string, overrides ...Override) (*Config, error) {
	config := &Config{}

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // Trusted file path input
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
			}
		case errors.Is(err, fs.ErrNotExist) && filePath == DefaultPath:
		default:
			return nil, err
		}
	}

	if err := applyEnvVars(config); err != nil {
		return nil, err
	}

	for _, override := range overrides {
		override(config)
	}

	setDefaults(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultEnvFile {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// applyEnvVars applies environment variables to the configuration.
// GitHub Action inputs (INPUT_*) are read first so that AWXTRIGGER_* wins.
// Values that do not parse are reported together.
func applyEnvVars(config *Config) error {
	var errs []error
	setString := func(dst *string, names ...string) {
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}
	}
	setDuration := func(dst *time.Duration, name string) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %q is not a duration such as 30s or 1m", name, v))
				return
			}
			*dst = d
		}
	}

	// AWX configuration
	setString(&config.AWX.URL, "INPUT_AWX_URL", envPrefix+"AWX_URL")
	setString(&config.AWX.Token, "INPUT_AWX_TOKEN", envPrefix+"AWX_TOKEN")
	setString(&config.AWX.TemplateID, "INPUT_AWX_TEMPLATE_ID", envPrefix+"AWX_TEMPLATE_ID")
	setDuration(&config.AWX.Timeout, envPrefix+"AWX_TIMEOUT")
	if files := os.Getenv(envPrefix + "AWX_CA_CERT_FILES"); files != "" {
		config.AWX.CACertFiles = splitList(files)
	}
	setString(&config.AWX.CACertsPEM, "INPUT_AWX_CA_CERTS", envPrefix+"AWX_CA_CERTS_PEM")

	// Revision under test
	setString(&config.Run.Branch, "INPUT_PR_BRANCH", envPrefix+"BRANCH")
	setString(&config.Run.Commit, "INPUT_PR_COMMIT", envPrefix+"COMMIT")
	setString(&config.Run.User, "INPUT_PR_USER", envPrefix+"USER")

	// Polling
	setDuration(&config.Poll.Interval, envPrefix+"POLL_INTERVAL")
	setDuration(&config.Poll.MaxWait, envPrefix+"POLL_MAX_WAIT")
	setDuration(&config.Poll.RetryDelay, envPrefix+"POLL_RETRY_DELAY")
	if v := os.Getenv(envPrefix + "POLL_MAX_RETRIES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %sPOLL_MAX_RETRIES: %q is not a non-negative integer", envPrefix, v))
		} else {
			config.Poll.MaxRetries = n
		}
	}
	if v := os.Getenv(envPrefix + "POLL_CANCEL_ON_ABORT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %sPOLL_CANCEL_ON_ABORT: %q is not a boolean", envPrefix, v))
		} else {
			config.Poll.CancelOnAbort = b
		}
	}

	setString(&config.Audit.Path, envPrefix+"AUDIT_PATH")

	setString(&config.Log.Level, envPrefix+"LOG_LEVEL")
	setString(&config.Log.Format, envPrefix+"LOG_FORMAT")

	return errors.Join(errs...)
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	config.AWX.URL = strings.TrimSpace(config.AWX.URL)

	if config.AWX.Timeout == 0 {
		config.AWX.Timeout = 30 * time.Second
	}

	if config.Poll.Interval == 0 {
		config.Poll.Interval = time.Minute
	}
	if config.Poll.RetryDelay == 0 {
		config.Poll.RetryDelay = 10 * time.Second
	}

	config.Log.Level = normalizeLogLevel(config.Log.Level)
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// normalizeLogLevel falls back to info for unknown levels
func normalizeLogLevel(level string) string {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	level = strings.ToLower(strings.TrimSpace(level))
	if validLevels[level] {
		return level
	}
	return "info"
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.AWX.URL == "" {
		return fmt.Errorf("awx.url is required")
	}
	u, err := url.Parse(NormalizeBaseURL(cfg.AWX.URL))
	if err != nil {
		return fmt.Errorf("invalid awx.url: %v", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("invalid awx.url: scheme %q is not allowed (must be https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid awx.url: missing host")
	}
	if cfg.AWX.Token == "" {
		return fmt.Errorf("awx.token is required")
	}
	if cfg.AWX.TemplateID == "" {
		return fmt.Errorf("awx.template_id is required")
	}
	if cfg.AWX.Timeout < 0 {
		return fmt.Errorf("invalid awx.timeout: %s (must be non-negative)", cfg.AWX.Timeout)
	}

	if cfg.Run.Branch == "" {
		return fmt.Errorf("run.branch is required")
	}
	if cfg.Run.Commit == "" {
		return fmt.Errorf("run.commit is required")
	}
	if cfg.Run.User == "" {
		return fmt.Errorf("run.user is required")
	}

	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("invalid poll.interval: %s (must be positive)", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxWait < 0 {
		return fmt.Errorf("invalid poll.max_wait: %s (must be non-negative)", cfg.Poll.MaxWait)
	}
	if cfg.Poll.RetryDelay < 0 {
		return fmt.Errorf("invalid poll.retry_delay: %s (must be non-negative)", cfg.Poll.RetryDelay)
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %q (must be text or json)", cfg.Log.Format)
	}

	return nil
}

// NormalizeBaseURL turns a bare host into an https URL and drops trailing slashes.
// An explicit scheme is kept so that validation can reject it.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
