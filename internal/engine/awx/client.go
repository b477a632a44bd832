package awx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"awxtrigger/internal/config"
	"awxtrigger/internal/logger"
)

// ErrMalformedResponse is returned when AWX answers with an unexpected body
var ErrMalformedResponse = errors.New("malformed response")

// APIError is a non-2xx answer from the AWX API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client represents an AWX API client
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a new AWX client instance.
// The trust store is built from the system roots plus the configured CAs and
// is owned by this client only.
func NewClient(cfg config.AWXConfig) (*Client, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	baseURL := config.NormalizeBaseURL(cfg.URL)

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetTLSClientConfig(tlsConfig).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
	}, nil
}

// BaseURL returns the normalized API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// buildTLSConfig assembles the root CA pool for outbound requests
func buildTLSConfig(cfg config.AWXConfig) (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		logger.Warn("System certificate pool unavailable, using configured CAs only", "error", err)
		pool = x509.NewCertPool()
	}

	for _, path := range cfg.CACertFiles {
		pemData, err := os.ReadFile(path) //nolint:gosec // Trusted file path input
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in CA file %s", path)
		}
	}

	if strings.TrimSpace(cfg.CACertsPEM) != "" {
		if !pool.AppendCertsFromPEM([]byte(cfg.CACertsPEM)) {
			return nil, errors.New("no certificates found in inline CA bundle")
		}
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// doRequest sends a request to the AWX API and returns the response body
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	if !resp.IsSuccess() {
		logger.Error("AWX API request failed", "status", resp.Status(), "method", method, "url", c.baseURL+path)
		return nil, formatAPIError(resp.StatusCode(), resp.Body())
	}

	logger.Debug("AWX API request", "method", method, "url", c.baseURL+path, "status", resp.StatusCode(), "duration", resp.Time())
	return resp.Body(), nil
}

// formatAPIError turns an AWX error answer into a user-facing error.
// AWX reports problems in a "detail" field.
func formatAPIError(statusCode int, responseBody []byte) error {
	var message string
	switch {
	case statusCode == http.StatusUnauthorized:
		message = "authentication failed: invalid or expired token"
	case statusCode == http.StatusForbidden:
		message = "access denied: token lacks permission on this resource"
	case statusCode == http.StatusNotFound:
		message = "resource not found"
	case statusCode == http.StatusBadRequest:
		message = "invalid request"
	case statusCode == http.StatusTooManyRequests:
		message = "rate limit exceeded"
	case statusCode >= http.StatusInternalServerError:
		message = "awx server error"
	default:
		message = "awx api request failed"
	}

	if gjson.ValidBytes(responseBody) {
		if detail := gjson.GetBytes(responseBody, "detail").String(); detail != "" {
			message += ": " + detail
		}
	}

	return &APIError{StatusCode: statusCode, Message: message}
}

// IsTransient reports whether a failed request may succeed when repeated:
// transport failures including request timeouts, and HTTP 408, 429 and 5xx answers
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}

	return true
}

// restyLogger routes resty's own diagnostics into the application logger
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "http")
}

func (restyLogger) Warnf(format string, v ...any) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "http")
}

func (restyLogger) Debugf(format string, v ...any) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "http")
}
