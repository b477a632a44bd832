// Package awxtest provides an in-process AWX API double for tests.
package awxtest

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

const maxBodySize = 1 << 20

// Step is one scripted answer of the job status endpoint
type Step struct {
	Status string        // reported job status
	Code   int           // HTTP error code instead of a status
	Body   string        // raw body instead of a status
	Drop   bool          // close the connection without answering
	Delay  time.Duration // wait before answering
}

// Status answers with the given job status
func Status(status string) Step { return Step{Status: status} }

// Fail answers with an HTTP error code
func Fail(code int) Step { return Step{Code: code} }

// Raw answers 200 with the given body
func Raw(body string) Step { return Step{Body: body} }

// Drop closes the connection, producing a transport error on the client
func Drop() Step { return Step{Drop: true} }

// Slow answers with the given job status after delay
func Slow(delay time.Duration, status string) Step { return Step{Status: status, Delay: delay} }

// LaunchCall records a received launch request
type LaunchCall struct {
	TemplateID string
	ExtraVars  map[string]string
}

// Server is a fake AWX API served over TLS
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	launchCode   int
	launchBody   string
	launches     []LaunchCall
	steps        map[string][]Step
	polls        map[string]int
	cancels      []string
	unauthorized int
}

// NewServer starts a fake AWX API accepting the given bearer token
func NewServer(token string) *Server {
	s := &Server{
		launchCode: http.StatusCreated,
		steps:      make(map[string][]Step),
		polls:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/workflow_job_templates/{id}/launch/{$}", s.handleLaunch)
	mux.HandleFunc("GET /api/v2/workflow_jobs/{id}/{$}", s.handleJob)
	mux.HandleFunc("POST /api/v2/workflow_jobs/{id}/cancel/{$}", s.handleCancel)

	auth := newAuthMiddleware(token, func() {
		s.mu.Lock()
		s.unauthorized++
		s.mu.Unlock()
	})
	s.Server = httptest.NewUnstartedServer(auth.Middleware(limitBodySize(maxBodySize, mux)))
	// One request per connection, so the client transport never replays a
	// dropped status query on a reused connection
	s.Server.Config.SetKeepAlivesEnabled(false)
	s.Server.StartTLS()
	return s
}

// CertPEM returns the server certificate so clients can trust it
func (s *Server) CertPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.Certificate().Raw}))
}

// ScriptJob makes the next launch return jobID and the status endpoint of
// that job answer with steps in order, repeating the last one
func (s *Server) ScriptJob(jobID int, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.launchCode = http.StatusCreated
	s.launchBody = fmt.Sprintf(`{"workflow_job": %d, "id": %d, "status": "pending"}`, jobID, jobID)
	s.steps[strconv.Itoa(jobID)] = steps
}

// SetLaunchResponse overrides the launch answer
func (s *Server) SetLaunchResponse(code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.launchCode = code
	s.launchBody = body
}

// Launches returns the launch requests received so far
func (s *Server) Launches() []LaunchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LaunchCall(nil), s.launches...)
}

// Polls returns how many status queries the job received
func (s *Server) Polls(jobID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[strconv.Itoa(jobID)]
}

// TotalPolls returns the number of status queries across all jobs
func (s *Server) TotalPolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.polls {
		total += n
	}
	return total
}

// Cancels returns the ids of jobs that received a cancel request
func (s *Server) Cancels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancels...)
}

// Unauthorized returns how many requests were rejected for a bad token
func (s *Server) Unauthorized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unauthorized
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExtraVars map[string]string `json:"extra_vars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, `{"detail": "JSON parse error"}`)
		return
	}

	s.mu.Lock()
	s.launches = append(s.launches, LaunchCall{TemplateID: r.PathValue("id"), ExtraVars: req.ExtraVars})
	code, body := s.launchCode, s.launchBody
	s.mu.Unlock()

	writeJSON(w, code, body)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	s.mu.Lock()
	steps, ok := s.steps[jobID]
	n := s.polls[jobID]
	s.polls[jobID] = n + 1
	s.mu.Unlock()

	if !ok || len(steps) == 0 {
		writeJSON(w, http.StatusNotFound, `{"detail": "Not found."}`)
		return
	}

	step := steps[len(steps)-1]
	if n < len(steps) {
		step = steps[n]
	}

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case step.Drop:
		hj, ok := w.(http.Hijacker)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, `{"detail": "hijack unsupported"}`)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	case step.Code != 0:
		writeJSON(w, step.Code, fmt.Sprintf(`{"detail": %q}`, http.StatusText(step.Code)))
	case step.Body != "":
		writeJSON(w, http.StatusOK, step.Body)
	default:
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id": %s, "status": %q, "failed": %t}`,
			jobID, step.Status, step.Status == "failed" || step.Status == "error"))
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.cancels = append(s.cancels, r.PathValue("id"))
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
