// Package workflowtest provides an in-process fake of the workflow service for tests.
package workflowtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Artifact is a manifest entry plus the bytes served behind its presigned URL.
type Artifact struct {
	ID       string
	Type     string
	MimeType string
	Filename string
	Data     []byte
	NoURL    bool // metadata omits download_url
	Expired  bool // presigned URL answers 403
}

// Usage is reported alongside a status when set.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	DurationMs   int64
}

// Job scripts one remote job. Statuses are returned in order; the last one repeats.
type Job struct {
	Statuses  []string
	Error     string
	Usage     *Usage
	Artifacts []Artifact

	statusCalls int
}

// Counts tallies requests by endpoint.
type Counts struct {
	Create   int
	Status   int
	Manifest int
	Metadata int
	Blob     int
}

// Server is a fake workflow service.
type Server struct {
	*httptest.Server
	APIKey string

	mu             sync.Mutex
	jobs           map[string]*Job
	artifacts      map[string]Artifact
	queued         []*Job
	nextID         int
	counts         Counts
	statusFailures int
	failureCode    int
	failureBody    string
	submissions    []map[string]any
}

// NewServer starts a fake service that requires "Bearer <apiKey>".
func NewServer(apiKey string) *Server {
	s := &Server{
		APIKey:    apiKey,
		jobs:      map[string]*Job{},
		artifacts: map[string]Artifact{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddJob registers an existing remote job.
func (s *Server) AddJob(id string, job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = job
	for _, a := range job.Artifacts {
		s.artifacts[a.ID] = a
	}
}

// QueueJob scripts the next job created through POST /workflows.
func (s *Server) QueueJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, job)
}

// FailStatus makes the next n status calls answer with code and body.
func (s *Server) FailStatus(n, code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFailures = n
	s.failureCode = code
	s.failureBody = body
}

// SetStatuses replaces the remaining status script of a job.
func (s *Server) SetStatuses(id string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Statuses = statuses
		j.statusCalls = 0
	}
}

// Counts returns a snapshot of request counts.
func (s *Server) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Submissions returns the decoded bodies of create calls.
func (s *Server) Submissions() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.submissions...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	if parts[0] == "blobs" && len(parts) == 2 {
		s.serveBlob(w, parts[1])
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodPost && path == "workflows":
		s.create(w, r)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "workflows":
		s.status(w, parts[1])
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "workflows" && parts[2] == "documents":
		s.manifest(w, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "documents":
		s.metadata(w, r, parts[1])
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	raw, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Create++
	s.submissions = append(s.submissions, body)
	s.nextID++
	id := fmt.Sprintf("job-%d", s.nextID)

	job := &Job{Statuses: []string{"COMPLETED"}}
	if len(s.queued) > 0 {
		job, s.queued = s.queued[0], s.queued[1:]
	}
	s.jobs[id] = job
	for _, a := range job.Artifacts {
		s.artifacts[a.ID] = a
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) status(w http.ResponseWriter, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Status++

	if s.statusFailures > 0 {
		s.statusFailures--
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(s.failureCode)
		_, _ = io.WriteString(w, s.failureBody)
		return
	}

	job, ok := s.jobs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}
	idx := job.statusCalls
	if idx >= len(job.Statuses) {
		idx = len(job.Statuses) - 1
	}
	job.statusCalls++

	resp := map[string]any{"status": job.Statuses[idx]}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Usage != nil {
		resp["usage"] = map[string]int{
			"input_tokens":  job.Usage.InputTokens,
			"output_tokens": job.Usage.OutputTokens,
			"total_tokens":  job.Usage.InputTokens + job.Usage.OutputTokens,
		}
		resp["cost_usd"] = job.Usage.CostUSD
		resp["duration_ms"] = job.Usage.DurationMs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) manifest(w http.ResponseWriter, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Manifest++

	job, ok := s.jobs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}
	docs := make([]map[string]string, 0, len(job.Artifacts))
	for _, a := range job.Artifacts {
		docs = append(docs, map[string]string{
			"id":        a.ID,
			"type":      a.Type,
			"mime_type": a.MimeType,
			"filename":  a.Filename,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Metadata++

	a, ok := s.artifacts[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown document"})
		return
	}
	resp := map[string]any{"id": a.ID}
	if !a.NoURL {
		resp["download_url"] = "http://" + r.Host + "/blobs/" + a.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serveBlob(w http.ResponseWriter, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Blob++

	a, ok := s.artifacts[id]
	if !ok || a.Expired {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<Error><Code>AccessDenied</Code></Error>")
		return
	}
	if a.MimeType != "" {
		w.Header().Set("Content-Type", a.MimeType)
	}
	_, _ = w.Write(a.Data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
