package grid

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HTTPServer exposes read-only scheduler state as JSON.
type HTTPServer struct {
	mux       *http.ServeMux
	jobs      *JobStore
	scheduler *Scheduler
}

func NewHTTPServer(jobs *JobStore, scheduler *Scheduler) *HTTPServer {
	s := &HTTPServer{
		mux:       http.NewServeMux(),
		jobs:      jobs,
		scheduler: scheduler,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/jobs", s.handleJobs)
	s.mux.HandleFunc("/v1/jobs/", s.handleJobByID)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleJobs reports job counts per state
func (s *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"slots":  s.scheduler.Slots(),
		"total":  s.jobs.Len(),
		"counts": s.jobs.Counts(),
	})
}

func (s *HTTPServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}
	rec, ok := s.jobs.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, convertJobToJSON(rec))
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func convertJobToJSON(rec JobRecord) map[string]any {
	return map[string]any{
		"id":              rec.Job.ID,
		"state":           rec.Status.State,
		"exit_code":       rec.Status.ExitCode,
		"elapsed_seconds": rec.Status.ElapsedSeconds,
		"error":           rec.Status.Error,
		"dir":             rec.Job.Dir,
		"created_at_ms":   rec.CreatedAtUnixMs,
		"started_at_ms":   rec.StartedAtUnixMs,
		"ended_at_ms":     rec.EndedAtUnixMs,
	}
}
