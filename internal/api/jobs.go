package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/docpipeline/pkg/core"
)

// JobView is the dashboard representation of a job.
type JobView struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	State       core.State      `json:"state"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NotBefore   time.Time       `json:"notBefore"`
	ClaimedBy   string          `json:"claimedBy,omitempty"`
	ClaimedAt   *time.Time      `json:"claimedAt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// NewJobView converts a stored job for display.
func NewJobView(job *core.Job) JobView {
	v := JobView{
		ID:          job.ID,
		Kind:        job.Kind,
		State:       job.State,
		Attempts:    job.AttemptCount,
		MaxAttempts: job.MaxAttempts,
		NotBefore:   job.NotBefore,
		ClaimedBy:   job.ClaimedBy,
		ClaimedAt:   job.ClaimedAt,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		FinishedAt:  job.FinishedAt,
	}
	if json.Valid(job.Payload) {
		v.Payload = job.Payload
	}
	return v
}

// JobStats returns job counts for every state, including empty ones.
func JobStats(counts map[core.State]int64) map[core.State]int64 {
	out := make(map[core.State]int64, len(core.AllStates))
	for _, s := range core.AllStates {
		out[s] = counts[s]
	}
	return out
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.config.Logger.Error("failed to read job stats", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, JobStats(counts))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, core.ErrJobNotFound) {
		writeMessage(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.config.Logger.Error("failed to load job", "job_id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, NewJobView(job))
}
