package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voxlane/voxlane/internal/history"
	"github.com/voxlane/voxlane/internal/model"
	"github.com/voxlane/voxlane/internal/results"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// jobStatusResponse is the JSON response for GET /v1/jobs/{id}.
type jobStatusResponse struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	State   string         `json:"state,omitempty"`
	Evicted bool           `json:"evicted,omitempty"`
	Result  *model.Result  `json:"result,omitempty"`
	Failure *model.Failure `json:"failure,omitempty"`
}

// listJobsResponse wraps the paginated history listing.
type listJobsResponse struct {
	Jobs   []*history.Job `json:"jobs"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fetched, err := s.dispatch.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("get job status", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job status")
		return
	}

	resp := jobStatusResponse{
		ID:      id,
		Status:  fetched.Status,
		State:   fetched.PendingState,
		Evicted: fetched.Evicted,
		Result:  fetched.Result,
		Failure: fetched.Failure,
	}

	status := http.StatusOK
	if fetched.Status == results.StatusUnknown {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleGetJobAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fetched, err := s.dispatch.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("get job audio", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job audio")
		return
	}

	switch fetched.Status {
	case results.StatusReady:
		w.Header().Set("Content-Type", fetched.Result.ContentType)
		w.Header().Set("X-Job-Id", id)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(fetched.Audio); err != nil {
			s.logger.Error("write audio response", "job_id", id, "error", err)
		}
	case results.StatusFailed:
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job failed",
			"kind":   fetched.Failure.Kind,
			"detail": fetched.Failure.Message,
		})
	case results.StatusPending:
		s.writeError(w, http.StatusConflict, "job is not finished")
	default:
		s.writeError(w, http.StatusNotFound, "job not found")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "submission history is disabled")
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.history.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*history.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// parseIntQuery parses an integer query parameter, returning the default on
// absence or parse failure.
func parseIntQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
