package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByEngine       map[string]int `json:"by_engine"`
	AvgSynthesisMS float64        `json:"avg_synthesis_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "submission history is disabled")
		return
	}

	stats, err := s.history.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		ByStatus:       stats.CountByStatus,
		ByEngine:       stats.CountByEngine,
		AvgSynthesisMS: stats.AvgSynthesisMS,
	})
}
