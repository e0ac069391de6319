package api

import (
	"net/http"
	"time"

	"github.com/voxlane/voxlane/internal/engine"
)

// engineResponse is one entry in the GET /v1/engines listing. Configured
// engines always appear; readiness and capabilities come from the info file
// the worker publishes, so an engine whose worker never started shows up
// with ready=false.
type engineResponse struct {
	Name         string     `json:"name"`
	Languages    []string   `json:"languages,omitempty"`
	DefaultVoice string     `json:"default_voice,omitempty"`
	Ready        bool       `json:"ready"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	QueueDepth   int        `json:"queue_depth"`
}

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	infos, err := engine.ReadPublishedInfos(s.queue.Layout())
	if err != nil {
		s.logger.Error("read engine infos", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list engines")
		return
	}

	published := make(map[string]engine.Info, len(infos))
	for _, info := range infos {
		published[info.Name] = info
	}

	engines := make([]engineResponse, 0, len(s.cfg.Engines))
	for _, ec := range s.cfg.Engines {
		resp := engineResponse{
			Name:         ec.Name,
			Languages:    ec.Languages,
			DefaultVoice: ec.DefaultVoice,
		}
		if info, ok := published[ec.Name]; ok {
			resp.Ready = info.Ready
			if len(info.Languages) > 0 {
				resp.Languages = info.Languages
			}
			if info.DefaultVoice != "" {
				resp.DefaultVoice = info.DefaultVoice
			}
			if !info.StartedAt.IsZero() {
				started := info.StartedAt
				resp.StartedAt = &started
			}
		}
		if depth, err := s.queue.Depth(ec.Name); err == nil {
			resp.QueueDepth = depth
		}
		engines = append(engines, resp)
	}

	s.writeJSON(w, http.StatusOK, engines)
}
