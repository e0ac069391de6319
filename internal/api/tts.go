package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voxlane/voxlane/internal/dispatch"
	"github.com/voxlane/voxlane/internal/model"
	"github.com/voxlane/voxlane/internal/results"
)

// synthesizeRequest is the JSON body for POST /v1/tts and /v1/tts/async.
// Reference audio rides along base64-encoded; multipart submissions carry
// it as a file part instead.
type synthesizeRequest struct {
	Engine       string  `json:"engine"`
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	Voice        string  `json:"voice"`
	Model        string  `json:"model"`
	Speed        float64 `json:"speed"`
	ReferenceB64 string  `json:"reference_b64"`
}

// acceptedResponse is the 202 body for POST /v1/tts/async.
type acceptedResponse struct {
	ID        string    `json:"id"`
	Engine    string    `json:"engine"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	env, ok := s.submit(w, r)
	if !ok {
		return
	}

	fetched, err := s.dispatch.Await(r.Context(), env.ID, s.cfg.AwaitTimeout())
	if errors.Is(err, dispatch.ErrAwaitTimeout) {
		s.writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":  "synthesis did not finish in time",
			"job_id": env.ID,
		})
		return
	}
	if errors.Is(err, context.Canceled) {
		// Client went away mid-wait; the job keeps running server-side.
		return
	}
	if err != nil {
		s.logger.Error("await synthesis result", "job_id", env.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve job outcome")
		return
	}

	switch fetched.Status {
	case results.StatusReady:
		w.Header().Set("Content-Type", fetched.Result.ContentType)
		w.Header().Set("X-Job-Id", env.ID)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(fetched.Audio); err != nil {
			s.logger.Error("write audio response", "job_id", env.ID, "error", err)
		}
	case results.StatusFailed:
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "synthesis failed",
			"kind":   fetched.Failure.Kind,
			"detail": fetched.Failure.Message,
			"job_id": env.ID,
		})
	default:
		s.logger.Error("unexpected status after await", "job_id", env.ID, "status", fetched.Status)
		s.writeError(w, http.StatusInternalServerError, "unexpected job status")
	}
}

func (s *Server) handleSynthesizeAsync(w http.ResponseWriter, r *http.Request) {
	env, ok := s.submit(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusAccepted, acceptedResponse{
		ID:        env.ID,
		Engine:    env.Engine,
		State:     env.State,
		CreatedAt: env.CreatedAt,
	})
}

// submit parses the request body and enqueues the job, writing the error
// response itself when anything is rejected.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) (*model.Envelope, bool) {
	req, err := s.parseSynthesizeRequest(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	env, err := s.dispatch.Submit(r.Context(), req)
	switch {
	case err == nil:
		return env, true
	case errors.Is(err, dispatch.ErrEngineUnavailable),
		errors.Is(err, dispatch.ErrEmptyText),
		errors.Is(err, dispatch.ErrTextTooLong),
		errors.Is(err, dispatch.ErrRefTooLarge):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	default:
		s.logger.Error("submit job", "engine", req.Engine, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return nil, false
	}
}

// parseSynthesizeRequest decodes a JSON or multipart synthesis submission.
func (s *Server) parseSynthesizeRequest(w http.ResponseWriter, r *http.Request) (dispatch.Request, error) {
	// Budget for the reference artifact plus base64 expansion and the
	// text itself; anything larger is rejected before it is buffered.
	limit := s.cfg.MaxRefBytes*2 + int64(s.cfg.MaxTextChars)*4 + 64<<10
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return dispatch.Request{}, fmt.Errorf("invalid Content-Type: %w", err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return parseMultipartRequest(r, s.cfg.MaxRefBytes)
	}

	var body synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return dispatch.Request{}, errors.New("invalid JSON body")
	}

	req := dispatch.Request{
		Engine: body.Engine,
		Text:   body.Text,
		Options: model.SynthesisOptions{
			Language: body.Language,
			Voice:    body.Voice,
			Model:    body.Model,
			Speed:    body.Speed,
		},
	}
	if body.ReferenceB64 != "" {
		ref, err := base64.StdEncoding.DecodeString(body.ReferenceB64)
		if err != nil {
			return dispatch.Request{}, errors.New("reference_b64 is not valid base64")
		}
		req.Ref = ref
	}
	return req, nil
}

func parseMultipartRequest(r *http.Request, maxRefBytes int64) (dispatch.Request, error) {
	if err := r.ParseMultipartForm(maxRefBytes + 64<<10); err != nil {
		return dispatch.Request{}, errors.New("invalid multipart body")
	}

	req := dispatch.Request{
		Engine: r.FormValue("engine"),
		Text:   r.FormValue("text"),
		Options: model.SynthesisOptions{
			Language: r.FormValue("language"),
			Voice:    r.FormValue("voice"),
			Model:    r.FormValue("model"),
		},
	}
	if v := r.FormValue("speed"); v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return dispatch.Request{}, errors.New("speed must be a number")
		}
		req.Options.Speed = speed
	}

	file, _, err := r.FormFile("reference")
	if err == nil {
		defer file.Close()
		ref, err := io.ReadAll(file)
		if err != nil {
			return dispatch.Request{}, errors.New("failed to read reference part")
		}
		req.Ref = ref
	} else if !errors.Is(err, http.ErrMissingFile) {
		return dispatch.Request{}, errors.New("invalid reference part")
	}

	return req, nil
}
