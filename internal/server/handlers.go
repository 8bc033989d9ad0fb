package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

type recordRequest struct {
	JobID           string             `json:"job_id"`
	StartTime       time.Time          `json:"start_time"`
	DurationSeconds float64            `json:"duration_seconds"`
	Success         bool               `json:"success"`
	ResourceUsage   map[string]float64 `json:"resource_usage,omitempty"`
}

type trackRequest struct {
	JobID         string             `json:"job_id"`
	StartTime     time.Time          `json:"start_time"`
	EndTime       time.Time          `json:"end_time"`
	Success       bool               `json:"success"`
	ResourceUsage map[string]float64 `json:"resource_usage,omitempty"`
}

type batchRequest struct {
	JobIDs []string `json:"job_ids"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.adv.RecordExecution(r.Context(), req.JobID, req.StartTime, req.DurationSeconds, req.Success, req.ResourceUsage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if job == "" {
		respondError(w, http.StatusBadRequest, "job is required")
		return
	}
	pred, err := s.adv.Predict(r.Context(), job)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.JobIDs) == 0 {
		respondError(w, http.StatusBadRequest, "job_ids is required")
		return
	}
	preds, err := s.adv.PredictBatch(r.Context(), req.JobIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preds)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.JobID == "" {
		respondError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if req.EndTime.Before(req.StartTime) {
		respondError(w, http.StatusBadRequest, "end_time precedes start_time")
		return
	}

	cmp, err := s.adv.TrackExecution(r.Context(), req.JobID, req.StartTime, req.EndTime, req.Success, req.ResourceUsage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cmp)
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.adv.AccuracyMetrics(r.Context(), r.URL.Query().Get("job"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.adv.MetaLearningReport(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// fail maps pipeline errors to status codes. Contention is the retriable
// case; everything else from the advisor on these paths is bad input.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrBusy):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "storage busy, retry")
	case errors.Is(err, storage.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		s.log.Warn("request rejected",
			logx.String("path", r.URL.Path), logx.Err(err))
		respondError(w, http.StatusBadRequest, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
