package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/progress"
	"github.com/convertlab/siteaudit/internal/store"
)

// launchAnalysis handles POST /v1/analyses. It validates the submission,
// creates the record, schedules the background run, and returns immediately.
// No record is created for an invalid submission.
func (s *Server) launchAnalysis(w http.ResponseWriter, r *http.Request) {
	var req audit.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if problems := validateRequest(req); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": problems})
		return
	}

	rawID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate analysis id")
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate analysis id")
		return
	}

	record := audit.AnalysisRecord{
		ID:        id,
		Status:    audit.StatusProcessing,
		Request:   req,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Create(r.Context(), record); err != nil {
		s.logger.Error("create analysis record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create analysis")
		return
	}

	s.launcher.Launch(id)

	writeJSON(w, http.StatusAccepted, launchResponse{
		AnalysisID:            id.String(),
		Status:                string(audit.StatusProcessing),
		EstimatedTotalSeconds: int(s.opts.TotalBudget.Seconds()),
	})
}

// getAnalysis handles GET /v1/analyses/{analysis_id}. Responses are never
// cacheable; pollers must always see the live record.
func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysis_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	record, err := s.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.logger.Error("load analysis record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, toAnalysisDTO(record, progress.Build(record, s.clock.Now(), s.opts.TotalBudget)))
}

type launchResponse struct {
	AnalysisID            string `json:"analysis_id"`
	Status                string `json:"status"`
	EstimatedTotalSeconds int    `json:"estimated_total_seconds"`
}

type analysisDTO struct {
	AnalysisID   string            `json:"analysis_id"`
	Status       string            `json:"status"`
	Progress     progress.Report   `json:"progress"`
	Data         analysisDataDTO   `json:"data"`
	StageErrors  map[string]string `json:"stage_errors,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

type analysisDataDTO struct {
	Content      *audit.ContentPayload     `json:"content,omitempty"`
	Technologies *audit.TechnologyPayload  `json:"technologies,omitempty"`
	Performance  *audit.PerformancePayload `json:"performance,omitempty"`
	Insights     *audit.InsightPayload     `json:"insights,omitempty"`
}

func toAnalysisDTO(record audit.AnalysisRecord, report progress.Report) analysisDTO {
	dto := analysisDTO{
		AnalysisID: record.ID.String(),
		Status:     string(record.Status),
		Progress:   report,
		Data: analysisDataDTO{
			Content:      record.Content,
			Technologies: record.Technologies,
			Performance:  record.Performance,
			Insights:     record.Insights,
		},
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    record.CreatedAt,
		CompletedAt:  record.CompletedAt,
	}
	if len(record.StageErrors) > 0 {
		dto.StageErrors = make(map[string]string, len(record.StageErrors))
		for stage, msg := range record.StageErrors {
			dto.StageErrors[string(stage)] = msg
		}
	}
	return dto
}
