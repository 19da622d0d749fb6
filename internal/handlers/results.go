package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lehigh-university-libraries/visionbatch/internal/analysis"
	"github.com/lehigh-university-libraries/visionbatch/internal/export"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/lehigh-university-libraries/visionbatch/internal/progress"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
)

type resultResponse struct {
	Success   bool             `json:"success"`
	ResultSet models.ResultSet `json:"result_set"`
	Summary   models.Summary   `json:"summary"`
}

func newResultResponse(set models.ResultSet) resultResponse {
	return resultResponse{Success: true, ResultSet: set, Summary: set.Summarize()}
}

func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rec, err := h.service.GetProgress(jobID)
	if errors.Is(err, progress.ErrNotFound) {
		h.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	set, ok := h.service.GetResults(chi.URLParam(r, "resultID"))
	if !ok {
		h.writeError(w, "Results not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, newResultResponse(set))
}

// HandleSessionResults returns the caller's current result sets
func (h *Handler) HandleSessionResults(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)

	response := map[string]any{"success": true}
	if set, ok := h.service.GetResults(session.ResultID); ok {
		response["results"] = newResultResponse(set)
		response["job_id"] = session.JobID
	}
	if set, ok := h.service.GetResults(session.EnhancedResultID); ok {
		response["enhanced"] = newResultResponse(set)
		response["enhanced_job_id"] = session.EnhancedJobID
	}
	if len(response) == 1 {
		h.writeError(w, "No results found. Please upload images first.", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) HandleDeleteImage(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	h.deleteImage(w, r, session.ID, chi.URLParam(r, "resultID"))
}

// HandleDeleteSessionImage deletes from the caller's current result set
func (h *Handler) HandleDeleteSessionImage(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session.ResultID == "" {
		h.writeError(w, "No results found", http.StatusNotFound)
		return
	}
	h.deleteImage(w, r, session.ID, session.ResultID)
}

func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request, sessionID, resultID string) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, "Invalid image index", http.StatusBadRequest)
		return
	}

	set, removed, err := h.service.DeleteResultItem(resultID, index)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, "Results not found", http.StatusNotFound)
		return
	case errors.Is(err, storage.ErrIndexOutOfRange):
		h.writeError(w, "Invalid image index", http.StatusBadRequest)
		return
	case err != nil:
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Enhanced results for this set were dropped with the delete
	h.sessions.Update(sessionID, func(s *storage.Session) {
		if s.ResultID == resultID {
			s.EnhancedResultID = ""
			s.EnhancedJobID = ""
		}
	})

	h.logger.Info("Deleted image", "result_id", resultID, "index", index, "filename", removed.Filename)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("Image %s deleted successfully", removed.Filename),
		"result_set": set,
		"summary":    set.Summarize(),
	})
}

func (h *Handler) HandleEnhanced(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)

	var body struct {
		ResultID string `json:"result_id"`
		Indices  []int  `json:"indices"`
		Prompt   string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	resultID := body.ResultID
	if resultID == "" {
		resultID = session.ResultID
	}
	if resultID == "" {
		h.writeError(w, "No results found. Please upload images first.", http.StatusBadRequest)
		return
	}
	prompt := orDefault(body.Prompt, session.Settings.EnhancedPrompt)

	jobID, enhancedID, err := h.service.SubmitEnhancedBatch(resultID, body.Indices, prompt)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, "Results not found", http.StatusNotFound)
		return
	case errors.Is(err, storage.ErrIndexOutOfRange):
		h.writeError(w, "Invalid image index", http.StatusBadRequest)
		return
	case errors.Is(err, analysis.ErrNoImages):
		h.writeError(w, "No positively identified images to analyze", http.StatusBadRequest)
		return
	case errors.Is(err, analysis.ErrNotBaseSet):
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, storage.ErrParentChanged):
		h.writeError(w, "Results changed while starting enhanced analysis, please retry", http.StatusConflict)
		return
	case err != nil:
		h.writeError(w, "Failed to start enhanced analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.sessions.Update(session.ID, func(s *storage.Session) {
		if s.ResultID == resultID {
			s.EnhancedResultID = enhancedID
			s.EnhancedJobID = jobID
		}
	})

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"success":            true,
		"job_id":             jobID,
		"enhanced_result_id": enhancedID,
	})
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")
	set, ok := h.service.GetResults(resultID)
	if !ok {
		h.writeError(w, "Results not found", http.StatusNotFound)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatYAML
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, set); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", resultID+"."+format))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("Unable to write export", "result_id", resultID, "err", err)
	}
}
