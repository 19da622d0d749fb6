package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/lehigh-university-libraries/visionbatch/internal/progress"
)

// HandleProgressStream pushes the job's progress record over a websocket
// whenever it changes, closing once the job reaches a terminal status.
func (h *Handler) HandleProgressStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rec, err := h.service.GetProgress(jobID)
	if errors.Is(err, progress.ErrNotFound) {
		h.writeError(w, "Job not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade error", "job_id", jobID, "err", err)
		return
	}
	defer conn.Close()

	// Reads only detect the client going away
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last models.ProgressRecord
	first := true
	for {
		if first || changed(last, rec) {
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				h.logger.Warn("Progress stream write failed", "job_id", jobID, "err", err)
				return
			}
			last, first = rec, false
		}
		if rec.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(rec.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		rec, err = h.service.GetProgress(jobID)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "job no longer tracked")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

func changed(a, b models.ProgressRecord) bool {
	return a.Completed != b.Completed || a.Status != b.Status || !a.UpdatedAt.Equal(b.UpdatedAt)
}
