package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
)

const sessionCookie = "visionbatch_session"

// session returns the caller's session, creating one and setting the cookie
// when the request has none or it has expired.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) storage.Session {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if s, ok := h.sessions.Get(c.Value); ok {
			return s
		}
	}

	s := storage.Session{
		ID:        uuid.NewString(),
		Settings:  h.defaultSettings(),
		CreatedAt: time.Now(),
	}
	h.sessions.Set(s)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Debug("Created session", "session_id", s.ID)
	return s
}

func (h *Handler) defaultSettings() storage.Settings {
	return storage.Settings{
		Subject:        h.cfg.DefaultSubject,
		InitialPrompt:  h.cfg.DefaultPrompt,
		EnhancedPrompt: h.cfg.DefaultEnhancedPrompt,
	}
}

func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	h.writeJSON(w, http.StatusOK, session.Settings)
}

func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)

	var update storage.Settings
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	defaults := h.defaultSettings()
	settings := storage.Settings{
		Subject:        orDefault(update.Subject, defaults.Subject),
		InitialPrompt:  orDefault(update.InitialPrompt, defaults.InitialPrompt),
		EnhancedPrompt: orDefault(update.EnhancedPrompt, defaults.EnhancedPrompt),
	}

	updated, _ := h.sessions.Update(session.ID, func(s *storage.Session) {
		s.Settings = settings
	})
	h.logger.Info("Updated settings", "session_id", session.ID, "subject", settings.Subject)
	h.writeJSON(w, http.StatusOK, updated.Settings)
}

func (h *Handler) HandleResetSettings(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	updated, _ := h.sessions.Update(session.ID, func(s *storage.Session) {
		s.Settings = h.defaultSettings()
	})
	h.logger.Info("Reset settings to defaults", "session_id", session.ID)
	h.writeJSON(w, http.StatusOK, updated.Settings)
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
