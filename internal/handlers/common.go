package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/lehigh-university-libraries/visionbatch/internal/analysis"
	"github.com/lehigh-university-libraries/visionbatch/internal/config"
	"github.com/lehigh-university-libraries/visionbatch/internal/images"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
)

type Handler struct {
	service  *analysis.Service
	sessions *storage.SessionStore
	fetcher  *images.Fetcher
	cfg      *config.Config
	logger   *slog.Logger

	upgrader     websocket.Upgrader
	pollInterval time.Duration
}

func New(service *analysis.Service, sessions *storage.SessionStore, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		sessions: sessions,
		fetcher:  images.NewFetcher(cfg.AllowedExtensions, cfg.MaxUploadBytes),
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pollInterval: 250 * time.Millisecond,
	}
}

// Routes builds the HTTP API
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestLogger(h.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/healthcheck", h.HandleHealthcheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", h.HandleAnalyze)
		r.Post("/enhanced", h.HandleEnhanced)

		r.Get("/progress/{jobID}", h.HandleProgress)
		r.Get("/progress/{jobID}/ws", h.HandleProgressStream)

		r.Get("/results", h.HandleSessionResults)
		r.Route("/results/{resultID}", func(r chi.Router) {
			r.Get("/", h.HandleResult)
			r.Get("/export", h.HandleExport)
			r.Delete("/images/{index}", h.HandleDeleteImage)
		})
		r.Delete("/delete_image/{index}", h.HandleDeleteSessionImage)

		r.Get("/settings", h.HandleGetSettings)
		r.Put("/settings", h.HandleUpdateSettings)
		r.Post("/settings/reset", h.HandleResetSettings)
	})

	if h.cfg.StaticDir != "" {
		r.Get("/*", h.HandleStatic)
	}

	return r
}

func (h *Handler) HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("Unable to write healthcheck", "err", err)
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		h.logger.Error(message, "status", code)
	} else {
		h.logger.Warn(message, "status", code)
	}
	h.writeJSON(w, code, map[string]any{
		"success": false,
		"error":   message,
	})
}

// requestError carries the status a validation failure should map to
type requestError struct {
	code int
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{code: http.StatusBadRequest, msg: msg}
}

func (h *Handler) writeRequestError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		h.writeError(w, reqErr.msg, reqErr.code)
		return
	}
	h.writeError(w, err.Error(), http.StatusInternalServerError)
}
