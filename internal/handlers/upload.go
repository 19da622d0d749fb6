package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/visionbatch/internal/imaging"
	"github.com/lehigh-university-libraries/visionbatch/internal/images"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
)

type analyzeRequest struct {
	images  []models.ImageInput
	prompt  string
	subject string
}

// HandleAnalyze accepts a multipart upload of images, or a JSON body listing
// image URLs, and starts the initial classification pass.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)

	var (
		req *analyzeRequest
		err error
	)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		req, err = h.readURLUpload(r)
	} else {
		req, err = h.readFileUpload(w, r)
	}
	if err != nil {
		h.writeRequestError(w, err)
		return
	}

	prompt := orDefault(req.prompt, session.Settings.InitialPrompt)
	subject := orDefault(req.subject, session.Settings.Subject)

	jobID, resultID, err := h.service.SubmitBatch(req.images, prompt, subject)
	if err != nil {
		h.writeError(w, "Failed to start analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var previous string
	h.sessions.Update(session.ID, func(s *storage.Session) {
		previous = s.ResultID
		s.ResultID = resultID
		s.JobID = jobID
		s.EnhancedResultID = ""
		s.EnhancedJobID = ""
	})
	h.service.Supersede(previous)

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"job_id":    jobID,
		"result_id": resultID,
		"images":    len(req.images),
	})
}

func (h *Handler) readFileUpload(w http.ResponseWriter, r *http.Request) (*analyzeRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &requestError{
				code: http.StatusRequestEntityTooLarge,
				msg:  fmt.Sprintf("Upload too large (max %d bytes)", h.cfg.MaxUploadBytes),
			}
		}
		return nil, badRequest("Failed to read upload: " + err.Error())
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove temporary upload files", "err", err)
		}
	}()

	files := r.MultipartForm.File["images"]
	if err := h.checkCount(len(files)); err != nil {
		return nil, err
	}

	req := &analyzeRequest{
		images:  make([]models.ImageInput, 0, len(files)),
		prompt:  r.FormValue("prompt"),
		subject: r.FormValue("subject"),
	}
	for _, fh := range files {
		if !imaging.ValidExtension(fh.Filename, h.cfg.AllowedExtensions) {
			return nil, badRequest(fmt.Sprintf("File type not allowed: %s (allowed: %s)", fh.Filename, strings.Join(h.cfg.AllowedExtensions, ", ")))
		}
		file, err := fh.Open()
		if err != nil {
			return nil, badRequest("Failed to read file: " + err.Error())
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, badRequest("Failed to read file contents: " + err.Error())
		}
		req.images = append(req.images, models.ImageInput{Filename: fh.Filename, Data: data})
	}

	h.logger.Info("Received upload", "count", len(req.images))
	return req, nil
}

func (h *Handler) readURLUpload(r *http.Request) (*analyzeRequest, error) {
	var body struct {
		ImageURLs []string `json:"image_urls"`
		Prompt    string   `json:"prompt"`
		Subject   string   `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, badRequest("Invalid JSON: " + err.Error())
	}
	if err := h.checkCount(len(body.ImageURLs)); err != nil {
		return nil, err
	}

	fetched, err := h.fetcher.FetchURLs(r.Context(), body.ImageURLs)
	if err != nil {
		if errors.Is(err, images.ErrTooLarge) {
			return nil, &requestError{code: http.StatusRequestEntityTooLarge, msg: err.Error()}
		}
		return nil, badRequest("Failed to process image URL: " + err.Error())
	}

	return &analyzeRequest{images: fetched, prompt: body.Prompt, subject: body.Subject}, nil
}

func (h *Handler) checkCount(n int) error {
	if n < h.cfg.MinImages || n > h.cfg.MaxImages {
		return badRequest(fmt.Sprintf("Please upload between %d and %d images (got %d)", h.cfg.MinImages, h.cfg.MaxImages, n))
	}
	return nil
}
