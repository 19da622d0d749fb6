package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/visionbatch/internal/batch"
	"github.com/lehigh-university-libraries/visionbatch/internal/jobs"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/lehigh-university-libraries/visionbatch/internal/progress"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
)

var (
	ErrNoImages   = errors.New("no images to analyze")
	ErrNotBaseSet = errors.New("enhanced analysis requires an initial result set")
)

// Service is the boundary the presentation layer talks to. It owns the
// sequencing of placeholder creation, job submission and result storage.
type Service struct {
	tracker   *progress.Tracker
	store     *storage.ResultStore
	runner    *jobs.Runner
	processor *batch.Processor
	logger    *slog.Logger
	newID     func() string
}

func NewService(tracker *progress.Tracker, store *storage.ResultStore, runner *jobs.Runner, processor *batch.Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tracker:   tracker,
		store:     store,
		runner:    runner,
		processor: processor,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// SubmitBatch starts the initial yes/no pass over images. The progress record
// and an empty result set exist before this returns, so an immediate poll on
// either id succeeds.
func (s *Service) SubmitBatch(images []models.ImageInput, prompt, subject string) (string, string, error) {
	if len(images) == 0 {
		return "", "", ErrNoImages
	}

	jobID, resultID := s.newID(), s.newID()
	s.store.Put(models.ResultSet{
		ID:      resultID,
		Kind:    models.KindInitial,
		Subject: subject,
		Prompt:  prompt,
	})
	s.tracker.Create(jobID, resultID, len(images))

	s.logger.Info("Starting to process images", "job_id", jobID, "result_id", resultID, "count", len(images))

	err := s.runner.Submit(jobID, func(ctx context.Context) error {
		defer s.store.MarkFinished(resultID)
		start := time.Now()
		results := s.processor.RunInitial(ctx, images, prompt, s.progressFunc(jobID))
		if err := s.store.SetResults(resultID, results); err != nil {
			return fmt.Errorf("result set was removed while processing: %w", err)
		}

		set := models.ResultSet{Results: results}
		summary := set.Summarize()
		s.logger.Info("Completed processing images",
			"job_id", jobID,
			"count", len(results),
			"duration", time.Since(start),
			"detected", summary.Detected,
			"not_detected", summary.NotDetected,
			"unknown", summary.Unknown,
			"failed", summary.Failed)
		return nil
	})
	if err != nil {
		_ = s.tracker.MarkStatus(jobID, models.StatusError, err.Error())
		s.store.Delete(resultID)
		return "", "", err
	}

	return jobID, resultID, nil
}

// SubmitEnhancedBatch runs the descriptive pass over positively detected
// images of a base result set. An empty selection means every detected image;
// selected images that were not detected are skipped. Any earlier enhanced set
// for the same base is replaced. If the base changes between the selection
// and the registration of the enhanced set, storage.ErrParentChanged is returned.
func (s *Service) SubmitEnhancedBatch(resultID string, selected []int, prompt string) (string, string, error) {
	base, ok := s.store.Get(resultID)
	if !ok {
		return "", "", storage.ErrNotFound
	}
	if base.Kind == models.KindEnhanced {
		return "", "", ErrNotBaseSet
	}

	items, err := selectDetected(base.Results, selected)
	if err != nil {
		return "", "", err
	}
	if len(items) == 0 {
		return "", "", ErrNoImages
	}

	jobID, enhancedID := s.newID(), s.newID()
	err = s.store.PutDependent(resultID, base.Revision, models.ResultSet{
		ID:      enhancedID,
		Kind:    models.KindEnhanced,
		Subject: base.Subject,
		Prompt:  prompt,
	})
	if err != nil {
		return "", "", err
	}
	s.tracker.Create(jobID, enhancedID, len(items))

	s.logger.Info("Starting enhanced analysis", "job_id", jobID, "result_id", enhancedID, "parent_id", resultID, "count", len(items))

	err = s.runner.Submit(jobID, func(ctx context.Context) error {
		defer s.store.MarkFinished(enhancedID)
		results := s.processor.RunEnhanced(ctx, items, prompt, s.progressFunc(jobID))
		if err := s.store.SetResults(enhancedID, results); err != nil {
			return fmt.Errorf("enhanced results were invalidated by a change to the base result set: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = s.tracker.MarkStatus(jobID, models.StatusError, err.Error())
		s.store.Delete(enhancedID)
		return "", "", err
	}

	return jobID, enhancedID, nil
}

func (s *Service) progressFunc(jobID string) batch.ProgressFunc {
	return func(index int, filename string) {
		_ = s.tracker.Update(jobID, index+1, filename)
	}
}

func selectDetected(results []models.ImageResult, selected []int) ([]models.ImageResult, error) {
	var items []models.ImageResult
	if len(selected) == 0 {
		for _, r := range results {
			if r.Detection == models.DetectionTrue {
				items = append(items, r)
			}
		}
		return items, nil
	}

	seen := make(map[int]bool, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(results) {
			return nil, storage.ErrIndexOutOfRange
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if results[idx].Detection == models.DetectionTrue {
			items = append(items, results[idx])
		}
	}
	return items, nil
}

// GetProgress returns the job's progress or progress.ErrNotFound
func (s *Service) GetProgress(jobID string) (models.ProgressRecord, error) {
	return s.tracker.Get(jobID)
}

// GetResults returns the stored result set, if any
func (s *Service) GetResults(resultID string) (models.ResultSet, bool) {
	return s.store.Get(resultID)
}

// DeleteResultItem removes one image and returns the updated set. Indices
// shift after a delete, so callers should use the returned set.
func (s *Service) DeleteResultItem(resultID string, index int) (models.ResultSet, models.ImageResult, error) {
	removed, err := s.store.DeleteItem(resultID, index)
	if err != nil {
		return models.ResultSet{}, models.ImageResult{}, err
	}
	set, ok := s.store.Get(resultID)
	if !ok {
		return models.ResultSet{}, models.ImageResult{}, storage.ErrNotFound
	}
	return set, removed, nil
}

// Supersede drops a result set that a newer run replaces, along with its enhanced results
func (s *Service) Supersede(resultID string) {
	if resultID == "" {
		return
	}
	s.store.Delete(resultID)
	s.logger.Info("Superseded result set", "result_id", resultID)
}

// StartJanitor periodically evicts finished jobs and result sets older than ttl.
// A ttl of zero keeps everything for the lifetime of the process.
func (s *Service) StartJanitor(ctx context.Context, ttl, interval time.Duration, extra ...func(time.Duration) int) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jobsRemoved := s.tracker.Sweep(ttl)
				setsRemoved := s.store.Sweep(ttl)
				for _, sweep := range extra {
					sweep(ttl)
				}
				if jobsRemoved > 0 || setsRemoved > 0 {
					s.logger.Info("Evicted expired entries", "jobs", jobsRemoved, "result_sets", setsRemoved)
				}
			}
		}
	}()
}
