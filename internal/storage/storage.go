package storage

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

var (
	ErrNotFound        = errors.New("result set not found")
	ErrIndexOutOfRange = errors.New("image index out of range")
	ErrParentChanged   = errors.New("base result set changed or was removed")
)

// ResultStore holds result sets keyed by id. Enhanced sets are tied to the
// base set they were derived from and are dropped whenever that base changes.
type ResultStore struct {
	sets   map[string]*models.ResultSet
	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time
}

func NewResultStore(logger *slog.Logger) *ResultStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultStore{
		sets:   make(map[string]*models.ResultSet),
		logger: logger,
		now:    time.Now,
	}
}

// Put stores set under set.ID. Replacing an existing set invalidates its dependents.
func (s *ResultStore) Put(set models.ResultSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.CreatedAt.IsZero() {
		set.CreatedAt = s.now()
	}
	if old, exists := s.sets[set.ID]; exists {
		set.Revision = old.Revision + 1
		s.dropDependentsLocked(set.ID)
	}
	set.Results = cloneResults(set.Results)
	s.sets[set.ID] = &set
}

// PutDependent stores set as derived from parentID, replacing any earlier
// dependents of that parent. It fails with ErrParentChanged if the parent is
// gone or its revision is no longer parentRevision.
func (s *ResultStore) PutDependent(parentID string, parentRevision int, set models.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.sets[parentID]
	if !ok || parent.Revision != parentRevision {
		s.logger.Warn("Rejected enhanced set for a changed base", "result_id", set.ID, "parent_id", parentID)
		return ErrParentChanged
	}
	s.dropDependentsLocked(parentID)

	if set.CreatedAt.IsZero() {
		set.CreatedAt = s.now()
	}
	set.ParentID = parentID
	set.Results = cloneResults(set.Results)
	s.sets[set.ID] = &set
	return nil
}

// SetResults fills in the results of an existing set when its batch job
// finishes and marks it finished. Dependents are left alone since the set has
// not been modified by deletion.
func (s *ResultStore) SetResults(id string, results []models.ImageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[id]
	if !ok {
		s.logger.Error("Results for unknown result set", "result_id", id)
		return ErrNotFound
	}
	set.Results = cloneResults(results)
	set.FinishedAt = s.now()
	return nil
}

// MarkFinished stamps FinishedAt on a set that has none, so a batch that ended
// without results still becomes eligible for sweeping.
func (s *ResultStore) MarkFinished(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[id]; ok && set.FinishedAt.IsZero() {
		set.FinishedAt = s.now()
	}
}

// Get returns a copy of the set
func (s *ResultStore) Get(id string) (models.ResultSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[id]
	if !ok {
		return models.ResultSet{}, false
	}
	out := *set
	out.Results = cloneResults(set.Results)
	return out, true
}

// DeleteItem removes the result at index, shifting later results down by one.
// Any enhanced set derived from this one is removed as well.
func (s *ResultStore) DeleteItem(id string, index int) (models.ImageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[id]
	if !ok {
		return models.ImageResult{}, ErrNotFound
	}
	if index < 0 || index >= len(set.Results) {
		s.logger.Warn("Invalid image index for deletion", "result_id", id, "index", index, "len", len(set.Results))
		return models.ImageResult{}, ErrIndexOutOfRange
	}

	removed := set.Results[index]
	results := make([]models.ImageResult, 0, len(set.Results)-1)
	results = append(results, set.Results[:index]...)
	results = append(results, set.Results[index+1:]...)
	set.Results = results
	set.Revision++

	s.dropDependentsLocked(id)
	s.logger.Info("Deleted image", "result_id", id, "index", index, "filename", removed.Filename, "remaining", len(results))
	return removed, nil
}

// Delete removes the set and its dependents
func (s *ResultStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, id)
	s.dropDependentsLocked(id)
}

// Dependents lists ids of sets derived from parentID
func (s *ResultStore) Dependents(parentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, set := range s.sets {
		if set.ParentID == parentID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sweep removes sets that finished more than ttl ago, together with their
// dependents, and returns how many were removed. Sets still being filled are
// kept, and so is any base whose enhanced pass is still running.
func (s *ResultStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	var expired []string
	for id, set := range s.sets {
		if set.FinishedAt.IsZero() || !set.FinishedAt.Before(cutoff) {
			continue
		}
		if s.hasPendingDependentLocked(id) {
			continue
		}
		expired = append(expired, id)
	}

	removed := 0
	for _, id := range expired {
		if _, ok := s.sets[id]; !ok {
			continue
		}
		delete(s.sets, id)
		removed += 1 + s.dropDependentsLocked(id)
	}
	return removed
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

func (s *ResultStore) hasPendingDependentLocked(parentID string) bool {
	for id, set := range s.sets {
		if set.ParentID == parentID && id != parentID && set.FinishedAt.IsZero() {
			return true
		}
	}
	return false
}

func (s *ResultStore) dropDependentsLocked(parentID string) int {
	dropped := 0
	for id, set := range s.sets {
		if set.ParentID == parentID && id != parentID {
			delete(s.sets, id)
			dropped++
			s.logger.Info("Invalidated enhanced results", "result_id", id, "parent_id", parentID)
		}
	}
	return dropped
}

func cloneResults(in []models.ImageResult) []models.ImageResult {
	if in == nil {
		return []models.ImageResult{}
	}
	out := make([]models.ImageResult, len(in))
	copy(out, in)
	return out
}
