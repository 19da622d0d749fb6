package storage

import (
	"sync"
	"time"
)

// Settings are the per-session prompt overrides
type Settings struct {
	Subject        string `json:"subject" yaml:"subject"`
	InitialPrompt  string `json:"initial_prompt" yaml:"initial_prompt"`
	EnhancedPrompt string `json:"enhanced_prompt" yaml:"enhanced_prompt"`
}

// Session is the client-visible state. It only ever holds ids; the payloads
// live in the result store and progress tracker.
type Session struct {
	ID               string    `json:"id"`
	ResultID         string    `json:"result_id,omitempty"`
	JobID            string    `json:"job_id,omitempty"`
	EnhancedResultID string    `json:"enhanced_result_id,omitempty"`
	EnhancedJobID    string    `json:"enhanced_job_id,omitempty"`
	Settings         Settings  `json:"settings"`
	CreatedAt        time.Time `json:"created_at"`
}

type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

func (s *SessionStore) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[sessionID]
	if !exists {
		return Session{}, false
	}
	return *session, true
}

func (s *SessionStore) Set(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &session
}

// Update applies fn to the stored session under the write lock
func (s *SessionStore) Update(sessionID string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, exists := s.sessions[sessionID]
	if !exists {
		return Session{}, false
	}
	fn(session)
	return *session, true
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Sweep removes sessions created more than ttl ago
func (s *SessionStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
