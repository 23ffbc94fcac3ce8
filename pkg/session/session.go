// Package session implements the gate's Session Store (SPEC_FULL.md §4.7):
// a process-local map from session id to the credential currently bound to
// it. GetOrCreate is the store's sole entry point for obtaining a session,
// mirroring the single-entry-point, RWMutex-protected, copy-on-read pattern
// used by this codebase's other in-memory stores.
package session

import (
	"sync"
	"time"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

// Store holds sessions in memory. A zero Store is not usable; use New.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*contracts.Session
}

// New returns an empty session store.
func New() *Store {
	return &Store{sessions: make(map[string]*contracts.Session)}
}

// GetOrCreate returns the existing session for sessionID, or creates a new,
// credential-less one if none exists. Besides it, Bind/Touch/Delete/Sweep
// are the store's write paths — callers never construct a Session directly.
func (s *Store) GetOrCreate(sessionID string, now time.Time) *contracts.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		cp := *sess
		return &cp
	}

	sess := &contracts.Session{
		SessionID:      sessionID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[sessionID] = sess
	cp := *sess
	return &cp
}

// Get returns the session for sessionID, if present, without creating one.
func (s *Store) Get(sessionID string) (*contracts.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

// Bind attaches a credential to a session, creating the session if needed.
func (s *Store) Bind(sessionID string, cred *contracts.Credential, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &contracts.Session{SessionID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.Credential = cred
	sess.LastActivityAt = now
}

// Touch records activity on a session without altering its credential.
func (s *Store) Touch(sessionID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivityAt = now
	}
}

// Delete removes a session, e.g. on explicit logout.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports how many sessions are currently tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions whose last activity is older than maxIdle and
// clears the bound credential of any surviving session whose expires-at has
// passed, returning (sessionsRemoved, credentialsCleared). Intended to run
// periodically from a background goroutine (SPEC_FULL.md §4.7's cleanup
// routine) — the two cleanups are independent: an idle-but-unexpired
// session is purged outright, while an active session with an expired
// credential keeps its slot but loses its (now-useless) credential so the
// next call re-enters the "no credential presented" path cleanly.
func (s *Store) Sweep(now time.Time, maxIdle time.Duration) (sessionsRemoved, credentialsCleared int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivityAt) > maxIdle {
			delete(s.sessions, id)
			sessionsRemoved++
			continue
		}
		if sess.Credential != nil && !sess.Credential.ExpiresAt.IsZero() && !now.Before(sess.Credential.ExpiresAt) {
			sess.Credential = nil
			credentialsCleared++
		}
	}
	return sessionsRemoved, credentialsCleared
}
