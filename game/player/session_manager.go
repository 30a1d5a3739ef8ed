package player

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected PlayerSessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*PlayerSession // owner → session
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[string]*PlayerSession),
		logger:   logger,
	}
}

func ownerKey(owner string) string { return strings.ToLower(owner) }

// Register adds a session. A previous session for the same owner is
// returned after being closed (duplicate login / reconnect), so the caller
// can tear down whatever it was running.
func (sm *SessionManager) Register(s *PlayerSession) *PlayerSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := ownerKey(s.Owner)
	old := sm.sessions[key]
	if old != nil {
		old.Close()
		sm.logger.Info("duplicate session displaced", zap.String("owner", s.Owner))
	}
	sm.sessions[key] = s
	sm.logger.Info("player session registered", zap.String("owner", s.Owner))
	return old
}

// Unregister removes s if it is still the owner's current session.
func (sm *SessionManager) Unregister(s *PlayerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	key := ownerKey(s.Owner)
	if sm.sessions[key] == s {
		delete(sm.sessions, key)
		sm.logger.Info("player session unregistered", zap.String("owner", s.Owner))
	}
}

// Get returns the session for an owner, or nil if not found.
func (sm *SessionManager) Get(owner string) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[ownerKey(owner)]
}

// IsOnline reports whether an owner is currently connected.
func (sm *SessionManager) IsOnline(owner string) bool {
	return sm.Get(owner) != nil
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot slice of all current sessions.
func (sm *SessionManager) All() []*PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAllSessions closes every session and waits up to maxWait for their
// disconnect handlers to unregister them.
func (sm *SessionManager) CloseAllSessions(maxWait time.Duration) {
	sessions := sm.All()
	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if sm.Count() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
