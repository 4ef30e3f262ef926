package service

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sublingo/internal/logger"
	"sublingo/internal/model"
)

// SessionService is a token-addressable LRU store of configuration blobs
// with a sliding TTL and JSON file persistence. Reads refresh recency;
// writes mark the store dirty for the autosave scheduler.
type SessionService struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	order    []string // LRU order, oldest first
	max      int
	ttl      time.Duration
	path     string
	dirty    bool
}

// NewSessionService creates a store bounded to max sessions with the given
// sliding TTL, persisted at path.
func NewSessionService(path string, max int, ttl time.Duration) *SessionService {
	return &SessionService{
		sessions: make(map[string]*model.Session),
		max:      max,
		ttl:      ttl,
		path:     path,
	}
}

// Create allocates a new session with a random 32-hex token.
func (s *SessionService) Create(config map[string]any) (*model.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := time.Now().UnixMilli()
	session := &model.Session{
		Token:          token,
		Config:         config,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	s.sessions[token] = session
	s.touchLocked(token)
	s.dirty = true

	logger.Info("session created", "module", "service", "action", "create", "resource", "session", "result", "ok", "count", len(s.sessions))
	return cloneSession(session), nil
}

// Get returns the session for token, refreshing its recency and sliding
// its TTL. Expired sessions are removed on access.
func (s *SessionService) Get(token string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expiredLocked(session) {
		s.removeLocked(token)
		return nil, ErrNotFound
	}
	session.LastAccessedAt = time.Now().UnixMilli()
	s.touchLocked(token)
	s.dirty = true
	return cloneSession(session), nil
}

// Update replaces the session's config, preserving its creation time.
func (s *SessionService) Update(token string, config map[string]any) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || s.expiredLocked(session) {
		if ok {
			s.removeLocked(token)
		}
		return nil, ErrNotFound
	}
	session.Config = config
	session.LastAccessedAt = time.Now().UnixMilli()
	s.touchLocked(token)
	s.dirty = true
	return cloneSession(session), nil
}

// Delete removes the session. Deleting an unknown token is not an error.
func (s *SessionService) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return
	}
	s.removeLocked(token)
	s.dirty = true
}

// Len returns the number of live sessions.
func (s *SessionService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Load reads the persisted snapshot, dropping entries whose TTL has
// already lapsed. A missing or corrupt file starts the store empty.
func (s *SessionService) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("session snapshot unreadable, starting empty", "module", "service", "action", "load", "resource", "session", "result", "failed", "path", s.path, "error", err)
		}
		return
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn("session snapshot corrupt, starting empty", "module", "service", "action", "load", "resource", "session", "result", "failed", "path", s.path, "error", err)
		return
	}

	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	expired := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for token, session := range snap.Sessions {
		if session == nil || session.LastAccessedAt < cutoff {
			expired++
			continue
		}
		session.Token = token
		s.sessions[token] = session
		s.order = append(s.order, token)
	}

	logger.Info("session snapshot loaded", "module", "service", "action", "load", "resource", "session", "result", "ok",
		"count", len(s.sessions), "expired", expired, "path", s.path)
}

// Save persists the store atomically: write to a temp file in the target
// directory, fsync, rename over the old snapshot, chmod 0600. Errors are
// logged, never propagated; sessions must survive a failing disk only on
// a best-effort basis.
func (s *SessionService) Save() {
	s.mu.Lock()
	snap := model.SessionSnapshot{
		Version:  model.SnapshotVersion,
		SavedAt:  time.Now().UnixMilli(),
		Sessions: make(map[string]*model.Session, len(s.sessions)),
	}
	for token, session := range s.sessions {
		snap.Sessions[token] = cloneSession(session)
	}
	s.dirty = false
	s.mu.Unlock()

	if err := writeSnapshot(s.path, snap); err != nil {
		logger.Error("session snapshot save failed", "module", "service", "action", "save", "resource", "session", "result", "failed", "path", s.path, "error", err)
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return
	}
	logger.Debug("session snapshot saved", "module", "service", "action", "save", "resource", "session", "result", "ok", "count", len(snap.Sessions))
}

// SaveIfDirty persists only when a mutation happened since the last save.
func (s *SessionService) SaveIfDirty() {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		s.Save()
	}
}

func writeSnapshot(path string, snap model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *SessionService) expiredLocked(session *model.Session) bool {
	return time.Now().UnixMilli()-session.LastAccessedAt > s.ttl.Milliseconds()
}

// evictLocked makes room for one more session by dropping the least
// recently used entries.
func (s *SessionService) evictLocked() {
	for len(s.sessions) >= s.max && len(s.order) > 0 {
		oldest := s.order[0]
		s.removeLocked(oldest)
		logger.Debug("session evicted", "module", "service", "action", "evict", "resource", "session", "result", "ok", "count", len(s.sessions))
	}
}

func (s *SessionService) touchLocked(token string) {
	for i, t := range s.order {
		if t == token {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, token)
}

func (s *SessionService) removeLocked(token string) {
	delete(s.sessions, token)
	for i, t := range s.order {
		if t == token {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func cloneSession(in *model.Session) *model.Session {
	out := *in
	if in.Config != nil {
		out.Config = make(map[string]any, len(in.Config))
		for k, v := range in.Config {
			out.Config[k] = v
		}
	}
	return &out
}
