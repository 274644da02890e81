package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"storefront/models"
	"storefront/storage"
)

// SessionStore holds the auth token and user record. Values read back from
// storage are trusted as-is.
type SessionStore struct {
	mu    sync.RWMutex
	token string
	user  *models.User
	ls    storage.Storage
	log   *slog.Logger
}

func NewSessionStore(ls storage.Storage, log *slog.Logger) *SessionStore {
	return &SessionStore{ls: ls, log: log}
}

// Load restores the token and user saved by a previous Login.
func (s *SessionStore) Load(ctx context.Context) {
	var token string
	var user *models.User

	if raw, ok, err := s.ls.GetItem(ctx, storage.KeyAuthToken); err != nil {
		s.log.Warn("load auth token", slog.Any("err", err))
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			token = raw
		}
	}

	if raw, ok, err := s.ls.GetItem(ctx, storage.KeyAuthUser); err != nil {
		s.log.Warn("load auth user", slog.Any("err", err))
	} else if ok {
		var u models.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			user = &u
		}
	}

	s.mu.Lock()
	s.token, s.user = token, user
	s.mu.Unlock()
}

func (s *SessionStore) Login(ctx context.Context, token string, user models.User) {
	s.mu.Lock()
	s.token, s.user = token, &user
	s.mu.Unlock()

	tb, _ := json.Marshal(token)
	if err := s.ls.SetItem(ctx, storage.KeyAuthToken, string(tb)); err != nil {
		s.log.Warn("persist auth token", slog.Any("err", err))
	}
	ub, _ := json.Marshal(user)
	if err := s.ls.SetItem(ctx, storage.KeyAuthUser, string(ub)); err != nil {
		s.log.Warn("persist auth user", slog.Any("err", err))
	}
}

func (s *SessionStore) Logout(ctx context.Context) {
	s.mu.Lock()
	s.token, s.user = "", nil
	s.mu.Unlock()

	for _, k := range []string{storage.KeyAuthToken, storage.KeyAuthUser, storage.KeyLegacyUserID} {
		if err := s.ls.RemoveItem(ctx, k); err != nil {
			s.log.Warn("remove session key", slog.String("key", k), slog.Any("err", err))
		}
	}
}

func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *SessionStore) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// UserID resolves the signed-in user's id, falling back to the legacy
// userId key older builds wrote.
func (s *SessionStore) UserID(ctx context.Context) string {
	if u, ok := s.User(); ok && u.Identity() != "" {
		return u.Identity()
	}
	v, ok, err := s.ls.GetItem(ctx, storage.KeyLegacyUserID)
	if err != nil || !ok {
		return ""
	}
	return v
}
