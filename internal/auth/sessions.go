package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stepgate/server/internal/model"
	"github.com/stepgate/server/internal/repo"
)

// SessionManager creates, resolves, and destroys session rows. It is
// independent of verification concerns. Expiry is evaluated at read time;
// dead rows are never valid but are not eagerly purged.
type SessionManager struct {
	sessions repo.SessionRepo
	now      func() time.Time
}

// NewSessionManager creates a session manager. A nil clock defaults to time.Now.
func NewSessionManager(sessions repo.SessionRepo, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{sessions: sessions, now: now}
}

// Create inserts a new session expiring at now+ttl. Session ids are UUIDv7
// so they order by creation time.
func (m *SessionManager) Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (model.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	now := m.now()
	s := model.Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// Get reads the raw session row, live or not. Used by step-up promotion to
// re-read the candidate session.
func (m *SessionManager) Get(ctx context.Context, id uuid.UUID) (model.Session, error) {
	return m.sessions.GetByID(ctx, id)
}

// Resolve looks up the session by token and returns the owning user.
// ok is false uniformly for malformed, unknown, and expired tokens — callers
// must not learn which case occurred, and must revoke client-side session
// state whenever ok is false. err is set only for store failures, which are
// fatal to the request and never retried here.
func (m *SessionManager) Resolve(ctx context.Context, token string) (userID uuid.UUID, ok bool, err error) {
	id, parseErr := uuid.Parse(token)
	if parseErr != nil {
		return uuid.Nil, false, nil
	}
	s, err := m.sessions.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	if !m.now().Before(s.ExpiresAt) {
		return uuid.Nil, false, nil
	}
	return s.UserID, true, nil
}

// Destroy deletes the session if present. Destroying an unknown or malformed
// token is a no-op.
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	id, err := uuid.Parse(token)
	if err != nil {
		return nil
	}
	return m.sessions.Delete(ctx, id)
}

// DestroyAllForUser revokes every session belonging to the user. User
// deletion cascades in the store; this covers explicit revocation such as a
// password reset.
func (m *SessionManager) DestroyAllForUser(ctx context.Context, userID uuid.UUID) error {
	return m.sessions.DeleteAllForUser(ctx, userID)
}
