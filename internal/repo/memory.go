package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stepgate/server/internal/model"
)

// In-memory repository implementations backed by mutex-guarded maps. They
// mirror the Postgres semantics (ErrNotFound, last-writer-wins upsert on
// (target, type)) and back the unit tests; nothing in the server binary
// wires them.

type memoryUserRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.User
}

// NewMemoryUserRepo creates an in-memory UserRepo.
func NewMemoryUserRepo() UserRepo {
	return &memoryUserRepo{byID: make(map[uuid.UUID]model.User)}
}

func (r *memoryUserRepo) Create(ctx context.Context, email, passwordHash string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return model.User{}, fmt.Errorf("insert user: duplicate email")
		}
	}
	user := model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	r.byID[user.ID] = user
	return user, nil
}

func (r *memoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return copyUser(u), nil
}

func (r *memoryUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return model.User{}, ErrNotFound
}

func (r *memoryUserRepo) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Email = email
	u.EmailVerifiedAt = nil
	r.byID[id] = u
	return nil
}

func (r *memoryUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	r.byID[id] = u
	return nil
}

func (r *memoryUserRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerifiedAt = &at
	r.byID[id] = u
	return nil
}

func (r *memoryUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func copyUser(u model.User) model.User {
	if u.EmailVerifiedAt != nil {
		at := *u.EmailVerifiedAt
		u.EmailVerifiedAt = &at
	}
	return u
}

type memorySessionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Session
}

// NewMemorySessionRepo creates an in-memory SessionRepo.
func NewMemorySessionRepo() SessionRepo {
	return &memorySessionRepo{byID: make(map[uuid.UUID]model.Session)}
}

func (r *memorySessionRepo) Create(ctx context.Context, s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; ok {
		return fmt.Errorf("insert session: duplicate id")
	}
	r.byID[s.ID] = s
	return nil
}

func (r *memorySessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (r *memorySessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *memorySessionRepo) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.byID {
		if s.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

type verificationKey struct {
	target string
	typ    model.VerificationType
}

type memoryVerificationRepo struct {
	mu   sync.Mutex
	rows map[verificationKey]model.Verification
}

// NewMemoryVerificationRepo creates an in-memory VerificationRepo.
func NewMemoryVerificationRepo() VerificationRepo {
	return &memoryVerificationRepo{rows: make(map[verificationKey]model.Verification)}
}

func (r *memoryVerificationRepo) Upsert(ctx context.Context, v model.Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.CreatedAt = time.Now()
	r.rows[verificationKey{v.Target, v.Type}] = v
	return nil
}

func (r *memoryVerificationRepo) Get(ctx context.Context, target string, typ model.VerificationType) (model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[verificationKey{target, typ}]
	if !ok {
		return model.Verification{}, ErrNotFound
	}
	if v.ExpiresAt != nil {
		at := *v.ExpiresAt
		v.ExpiresAt = &at
	}
	return v, nil
}

func (r *memoryVerificationRepo) Delete(ctx context.Context, target string, typ model.VerificationType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, verificationKey{target, typ})
	return nil
}
