package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stepgate/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, email, passwordHash string) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// Create inserts a new user. The unique index on email surfaces duplicate
// registrations as an error.
func (r *userRepo) Create(ctx context.Context, email, passwordHash string) (model.User, error) {
	query := `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	var user model.User
	err := r.db.QueryRowContext(ctx, query, email, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	user.Email = email
	user.PasswordHash = passwordHash
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

// GetByEmail retrieves a user by email address
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getBy(ctx, "email = $1", email)
}

func (r *userRepo) getBy(ctx context.Context, where string, arg any) (model.User, error) {
	query := `
		SELECT id, email, password_hash, email_verified_at, created_at
		FROM users
		WHERE ` + where
	var user model.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.EmailVerifiedAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// UpdateEmail changes the email on file. The new address starts unverified.
func (r *userRepo) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET email = $2, email_verified_at = NULL WHERE id = $1
	`, id, email)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return requireRow(result)
}

// UpdatePassword replaces the stored password hash.
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(result)
}

// MarkEmailVerified stamps the verification time.
func (r *userRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_verified_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return requireRow(result)
}

// Delete removes the user; the FK cascade removes their sessions.
func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func requireRow(result sql.Result) error {
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
