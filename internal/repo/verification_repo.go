package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stepgate/server/internal/model"
)

// VerificationRepo defines the interface for verification repository operations
type VerificationRepo interface {
	Upsert(ctx context.Context, v model.Verification) error
	Get(ctx context.Context, target string, typ model.VerificationType) (model.Verification, error)
	Delete(ctx context.Context, target string, typ model.VerificationType) error
}

type verificationRepo struct {
	db *sql.DB
}

// NewVerificationRepo creates a new VerificationRepo instance
func NewVerificationRepo(db *sql.DB) VerificationRepo {
	return &verificationRepo{db: db}
}

// Upsert inserts the challenge, replacing any outstanding one for the same
// (target, type) pair. The primary key makes the replacement atomic; under
// concurrent issuance the last writer wins.
func (r *verificationRepo) Upsert(ctx context.Context, v model.Verification) error {
	query := `
		INSERT INTO verifications (target, type, secret, algorithm, digits, period, char_set, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (target, type) DO UPDATE
		SET secret = EXCLUDED.secret,
		    algorithm = EXCLUDED.algorithm,
		    digits = EXCLUDED.digits,
		    period = EXCLUDED.period,
		    char_set = EXCLUDED.char_set,
		    expires_at = EXCLUDED.expires_at,
		    created_at = now()
	`
	_, err := r.db.ExecContext(ctx, query,
		v.Target, string(v.Type), v.Secret, v.Algorithm, v.Digits, v.Period, v.CharSet, v.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

// Get retrieves the outstanding challenge for (target, type).
func (r *verificationRepo) Get(ctx context.Context, target string, typ model.VerificationType) (model.Verification, error) {
	query := `
		SELECT target, type, secret, algorithm, digits, period, char_set, expires_at, created_at
		FROM verifications
		WHERE target = $1 AND type = $2
	`
	var v model.Verification
	var typeStr string
	err := r.db.QueryRowContext(ctx, query, target, string(typ)).Scan(
		&v.Target,
		&typeStr,
		&v.Secret,
		&v.Algorithm,
		&v.Digits,
		&v.Period,
		&v.CharSet,
		&v.ExpiresAt,
		&v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Verification{}, ErrNotFound
		}
		return model.Verification{}, fmt.Errorf("query verification: %w", err)
	}
	v.Type = model.VerificationType(typeStr)
	return v, nil
}

// Delete removes the challenge if present. Deleting a missing row is not an error.
func (r *verificationRepo) Delete(ctx context.Context, target string, typ model.VerificationType) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM verifications WHERE target = $1 AND type = $2
	`, target, string(typ))
	if err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	return nil
}
