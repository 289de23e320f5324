package model

import (
	"time"

	"github.com/google/uuid"
)

// VerificationType enumerates the purposes a one-time challenge can serve.
type VerificationType string

const (
	VerificationEmailConfirm  VerificationType = "email_confirm"
	VerificationPasswordReset VerificationType = "password_reset"
	VerificationEmailChange   VerificationType = "email_change"
	VerificationSecondFactor  VerificationType = "second_factor"
)

// User represents a registered account
type User struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
}

// Session represents an established or pending login. The id is a UUIDv7,
// so rows sort by creation time.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Verification is a single outstanding one-time challenge. At most one row
// exists per (Target, Type) pair; issuing again replaces the previous one.
// A nil ExpiresAt marks a recurring challenge (durable second-factor
// enrollment); a set ExpiresAt marks a one-shot mailed code.
type Verification struct {
	Target    string
	Type      VerificationType
	Secret    string
	Algorithm string
	Digits    int
	Period    int
	CharSet   string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// OneShot reports whether the challenge is consumed on first successful use.
func (v Verification) OneShot() bool {
	return v.ExpiresAt != nil
}
