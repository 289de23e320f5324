package auth

import "errors"

// Sentinel errors for the authentication core. Handlers map these onto HTTP
// outcomes; credential and session failures are never more specific than
// "invalid credentials" / "not authenticated" toward the client.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrCodeMismatch       = errors.New("code mismatch")
	ErrStaleVerification  = errors.New("stale verification")
	ErrNoPendingLogin     = errors.New("no pending login")
)
