package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stepgate/server/internal/model"
)

// Token "use" discriminators. A pending token must never be accepted where a
// session token is expected, and vice versa.
const (
	tokenUseSession = "session"
	tokenUseStepUp  = "step_up"
)

// SessionClaims is the authenticated client-side channel: the committed
// session id plus the time of the last successful step-up. VerifiedAt of
// zero means "never verified" and is always stale to the freshness gate.
type SessionClaims struct {
	Use        string `json:"use"`
	SessionID  string `json:"sid"`
	Remember   bool   `json:"remember,omitempty"`
	VerifiedAt int64  `json:"verified_at,omitempty"`
	jwt.RegisteredClaims
}

// VerifiedTime returns the step-up timestamp, or the zero time if none was
// ever recorded.
func (c *SessionClaims) VerifiedTime() time.Time {
	if c.VerifiedAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.VerifiedAt, 0)
}

// PendingClaims is the ephemeral pending-step-up channel: it links the
// unverified candidate session to the user whose second factor is awaited.
// Possession of this token alone grants no access.
type PendingClaims struct {
	Use       string `json:"use"`
	SessionID string `json:"sid"`
	Remember  bool   `json:"remember,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies the two client-side channels as HS256 JWTs,
// each with its own expiry policy: the session token expires with the
// session row, the pending token after a short fixed window.
type TokenSigner struct {
	secret     []byte
	pendingTTL time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a token signer. A nil clock defaults to time.Now.
func NewTokenSigner(secret string, pendingTTL time.Duration, now func() time.Time) *TokenSigner {
	if now == nil {
		now = time.Now
	}
	return &TokenSigner{
		secret:     []byte(secret),
		pendingTTL: pendingTTL,
		now:        now,
	}
}

// SignSessionToken binds a committed session into the authenticated channel.
// Pass the zero time as verifiedAt when no step-up occurred.
func (s *TokenSigner) SignSessionToken(session model.Session, verifiedAt time.Time, remember bool) (string, error) {
	claims := &SessionClaims{
		Use:       tokenUseSession,
		SessionID: session.ID.String(),
		Remember:  remember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	if !verifiedAt.IsZero() {
		claims.VerifiedAt = verifiedAt.Unix()
	}
	return s.sign(claims)
}

// VerifySessionToken parses and verifies an authenticated-channel token.
func (s *TokenSigner) VerifySessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := s.verify(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != tokenUseSession {
		return nil, fmt.Errorf("unexpected token use %q", claims.Use)
	}
	return claims, nil
}

// SignPendingToken parks an unverified candidate session in the ephemeral
// pending channel while the client completes the step-up.
func (s *TokenSigner) SignPendingToken(sessionID, userID uuid.UUID, remember bool) (string, error) {
	now := s.now()
	claims := &PendingClaims{
		Use:       tokenUseStepUp,
		SessionID: sessionID.String(),
		Remember:  remember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.pendingTTL)),
		},
	}
	return s.sign(claims)
}

// VerifyPendingToken parses and verifies a pending-channel token.
func (s *TokenSigner) VerifyPendingToken(tokenString string) (*PendingClaims, error) {
	claims := &PendingClaims{}
	if err := s.verify(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != tokenUseStepUp {
		return nil, fmt.Errorf("unexpected token use %q", claims.Use)
	}
	return claims, nil
}

func (s *TokenSigner) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenSigner) verify(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
