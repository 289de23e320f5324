package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stepgate/server/internal/auth"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	claimsKey contextKey = "session_claims"
)

// Cookie names for the two independent client-side channels.
const (
	SessionCookieName = "stepgate_session"
	PendingCookieName = "stepgate_pending"
)

// RequireSession verifies the signed session token and resolves the session
// row. Malformed, unknown, and expired tokens all yield the same 401 and
// revoke the client-side cookie, so the client cannot keep presenting a dead
// token and cannot learn which case occurred.
func RequireSession(tokens *auth.TokenSigner, sessions *auth.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := SessionTokenFromRequest(r)
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			claims, err := tokens.VerifySessionToken(tokenString)
			if err != nil {
				ClearSessionCookie(w, r)
				respondWithError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			userID, ok, err := sessions.Resolve(r.Context(), claims.SessionID)
			if err != nil {
				respondWithError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !ok {
				ClearSessionCookie(w, r)
				respondWithError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts the authenticated user id from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// GetSessionClaims extracts the verified session claims from context
func GetSessionClaims(ctx context.Context) (*auth.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.SessionClaims)
	return claims, ok
}

// SessionTokenFromRequest reads the session token from the session cookie,
// falling back to a bearer Authorization header for non-browser clients.
func SessionTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// PendingTokenFromRequest reads the ephemeral pending-step-up token.
func PendingTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(PendingCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// WriteSessionCookie binds the committed session token to the client. When
// remember is false the cookie is browser-session-scoped; when true it lives
// until the session row's expiry. The server-side row keeps its full TTL
// either way.
func WriteSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time, remember bool) {
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		cookie.Expires = expiresAt
	}
	http.SetCookie(w, cookie)
}

// ClearSessionCookie revokes the client-side session binding.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, SessionCookieName)
}

// WritePendingCookie parks the pending-step-up token client-side.
func WritePendingCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     PendingCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// ClearPendingCookie discards the pending channel.
func ClearPendingCookie(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, PendingCookieName)
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
