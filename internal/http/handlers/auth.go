package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stepgate/server/internal/auth"
	"github.com/stepgate/server/internal/middleware"
	"github.com/stepgate/server/internal/model"
	"github.com/stepgate/server/internal/notify"
	"github.com/stepgate/server/internal/repo"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  *auth.AuthService
	codes        *auth.CodeEngine
	sessions     *auth.SessionManager
	tokens       *auth.TokenSigner
	users        repo.UserRepo
	gate         *auth.FreshnessGate
	notifier     notify.Notifier
	challengeTTL time.Duration
	pendingTTL   time.Duration
	stepUpMaxAge time.Duration
	devMode      bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	authService *auth.AuthService,
	codes *auth.CodeEngine,
	sessions *auth.SessionManager,
	tokens *auth.TokenSigner,
	users repo.UserRepo,
	gate *auth.FreshnessGate,
	notifier notify.Notifier,
	challengeTTL time.Duration,
	pendingTTL time.Duration,
	stepUpMaxAge time.Duration,
	devMode bool,
) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		codes:        codes,
		sessions:     sessions,
		tokens:       tokens,
		users:        users,
		gate:         gate,
		notifier:     notifier,
		challengeTTL: challengeTTL,
		pendingTTL:   pendingTTL,
		stepUpMaxAge: stepUpMaxAge,
		devMode:      devMode,
	}
}

// registerRequest is the request body for POST /auth/register
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister handles POST /auth/register: creates the account and issues
// a one-shot email confirmation challenge.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	user, err := h.users.Create(r.Context(), req.Email, hash)
	if err != nil {
		logMaskedEmail(req.Email, "failed to create user: %v", err)
		respondWithError(w, http.StatusConflict, "email already registered")
		return
	}

	issued, err := h.issueOneShot(r, model.VerificationEmailConfirm, req.Email)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to issue confirmation code")
		return
	}

	resp := map[string]string{"id": user.ID.String(), "message": "confirmation_sent"}
	if h.devMode {
		resp["dev_code"] = issued.Code
	}
	respondWithJSON(w, http.StatusCreated, resp)
}

// confirmEmailRequest is the request body for POST /auth/confirm_email
type confirmEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// HandleConfirmEmail handles POST /auth/confirm_email
func (h *AuthHandler) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	if !h.validateChallenge(w, r, model.VerificationEmailConfirm, req.Email, req.Code) {
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unknown account")
		return
	}
	if err := h.users.MarkEmailVerified(r.Context(), user.ID, time.Now()); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to confirm email")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "email_confirmed"})
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// loginResponse is the JSON response for login and step-up verification
type loginResponse struct {
	State          string `json:"state"`
	SessionID      string `json:"session_id,omitempty"`
	StepUpRequired bool   `json:"step_up_required,omitempty"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.authService.BeginLogin(r.Context(), req.Email, req.Password, req.Remember)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logMaskedEmail(req.Email, "login failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "login failed")
		return
	}

	switch result.State {
	case auth.StatePendingStepUp:
		middleware.WritePendingCookie(w, r, result.PendingToken, time.Now().Add(h.pendingTTL))
		respondWithJSON(w, http.StatusOK, loginResponse{
			State:          string(result.State),
			StepUpRequired: true,
		})
	default:
		middleware.WriteSessionCookie(w, r, result.SessionToken, result.Session.ExpiresAt, req.Remember)
		respondWithJSON(w, http.StatusOK, loginResponse{
			State:     string(result.State),
			SessionID: result.Session.ID.String(),
		})
	}
}

// verifyStepUpRequest is the request body for POST /auth/verify_step_up
type verifyStepUpRequest struct {
	Code string `json:"code"`
}

// HandleVerifyStepUp handles POST /auth/verify_step_up. The pending channel
// rides in its own cookie; only a code mismatch leaves it in place for retry.
func (h *AuthHandler) HandleVerifyStepUp(w http.ResponseWriter, r *http.Request) {
	var req verifyStepUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pendingToken := middleware.PendingTokenFromRequest(r)
	if pendingToken == "" {
		respondWithError(w, http.StatusUnauthorized, "no pending login")
		return
	}

	result, err := h.authService.SubmitStepUpCode(r.Context(), pendingToken, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrCodeMismatch):
			respondWithError(w, http.StatusUnauthorized, "code_mismatch")
		case errors.Is(err, auth.ErrChallengeExpired):
			middleware.ClearPendingCookie(w, r)
			respondWithError(w, http.StatusUnauthorized, "challenge_expired")
		case errors.Is(err, auth.ErrChallengeNotFound), errors.Is(err, auth.ErrNoPendingLogin):
			middleware.ClearPendingCookie(w, r)
			respondWithError(w, http.StatusUnauthorized, "no pending login")
		default:
			respondWithError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	middleware.ClearPendingCookie(w, r)
	middleware.WriteSessionCookie(w, r, result.SessionToken, result.Session.ExpiresAt, result.Remember)
	respondWithJSON(w, http.StatusOK, loginResponse{
		State:     string(result.State),
		SessionID: result.Session.ID.String(),
	})
}

// HandleLogout handles POST /auth/logout. Logging out an absent or unknown
// session is not an error.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	// Destroy the row only for a token we actually signed; a forged token
	// must not delete anything.
	if tokenString := middleware.SessionTokenFromRequest(r); tokenString != "" {
		if claims, err := h.tokens.VerifySessionToken(tokenString); err == nil {
			if err := h.sessions.Destroy(r.Context(), claims.SessionID); err != nil {
				respondWithError(w, http.StatusInternalServerError, "logout failed")
				return
			}
		}
	}
	middleware.ClearSessionCookie(w, r)
	middleware.ClearPendingCookie(w, r)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// issueChallengeRequest is the request body for POST /auth/issue_challenge
type issueChallengeRequest struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

// HandleIssueChallenge handles POST /auth/issue_challenge for the one-shot
// mailed-code purposes. Second-factor enrollment goes through /auth/2fa/setup.
// The response never discloses whether the target maps to an account.
func (h *AuthHandler) HandleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req issueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Target = strings.ToLower(strings.TrimSpace(req.Target))
	typ := model.VerificationType(req.Type)
	switch typ {
	case model.VerificationEmailConfirm, model.VerificationPasswordReset, model.VerificationEmailChange:
	default:
		respondWithError(w, http.StatusBadRequest, "unsupported challenge type")
		return
	}
	if req.Target == "" {
		respondWithError(w, http.StatusBadRequest, "target is required")
		return
	}

	issued, err := h.issueOneShot(r, typ, req.Target)
	if err != nil {
		logMaskedEmail(req.Target, "failed to issue challenge: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to issue challenge")
		return
	}

	resp := map[string]string{"message": "code_sent"}
	if h.devMode {
		resp["dev_code"] = issued.Code
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// resetPasswordRequest is the request body for POST /auth/reset_password
type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// HandleResetPassword handles POST /auth/reset_password: consumes the
// one-shot reset challenge, replaces the password, and revokes every
// session the user had.
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		respondWithError(w, http.StatusBadRequest, "email, code and new_password are required")
		return
	}

	if !h.validateChallenge(w, r, model.VerificationPasswordReset, req.Email, req.Code) {
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unknown account")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}
	if err := h.sessions.DestroyAllForUser(r.Context(), user.ID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "password_reset"})
}

// resolveSessionResponse is the JSON response for GET /auth/session
type resolveSessionResponse struct {
	UserID *string `json:"user_id"`
}

// HandleResolveSession handles GET /auth/session. A dead token yields a null
// user id and revokes the client-side binding; the response never says why
// the token was dead.
func (h *AuthHandler) HandleResolveSession(w http.ResponseWriter, r *http.Request) {
	tokenString := middleware.SessionTokenFromRequest(r)
	if tokenString == "" {
		respondWithJSON(w, http.StatusOK, resolveSessionResponse{})
		return
	}
	claims, err := h.tokens.VerifySessionToken(tokenString)
	if err != nil {
		middleware.ClearSessionCookie(w, r)
		respondWithJSON(w, http.StatusOK, resolveSessionResponse{})
		return
	}
	userID, ok, err := h.sessions.Resolve(r.Context(), claims.SessionID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		middleware.ClearSessionCookie(w, r)
		respondWithJSON(w, http.StatusOK, resolveSessionResponse{})
		return
	}
	id := userID.String()
	respondWithJSON(w, http.StatusOK, resolveSessionResponse{UserID: &id})
}

// meResponse is the JSON response for GET /me
type meResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	respondWithJSON(w, http.StatusOK, meResponse{
		ID:            user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.EmailVerifiedAt != nil,
	})
}

// setupTwoFactorResponse is the JSON response for POST /auth/2fa/setup
type setupTwoFactorResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

// HandleSetupTwoFactor handles POST /auth/2fa/setup (protected). Issues a
// recurring second-factor challenge: the enrolled secret authenticates every
// future login until replaced.
func (h *AuthHandler) HandleSetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	issued, err := h.codes.Issue(r.Context(), model.VerificationSecondFactor, userID.String(), auth.IssueOptions{})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to set up 2fa")
		return
	}
	respondWithJSON(w, http.StatusOK, setupTwoFactorResponse{
		Secret:     issued.Secret,
		OtpauthURL: issued.URL,
	})
}

// verifyTwoFactorRequest is the request body for POST /auth/2fa/verify
type verifyTwoFactorRequest struct {
	Code string `json:"code"`
}

// HandleVerifyTwoFactor handles POST /auth/2fa/verify (protected): sanity
// check that the enrolled authenticator produces valid codes. The recurring
// challenge stays in place.
func (h *AuthHandler) HandleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req verifyTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.validateChallenge(w, r, model.VerificationSecondFactor, userID.String(), req.Code) {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// changeEmailRequest is the request body for POST /auth/change_email
type changeEmailRequest struct {
	NewEmail string `json:"new_email"`
	Code     string `json:"code"`
}

// HandleChangeEmail handles POST /auth/change_email (protected). Committing
// the change requires both a recent step-up and the one-shot code mailed to
// the new address via issue_challenge.
func (h *AuthHandler) HandleChangeEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	claims, ok2 := middleware.GetSessionClaims(r.Context())
	if !ok || !ok2 {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.gate.RequireRecent(claims.VerifiedTime(), h.stepUpMaxAge); err != nil {
		respondWithError(w, http.StatusForbidden, "stale_verification")
		return
	}

	var req changeEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.NewEmail = strings.ToLower(strings.TrimSpace(req.NewEmail))
	if req.NewEmail == "" || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "new_email and code are required")
		return
	}

	if !h.validateChallenge(w, r, model.VerificationEmailChange, req.NewEmail, req.Code) {
		return
	}

	if err := h.users.UpdateEmail(r.Context(), userID, req.NewEmail); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to change email")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "email_changed"})
}

// issueOneShot issues a one-shot mailed challenge whose single code stays
// valid for the whole TTL (period spans the TTL), and hands it to the
// notifier.
func (h *AuthHandler) issueOneShot(r *http.Request, typ model.VerificationType, target string) (auth.IssuedChallenge, error) {
	issued, err := h.codes.Issue(r.Context(), typ, target, auth.IssueOptions{
		Period: int(h.challengeTTL.Seconds()),
		TTL:    h.challengeTTL,
	})
	if err != nil {
		return auth.IssuedChallenge{}, err
	}
	if err := h.notifier.Send(r.Context(), target, issued.Code); err != nil {
		return auth.IssuedChallenge{}, err
	}
	return issued, nil
}

// validateChallenge maps code-engine failures onto distinct retryable error
// strings (expired prompts "request a new code", mismatch prompts "try
// again"). Returns true when the handler may proceed.
func (h *AuthHandler) validateChallenge(w http.ResponseWriter, r *http.Request, typ model.VerificationType, target, code string) bool {
	err := h.codes.Validate(r.Context(), typ, target, code)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrChallengeNotFound):
		respondWithError(w, http.StatusUnauthorized, "challenge_not_found")
	case errors.Is(err, auth.ErrChallengeExpired):
		respondWithError(w, http.StatusUnauthorized, "challenge_expired")
	case errors.Is(err, auth.ErrCodeMismatch):
		respondWithError(w, http.StatusUnauthorized, "code_mismatch")
	default:
		respondWithError(w, http.StatusInternalServerError, "verification failed")
	}
	return false
}

// respondWithJSON writes a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// logMaskedEmail logs a message with the email address masked
func logMaskedEmail(email, format string, args ...interface{}) {
	log.Printf("account "+maskEmail(email)+": "+format, args...)
}

// maskEmail masks an email address for logging (e.g. al***@example.com)
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "****"
	}
	local := email[:at]
	if len(local) > 2 {
		local = local[:2] + strings.Repeat("*", len(local)-2)
	} else {
		local = "**"
	}
	return local + email[at:]
}
