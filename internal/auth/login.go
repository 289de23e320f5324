package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stepgate/server/internal/model"
	"github.com/stepgate/server/internal/repo"
)

// LoginState is the externally visible outcome of a login step.
type LoginState string

const (
	// StateCommitted means the session is bound to the authenticated channel.
	StateCommitted LoginState = "committed"
	// StatePendingStepUp means a second factor must be submitted before the
	// candidate session is committed.
	StatePendingStepUp LoginState = "pending_step_up"
)

// LoginResult carries the state plus whichever signed channel applies:
// SessionToken when committed, PendingToken while a step-up is outstanding.
type LoginResult struct {
	State        LoginState
	Session      model.Session
	SessionToken string
	PendingToken string
	Remember     bool
}

// AuthService orchestrates the two-phase login: credential verification,
// the optional second-factor step-up, and session commitment.
type AuthService struct {
	users      repo.UserRepo
	codes      *CodeEngine
	sessions   *SessionManager
	tokens     *TokenSigner
	sessionTTL time.Duration
	now        func() time.Time
}

// NewAuthService creates the step-up login controller. A nil clock defaults
// to time.Now.
func NewAuthService(
	users repo.UserRepo,
	codes *CodeEngine,
	sessions *SessionManager,
	tokens *TokenSigner,
	sessionTTL time.Duration,
	now func() time.Time,
) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:      users,
		codes:      codes,
		sessions:   sessions,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		now:        now,
	}
}

// BeginLogin verifies credentials and creates the candidate session. The
// session row is always created, even when a step-up is required, so the
// eventual promotion reuses the same session id. ErrInvalidCredentials never
// distinguishes an unknown email from a wrong password.
//
// The server-side TTL is fixed at creation regardless of remember; remember
// only controls whether the client-side binding outlives the browser session.
func (s *AuthService) BeginLogin(ctx context.Context, email, password string, remember bool) (LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}

	session, err := s.sessions.Create(ctx, user.ID, s.sessionTTL)
	if err != nil {
		return LoginResult{}, err
	}

	enrolled, err := s.codes.HasEnrollment(ctx, model.VerificationSecondFactor, user.ID.String())
	if err != nil {
		return LoginResult{}, err
	}
	if !enrolled {
		// No second factor on file: commit directly, with no step-up
		// timestamp recorded.
		token, err := s.tokens.SignSessionToken(session, time.Time{}, remember)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{State: StateCommitted, Session: session, SessionToken: token, Remember: remember}, nil
	}

	pending, err := s.tokens.SignPendingToken(session.ID, user.ID, remember)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{State: StatePendingStepUp, Session: session, PendingToken: pending, Remember: remember}, nil
}

// SubmitStepUpCode promotes a pending login to committed. A code mismatch
// leaves the pending state intact for retry; an invalid or expired pending
// token, or a candidate session that vanished in the meantime, aborts the
// flow with ErrNoPendingLogin and the client must restart from credentials.
func (s *AuthService) SubmitStepUpCode(ctx context.Context, pendingToken, code string) (LoginResult, error) {
	claims, err := s.tokens.VerifyPendingToken(pendingToken)
	if err != nil {
		return LoginResult{}, ErrNoPendingLogin
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return LoginResult{}, ErrNoPendingLogin
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return LoginResult{}, ErrNoPendingLogin
	}

	if err := s.codes.Validate(ctx, model.VerificationSecondFactor, claims.Subject, code); err != nil {
		return LoginResult{}, err
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return LoginResult{}, ErrNoPendingLogin
	}
	if err != nil {
		return LoginResult{}, err
	}
	if session.UserID != userID {
		return LoginResult{}, ErrNoPendingLogin
	}

	token, err := s.tokens.SignSessionToken(session, s.now(), claims.Remember)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{State: StateCommitted, Session: session, SessionToken: token, Remember: claims.Remember}, nil
}
