package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stepgate/server/internal/model"
	"github.com/stepgate/server/internal/repo"
)

const (
	defaultDigits    = 6
	defaultPeriod    = 30
	defaultAlgorithm = "SHA1"
	defaultCharSet   = "0123456789"
	// defaultSkewWindows tolerates one adjacent time step on either side of
	// the current counter, to absorb clock drift between server and client.
	defaultSkewWindows = 1
	secretBytes        = 20
)

// IssueOptions tunes a challenge. Zero values take the defaults above.
// A TTL greater than zero makes the challenge one-shot: it is invalid after
// now+TTL and is deleted on first successful validation. TTL zero makes it
// recurring — the same secret authenticates every period indefinitely
// (second-factor enrollment).
type IssueOptions struct {
	Period    int
	Digits    int
	Algorithm string
	TTL       time.Duration
}

// IssuedChallenge is the result of issuing a challenge: the stored secret,
// the current-window code for delivery, and the otpauth:// provisioning URL
// for authenticator-app enrollment.
type IssuedChallenge struct {
	Secret string
	Code   string
	URL    string
}

// CodeEngine generates and validates one-time codes against verification
// rows. It is independent of session concerns.
type CodeEngine struct {
	verifications repo.VerificationRepo
	issuer        string
	skew          uint
	now           func() time.Time
}

// NewCodeEngine creates a code engine. A nil clock defaults to time.Now.
func NewCodeEngine(verifications repo.VerificationRepo, issuer string, now func() time.Time) *CodeEngine {
	if now == nil {
		now = time.Now
	}
	return &CodeEngine{
		verifications: verifications,
		issuer:        issuer,
		skew:          defaultSkewWindows,
		now:           now,
	}
}

// Issue generates a fresh random secret and upserts the verification row for
// (target, type), replacing any outstanding challenge for that pair.
func (e *CodeEngine) Issue(ctx context.Context, typ model.VerificationType, target string, opts IssueOptions) (IssuedChallenge, error) {
	period := opts.Period
	if period <= 0 {
		period = defaultPeriod
	}
	digits := opts.Digits
	if digits <= 0 {
		digits = defaultDigits
	}
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = defaultAlgorithm
	}
	alg, err := otpAlgorithm(algorithm)
	if err != nil {
		return IssuedChallenge{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: target,
		Period:      uint(period),
		SecretSize:  secretBytes,
		Digits:      otp.Digits(digits),
		Algorithm:   alg,
	})
	if err != nil {
		return IssuedChallenge{}, fmt.Errorf("generate challenge secret: %w", err)
	}

	v := model.Verification{
		Target:    target,
		Type:      typ,
		Secret:    key.Secret(),
		Algorithm: algorithm,
		Digits:    digits,
		Period:    period,
		CharSet:   defaultCharSet,
	}
	if opts.TTL > 0 {
		deadline := e.now().Add(opts.TTL)
		v.ExpiresAt = &deadline
	}
	if err := e.verifications.Upsert(ctx, v); err != nil {
		return IssuedChallenge{}, err
	}

	code, err := totp.GenerateCodeCustom(v.Secret, e.now(), validateOpts(v, 0))
	if err != nil {
		return IssuedChallenge{}, fmt.Errorf("derive code: %w", err)
	}
	return IssuedChallenge{Secret: v.Secret, Code: code, URL: key.URL()}, nil
}

// Validate checks a submitted code against the outstanding challenge for
// (target, type). A one-shot challenge is deleted on success, so replaying
// the same code afterwards fails with ErrChallengeNotFound. A recurring
// challenge stays in place. A mismatch mutates nothing; retries are the
// caller's policy.
func (e *CodeEngine) Validate(ctx context.Context, typ model.VerificationType, target, code string) error {
	v, err := e.verifications.Get(ctx, target, typ)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChallengeNotFound
	}
	if err != nil {
		return err
	}

	now := e.now()
	if v.ExpiresAt != nil && !now.Before(*v.ExpiresAt) {
		return ErrChallengeExpired
	}

	alg, err := otpAlgorithm(v.Algorithm)
	if err != nil {
		return err
	}
	ok, err := totp.ValidateCustom(normalizeCode(code), v.Secret, now, totp.ValidateOpts{
		Period:    uint(v.Period),
		Skew:      e.skew,
		Digits:    otp.Digits(v.Digits),
		Algorithm: alg,
	})
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return ErrCodeMismatch
		}
		return fmt.Errorf("validate code: %w", err)
	}
	if !ok {
		return ErrCodeMismatch
	}

	if v.OneShot() {
		if err := e.verifications.Delete(ctx, target, typ); err != nil {
			return err
		}
	}
	return nil
}

// HasEnrollment reports whether an outstanding challenge exists for
// (target, type). The step-up controller uses this to decide whether a
// login must pass a second factor.
func (e *CodeEngine) HasEnrollment(ctx context.Context, typ model.VerificationType, target string) (bool, error) {
	_, err := e.verifications.Get(ctx, target, typ)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func validateOpts(v model.Verification, skew uint) totp.ValidateOpts {
	alg, _ := otpAlgorithm(v.Algorithm)
	return totp.ValidateOpts{
		Period:    uint(v.Period),
		Skew:      skew,
		Digits:    otp.Digits(v.Digits),
		Algorithm: alg,
	}
}

func otpAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return otp.AlgorithmSHA1, fmt.Errorf("unsupported algorithm %q", name)
	}
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}
