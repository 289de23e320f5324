package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepgate/server/internal/model"
	"github.com/stepgate/server/internal/repo"
)

// testClock is a manually advanced clock shared by the auth tests.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	// Aligned to a period boundary so window arithmetic in the tests is exact.
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(clock *testClock) (*CodeEngine, repo.VerificationRepo) {
	store := repo.NewMemoryVerificationRepo()
	return NewCodeEngine(store, "Stepgate", clock.Now), store
}

// wrongCode returns a six-digit code guaranteed not to equal the given one.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestIssueReplacesOutstandingChallenge(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, store := newTestEngine(clock)

	opts := IssueOptions{Period: 900, TTL: 15 * time.Minute}
	first, err := engine.Issue(ctx, model.VerificationEmailConfirm, "user@example.com", opts)
	require.NoError(t, err)
	second, err := engine.Issue(ctx, model.VerificationEmailConfirm, "user@example.com", opts)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the latest secret is on file for the (target, type) pair.
	v, err := store.Get(ctx, "user@example.com", model.VerificationEmailConfirm)
	require.NoError(t, err)
	assert.Equal(t, second.Secret, v.Secret)

	// The superseded code no longer validates; the replacement does.
	err = engine.Validate(ctx, model.VerificationEmailConfirm, "user@example.com", first.Code)
	assert.ErrorIs(t, err, ErrCodeMismatch)
	assert.NoError(t, engine.Validate(ctx, model.VerificationEmailConfirm, "user@example.com", second.Code))
}

func TestOneShotConsumedOnSuccess(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationPasswordReset, "user@example.com", IssueOptions{Period: 900, TTL: 15 * time.Minute})
	require.NoError(t, err)

	require.NoError(t, engine.Validate(ctx, model.VerificationPasswordReset, "user@example.com", issued.Code))

	// Replaying the consumed code fails closed.
	err = engine.Validate(ctx, model.VerificationPasswordReset, "user@example.com", issued.Code)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestOneShotCodeValidAcrossWholeTTL(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	ttl := 15 * time.Minute
	issued, err := engine.Issue(ctx, model.VerificationEmailConfirm, "user@example.com", IssueOptions{Period: int(ttl.Seconds()), TTL: ttl})
	require.NoError(t, err)

	// The mailed code must survive until just before the deadline.
	clock.Advance(14 * time.Minute)
	assert.NoError(t, engine.Validate(ctx, model.VerificationEmailConfirm, "user@example.com", issued.Code))
}

func TestExpiredChallengeRejectsCorrectCode(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationEmailConfirm, "user@example.com", IssueOptions{Period: 60, TTL: time.Minute})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	err = engine.Validate(ctx, model.VerificationEmailConfirm, "user@example.com", issued.Code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationEmailConfirm, "user@example.com", IssueOptions{Period: 900, TTL: 15 * time.Minute})
	require.NoError(t, err)

	// Exactly at the deadline the challenge is already dead.
	clock.Advance(15 * time.Minute)
	err = engine.Validate(ctx, model.VerificationEmailConfirm, "user@example.com", issued.Code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestMismatchLeavesChallengeIntact(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationPasswordReset, "user@example.com", IssueOptions{Period: 900, TTL: 15 * time.Minute})
	require.NoError(t, err)

	err = engine.Validate(ctx, model.VerificationPasswordReset, "user@example.com", wrongCode(issued.Code))
	assert.ErrorIs(t, err, ErrCodeMismatch)

	// Garbage input maps to the same mismatch, never to a distinct error.
	err = engine.Validate(ctx, model.VerificationPasswordReset, "user@example.com", "not-a-code")
	assert.ErrorIs(t, err, ErrCodeMismatch)

	// The challenge was not consumed; the correct code still works.
	assert.NoError(t, engine.Validate(ctx, model.VerificationPasswordReset, "user@example.com", issued.Code))
}

func TestRecurringChallengeSurvivesValidation(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationSecondFactor, "4b2c", IssueOptions{})
	require.NoError(t, err)

	require.NoError(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", issued.Code))
	// Not one-shot: the same window's code validates again.
	require.NoError(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", issued.Code))

	// A later window's code derived from the enrolled secret also validates.
	clock.Advance(5 * time.Minute)
	later, err := totp.GenerateCodeCustom(issued.Secret, clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	assert.NoError(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", later))
}

func TestValidateToleratesAdjacentWindowOnly(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationSecondFactor, "4b2c", IssueOptions{})
	require.NoError(t, err)

	genOpts := totp.ValidateOpts{Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}

	// One step of clock drift on either side is absorbed.
	previous, err := totp.GenerateCodeCustom(issued.Secret, clock.Now().Add(-30*time.Second), genOpts)
	require.NoError(t, err)
	assert.NoError(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", previous))

	next, err := totp.GenerateCodeCustom(issued.Secret, clock.Now().Add(30*time.Second), genOpts)
	require.NoError(t, err)
	assert.NoError(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", next))

	// Three steps back is outside the window.
	stale, err := totp.GenerateCodeCustom(issued.Secret, clock.Now().Add(-90*time.Second), genOpts)
	require.NoError(t, err)
	assert.ErrorIs(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", stale), ErrCodeMismatch)
}

func TestValidateNormalizesWhitespace(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationSecondFactor, "4b2c", IssueOptions{})
	require.NoError(t, err)

	spaced := " " + issued.Code[:3] + " " + issued.Code[3:] + " "
	assert.NoError(t, engine.Validate(ctx, model.VerificationSecondFactor, "4b2c", spaced))
}

func TestValidateUnknownTarget(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(newTestClock())

	err := engine.Validate(ctx, model.VerificationEmailConfirm, "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestHasEnrollment(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	enrolled, err := engine.HasEnrollment(ctx, model.VerificationSecondFactor, "4b2c")
	require.NoError(t, err)
	assert.False(t, enrolled)

	_, err = engine.Issue(ctx, model.VerificationSecondFactor, "4b2c", IssueOptions{})
	require.NoError(t, err)

	enrolled, err = engine.HasEnrollment(ctx, model.VerificationSecondFactor, "4b2c")
	require.NoError(t, err)
	assert.True(t, enrolled)
}

func TestOneShotConsumptionClearsEnrollment(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine, _ := newTestEngine(clock)

	issued, err := engine.Issue(ctx, model.VerificationEmailChange, "new@example.com", IssueOptions{Period: 900, TTL: 15 * time.Minute})
	require.NoError(t, err)
	require.NoError(t, engine.Validate(ctx, model.VerificationEmailChange, "new@example.com", issued.Code))

	enrolled, err := engine.HasEnrollment(ctx, model.VerificationEmailChange, "new@example.com")
	require.NoError(t, err)
	assert.False(t, enrolled)
}

func TestIssueRejectsUnknownAlgorithm(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(newTestClock())

	_, err := engine.Issue(ctx, model.VerificationEmailConfirm, "user@example.com", IssueOptions{Algorithm: "MD5"})
	assert.Error(t, err)
}
