package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireRecent(t *testing.T) {
	clock := newTestClock()
	gate := NewFreshnessGate(clock.Now)
	maxAge := 2 * time.Hour

	// Never verified is always stale, however long the session has lived.
	assert.ErrorIs(t, gate.RequireRecent(time.Time{}, maxAge), ErrStaleVerification)

	verifiedAt := clock.Now()
	assert.NoError(t, gate.RequireRecent(verifiedAt, maxAge))

	// Exactly maxAge old is still acceptable; one second past is not.
	clock.Advance(maxAge)
	assert.NoError(t, gate.RequireRecent(verifiedAt, maxAge))
	clock.Advance(time.Second)
	assert.ErrorIs(t, gate.RequireRecent(verifiedAt, maxAge), ErrStaleVerification)
}

func TestFreshnessAfterLoginFlows(t *testing.T) {
	ctx := context.Background()
	f := newLoginFixture()
	gate := NewFreshnessGate(f.clock.Now)
	maxAge := 2 * time.Hour

	// A login that never passed a second factor cannot clear the gate.
	f.createUser(t, "alice@example.com", "correct horse")
	direct, err := f.svc.BeginLogin(ctx, "alice@example.com", "correct horse", false)
	require.NoError(t, err)
	claims, err := f.signer.VerifySessionToken(direct.SessionToken)
	require.NoError(t, err)
	assert.ErrorIs(t, gate.RequireRecent(claims.VerifiedTime(), maxAge), ErrStaleVerification)

	// A step-up commit clears it until maxAge elapses.
	bob := f.createUser(t, "bob@example.com", "hunter2 hunter2")
	code := f.enrollSecondFactor(t, bob)
	pending, err := f.svc.BeginLogin(ctx, "bob@example.com", "hunter2 hunter2", false)
	require.NoError(t, err)
	committed, err := f.svc.SubmitStepUpCode(ctx, pending.PendingToken, code())
	require.NoError(t, err)

	claims, err = f.signer.VerifySessionToken(committed.SessionToken)
	require.NoError(t, err)
	assert.NoError(t, gate.RequireRecent(claims.VerifiedTime(), maxAge))

	f.clock.Advance(3 * time.Hour)
	assert.ErrorIs(t, gate.RequireRecent(claims.VerifiedTime(), maxAge), ErrStaleVerification)
}
