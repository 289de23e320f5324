package auth

import "time"

// FreshnessGate decides whether the last step-up is recent enough for a
// sensitive account mutation. It measures against the verified_at timestamp
// carried in the authenticated channel, so no store round trip is needed.
type FreshnessGate struct {
	now func() time.Time
}

// NewFreshnessGate creates a freshness gate. A nil clock defaults to time.Now.
func NewFreshnessGate(now func() time.Time) *FreshnessGate {
	if now == nil {
		now = time.Now
	}
	return &FreshnessGate{now: now}
}

// RequireRecent fails with ErrStaleVerification unless a step-up completed
// within maxAge. The zero time means "never verified" and is always stale.
func (g *FreshnessGate) RequireRecent(verifiedAt time.Time, maxAge time.Duration) error {
	if verifiedAt.IsZero() || g.now().Sub(verifiedAt) > maxAge {
		return ErrStaleVerification
	}
	return nil
}
