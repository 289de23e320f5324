package notify

import (
	"context"
	"log"
	"strings"
)

// Notifier delivers a one-time code (or link) to a target out of band.
// Actual transport (SMTP, SMS gateway) is a deployment concern; the core
// only depends on this capability.
type Notifier interface {
	Send(ctx context.Context, target, code string) error
}

// LogNotifier records that a delivery would have happened, with the target
// masked. The code itself is never logged.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier for development and tests.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Send logs the delivery attempt.
func (n *LogNotifier) Send(ctx context.Context, target, code string) error {
	log.Printf("notify %s: one-time code sent", maskTarget(target))
	return nil
}

// maskTarget masks an email address or identifier for logging
// (e.g. al***@example.com).
func maskTarget(target string) string {
	if at := strings.Index(target, "@"); at > 0 {
		local := target[:at]
		if len(local) > 2 {
			local = local[:2] + strings.Repeat("*", len(local)-2)
		} else {
			local = "**"
		}
		return local + target[at:]
	}
	if len(target) <= 4 {
		return "****"
	}
	return target[:2] + strings.Repeat("*", len(target)-4) + target[len(target)-2:]
}
