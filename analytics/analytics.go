// Package analytics provides the fire-and-forget identify call made after a
// successful authentication. Failures are logged and otherwise ignored; an
// analytics outage must never affect the auth transition.
package analytics

import "go.uber.org/zap"

// ZapIdentifier records identify calls through the structured logger. It
// stands in for a real collector during development and doubles as an audit
// trail in production.
type ZapIdentifier struct {
	log *zap.Logger
}

func NewZapIdentifier(log *zap.Logger) *ZapIdentifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapIdentifier{log: log}
}

func (z *ZapIdentifier) Identify(subjectID string, traits map[string]any) {
	z.log.Info("analytics identify",
		zap.String("subject_id", subjectID),
		zap.Any("traits", traits),
	)
}

// Noop discards identify calls entirely.
type Noop struct{}

func (Noop) Identify(string, map[string]any) {}
