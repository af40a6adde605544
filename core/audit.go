package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Outcome is the terminal result of one wait for access.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeExhausted Outcome = "exhausted"
)

// Auditor records entitlement sync outcomes to an external sink (e.g., analytics).
// Implementations should be non-blocking and best-effort.
type Auditor interface {
	LogOutcome(ctx context.Context, userID, courseID string, outcome Outcome, attempts int) error
}

// LogAuditor writes outcomes to a logrus logger.
type LogAuditor struct {
	Log logrus.FieldLogger
}

func (a LogAuditor) LogOutcome(_ context.Context, userID, courseID string, outcome Outcome, attempts int) error {
	log := a.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"component": "audit",
		"user_id":   userID,
		"course_id": courseID,
		"outcome":   string(outcome),
		"attempt":   attempts,
	}).Info("entitlement sync finished")
	return nil
}
