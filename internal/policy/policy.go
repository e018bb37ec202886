// Package policy decides whether a caller may reach a journal. The rules are
// three fixed tiers keyed by the journal's access level; everything else
// (token validity, account state) is resolved upstream.
package policy

import (
	"context"
	"fmt"

	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	ReasonInsufficientPrivilege  = "insufficient_privilege"
	ReasonAuthenticationRequired = "authentication_required"
)

// DeniedError carries the denial reason recorded in the audit log and
// surfaced to the caller as a 403.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// ErrUnavailable marks a journal that exists but is deactivated. Existing
// proxy configs are not touched; they lapse on their own expiry.
var ErrUnavailable = fmt.Errorf("journal is not available")

type Evaluator struct {
	journals store.JournalStore
	log      *logrus.Entry
}

func NewEvaluator(logger *logrus.Logger, journals store.JournalStore) *Evaluator {
	return &Evaluator{
		journals: journals,
		log:      logger.WithField("component", "policy"),
	}
}

// Evaluate returns the journal on grant, store.ErrNotFound when the journal
// does not exist, ErrUnavailable when it is inactive, and a *DeniedError when
// the caller's identity does not satisfy the journal's access level.
func (e *Evaluator) Evaluate(ctx context.Context, journalID uint, caller models.Caller) (*models.Journal, error) {
	journal, err := e.journals.Get(ctx, journalID)
	if err != nil {
		return nil, err
	}
	if !journal.IsActive() {
		return nil, ErrUnavailable
	}

	switch journal.AccessLevel {
	case models.AccessAdmin:
		if !caller.IsAdmin {
			e.logDeny(journal, caller, ReasonInsufficientPrivilege)
			return nil, &DeniedError{Reason: ReasonInsufficientPrivilege}
		}
	case models.AccessRestricted:
		if caller.Anonymous() {
			e.logDeny(journal, caller, ReasonAuthenticationRequired)
			return nil, &DeniedError{Reason: ReasonAuthenticationRequired}
		}
	case models.AccessPublic:
		// Public journals grant regardless of identity.
	}

	return journal, nil
}

func (e *Evaluator) logDeny(journal *models.Journal, caller models.Caller, reason string) {
	fields := logrus.Fields{
		"journal": journal.Slug,
		"reason":  reason,
	}
	if caller.UserID != nil {
		fields["user_id"] = *caller.UserID
	}
	e.log.WithFields(fields).Info("Access denied")
}
