package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uintPtr(v uint) *uint { return &v }

func newEvaluator(t *testing.T) (*Evaluator, store.JournalStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	st := store.NewMemoryStore()
	return NewEvaluator(logger, st.Journals()), st.Journals()
}

func seedJournal(t *testing.T, journals store.JournalStore, level models.AccessLevel, status models.JournalStatus) *models.Journal {
	t.Helper()
	j := &models.Journal{
		Name:        "Test Journal " + string(level),
		Slug:        "test-" + string(level),
		BaseURL:     "https://upstream.example.com",
		ProxyPath:   "test-" + string(level),
		AccessLevel: level,
		Status:      status,
		Timeout:     30,
	}
	require.NoError(t, journals.Create(context.Background(), j))
	return j
}

func TestEvaluatePublicAlwaysGrants(t *testing.T) {
	ev, journals := newEvaluator(t)
	j := seedJournal(t, journals, models.AccessPublic, models.JournalActive)

	callers := []models.Caller{
		{},
		{UserID: uintPtr(1)},
		{UserID: uintPtr(2), IsAdmin: true},
	}
	for _, caller := range callers {
		granted, err := ev.Evaluate(context.Background(), j.ID, caller)
		require.NoError(t, err)
		assert.Equal(t, j.ID, granted.ID)
	}
}

func TestEvaluateAdminLevel(t *testing.T) {
	ev, journals := newEvaluator(t)
	j := seedJournal(t, journals, models.AccessAdmin, models.JournalActive)

	_, err := ev.Evaluate(context.Background(), j.ID, models.Caller{UserID: uintPtr(1)})
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonInsufficientPrivilege, denied.Reason)

	_, err = ev.Evaluate(context.Background(), j.ID, models.Caller{})
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonInsufficientPrivilege, denied.Reason)

	granted, err := ev.Evaluate(context.Background(), j.ID, models.Caller{UserID: uintPtr(1), IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, j.ID, granted.ID)
}

func TestEvaluateRestrictedLevel(t *testing.T) {
	ev, journals := newEvaluator(t)
	j := seedJournal(t, journals, models.AccessRestricted, models.JournalActive)

	_, err := ev.Evaluate(context.Background(), j.ID, models.Caller{})
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonAuthenticationRequired, denied.Reason)

	granted, err := ev.Evaluate(context.Background(), j.ID, models.Caller{UserID: uintPtr(7)})
	require.NoError(t, err)
	assert.Equal(t, j.ID, granted.ID)
}

func TestEvaluateMissingAndInactive(t *testing.T) {
	ev, journals := newEvaluator(t)

	_, err := ev.Evaluate(context.Background(), 999, models.Caller{IsAdmin: true})
	assert.ErrorIs(t, err, store.ErrNotFound)

	j := seedJournal(t, journals, models.AccessPublic, models.JournalInactive)
	_, err = ev.Evaluate(context.Background(), j.ID, models.Caller{IsAdmin: true})
	assert.True(t, errors.Is(err, ErrUnavailable))
}
