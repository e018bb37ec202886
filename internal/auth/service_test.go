package auth

import (
	"context"
	"testing"
	"time"

	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFP = models.Fingerprint{IPAddress: "10.0.0.9", UserAgent: "test-agent"}

func newService(t *testing.T) (*Service, store.UserStore) {
	svc, users, _, _ := newServiceKit(t)
	return svc, users
}

func newServiceKit(t *testing.T) (*Service, store.UserStore, store.AccessLogStore, *audit.Recorder) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := store.NewMemoryStore()
	recorder := audit.NewRecorder(logger, st.AccessLogs())
	tokens := NewTokenGenerator("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	return NewService(logger, st.Users(), tokens, recorder), st.Users(), st.AccessLogs(), recorder
}

func register(t *testing.T, svc *Service) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterRequest{
		Username:  "jdoe",
		Email:     "jdoe@example.edu",
		Password:  "Str0ng!pass",
		FirstName: "Jordan",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	return user
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newService(t)
	user := register(t, svc)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsAdmin)
	assert.NotEqual(t, "Str0ng!pass", user.PasswordHash)

	got, pair, err := svc.Login(context.Background(), "jdoe", "Str0ng!pass", testFP)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	require.NotNil(t, got.LastLogin)
}

func TestLoginFailures(t *testing.T) {
	svc, users := newService(t)
	user := register(t, svc)

	_, _, err := svc.Login(context.Background(), "nobody", "Str0ng!pass", testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(context.Background(), "jdoe", "wrong", testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	user.IsActive = false
	require.NoError(t, users.Update(context.Background(), user))
	_, _, err = svc.Login(context.Background(), "jdoe", "Str0ng!pass", testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginFailuresAudited(t *testing.T) {
	svc, users, logs, recorder := newServiceKit(t)
	user := register(t, svc)

	_, _, err := svc.Login(context.Background(), "nobody", "Str0ng!pass", testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(context.Background(), "jdoe", "wrong", testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	user.IsActive = false
	require.NoError(t, users.Update(context.Background(), user))
	_, _, err = svc.Login(context.Background(), "jdoe", "Str0ng!pass", testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	recorder.Flush()
	entries, _, err := logs.Query(context.Background(), store.LogFilter{}, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	reasons := make(map[string]*models.AccessLog, len(entries))
	for i := range entries {
		reasons[entries[i].AuthFailureReason] = &entries[i]
	}
	require.Contains(t, reasons, "unknown_user")
	require.Contains(t, reasons, "wrong_password")
	require.Contains(t, reasons, "account_disabled")

	assert.Nil(t, reasons["unknown_user"].UserID)
	require.NotNil(t, reasons["wrong_password"].UserID)
	assert.Equal(t, user.ID, *reasons["wrong_password"].UserID)
	for _, e := range entries {
		assert.Equal(t, "10.0.0.9", e.IPAddress)
		assert.Equal(t, 401, e.ResponseStatus)
		assert.Zero(t, e.JournalID)
		assert.Empty(t, e.DenialReason)
	}
}

func TestRefreshDisabledAccountAudited(t *testing.T) {
	svc, users, logs, recorder := newServiceKit(t)
	user := register(t, svc)

	_, pair, err := svc.Login(context.Background(), "jdoe", "Str0ng!pass", testFP)
	require.NoError(t, err)

	user.IsActive = false
	require.NoError(t, users.Update(context.Background(), user))
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	recorder.Flush()
	entries, _, err := logs.Query(context.Background(), store.LogFilter{}, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "account_disabled", entries[0].AuthFailureReason)
	assert.Equal(t, "/auth/refresh", entries[0].RequestPath)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)

	cases := []struct {
		name string
		req  RegisterRequest
	}{
		{"short username", RegisterRequest{Username: "ab", Email: "a@b.io", Password: "Str0ng!pass"}},
		{"digit-leading username", RegisterRequest{Username: "1user", Email: "a@b.io", Password: "Str0ng!pass"}},
		{"bad email", RegisterRequest{Username: "gooduser", Email: "not-an-email", Password: "Str0ng!pass"}},
		{"weak password", RegisterRequest{Username: "gooduser", Email: "a@b.io", Password: "alllower1!"}},
		{"no special char", RegisterRequest{Username: "gooduser", Email: "a@b.io", Password: "Passw0rdd"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.req)
			var verr *models.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "jdoe",
		Email:    "other@example.edu",
		Password: "Str0ng!pass",
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestRefreshRotatesTokens(t *testing.T) {
	svc, users := newService(t)
	user := register(t, svc)

	_, pair, err := svc.Login(context.Background(), "jdoe", "Str0ng!pass", testFP)
	require.NoError(t, err)

	fresh, err := svc.Refresh(context.Background(), pair.RefreshToken, testFP)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.AccessToken)

	// An access token is never accepted as a refresh token.
	_, err = svc.Refresh(context.Background(), pair.AccessToken, testFP)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Deactivation cuts off refresh.
	user.IsActive = false
	require.NoError(t, users.Update(context.Background(), user))
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, testFP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveCaller(t *testing.T) {
	svc, users := newService(t)
	user := register(t, svc)
	user.IsAdmin = true
	require.NoError(t, users.Update(context.Background(), user))

	_, pair, err := svc.Login(context.Background(), "jdoe", "Str0ng!pass", testFP)
	require.NoError(t, err)

	caller, err := svc.ResolveCaller(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, caller.UserID)
	assert.Equal(t, user.ID, *caller.UserID)
	assert.True(t, caller.IsAdmin)

	_, err = svc.ResolveCaller(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newService(t)
	user := register(t, svc)

	err := svc.ChangePassword(context.Background(), user.ID, "wrong", "N3w!strong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(context.Background(), user.ID, "Str0ng!pass", "weak")
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, "Str0ng!pass", "N3w!strong"))
	_, _, err = svc.Login(context.Background(), "jdoe", "N3w!strong", testFP)
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newService(t)
	user := register(t, svc)

	email := "jordan.doe@example.edu"
	first := "J"
	updated, err := svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{Email: &email, FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, email, updated.Email)
	assert.Equal(t, "J", updated.FirstName)
	assert.Equal(t, "Doe", updated.LastName)

	bad := "nope"
	_, err = svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{Email: &bad})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}
