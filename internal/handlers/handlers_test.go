package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/libproxy/internal/analytics"
	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/auth"
	"github.com/sdko-org/libproxy/internal/config"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/policy"
	"github.com/sdko-org/libproxy/internal/proxy"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *store.MemoryStore
	handler  *Handler
	router   *mux.Router
	auth     *auth.Service
	recorder *audit.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{
		SessionTTL:      time.Hour,
		RateLimit:       100,
		RateLimitWindow: time.Minute,
	}

	st := store.NewMemoryStore()
	recorder := audit.NewRecorder(logger, st.AccessLogs())
	evaluator := policy.NewEvaluator(logger, st.Journals())
	haproxy := proxy.NewHAProxy(logger, "/nonexistent/admin.sock", t.TempDir()+"/haproxy.cfg", t.TempDir())
	manager := proxy.NewManager(logger, st.ProxyConfigs(), st.Journals(), evaluator, recorder, haproxy, cfg.SessionTTL)
	tokens := auth.NewTokenGenerator("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	authSvc := auth.NewService(logger, st.Users(), tokens, recorder)
	analyticsSvc := analytics.NewService(logger, st.AccessLogs())

	h := New(logger, cfg, st, authSvc, manager, analyticsSvc, recorder, nil)
	return &testEnv{
		store:    st,
		handler:  h,
		router:   h.Routes(),
		auth:     authSvc,
		recorder: recorder,
	}
}

func (e *testEnv) seedJournal(t *testing.T, slug string, level models.AccessLevel) *models.Journal {
	t.Helper()
	j := &models.Journal{
		Name:        "Journal " + slug,
		Slug:        slug,
		BaseURL:     "https://www." + slug + ".com",
		ProxyPath:   slug,
		AccessLevel: level,
		Status:      models.JournalActive,
		Timeout:     30,
	}
	require.NoError(t, e.store.Journals().Create(context.Background(), j))
	return j
}

// seedUser registers through the auth service and returns an access token.
func (e *testEnv) seedUser(t *testing.T, username string, admin bool) (*models.User, string) {
	t.Helper()
	user, err := e.auth.Register(context.Background(), auth.RegisterRequest{
		Username: username,
		Email:    username + "@example.edu",
		Password: "Str0ng!pass",
	})
	require.NoError(t, err)
	if admin {
		user.IsAdmin = true
		require.NoError(t, e.store.Users().Update(context.Background(), user))
	}

	_, pair, err := e.auth.Login(context.Background(), username, "Str0ng!pass", models.Fingerprint{IPAddress: "10.1.2.3"})
	require.NoError(t, err)
	return user, pair.AccessToken
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.1.2.3:54321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestJournalListingAndPagination(t *testing.T) {
	env := newTestEnv(t)
	for _, slug := range []string{"nature", "science", "plos"} {
		env.seedJournal(t, slug, models.AccessPublic)
	}

	rec := env.do(http.MethodGet, "/journals?per_page=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Len(t, body["journals"], 2)
	pagination := body["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["page"])
	assert.Equal(t, float64(2), pagination["pages"])
	assert.Equal(t, float64(3), pagination["total"])
	assert.Equal(t, true, pagination["has_next"])
	assert.Equal(t, false, pagination["has_prev"])
}

func TestGetJournalNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/journals/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccessRestrictedJournal(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJournal(t, "nature", models.AccessRestricted)
	_, token := env.seedUser(t, "reader", false)

	// Anonymous callers are turned away.
	rec := env.do(http.MethodPost, "/journals/1/access", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authentication_required", decode(t, rec)["reason"])

	// Authenticated callers get a config and an access URL.
	rec = env.do(http.MethodPost, "/journals/1/access", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["access_url"], "/nature")
	cfg := body["proxy_config"].(map[string]interface{})
	assert.Equal(t, float64(j.ID), cfg["journal_id"])
	assert.Equal(t, float64(1), cfg["usage_count"])

	// Same caller reuses the config.
	rec = env.do(http.MethodPost, "/journals/1/access", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)["proxy_config"].(map[string]interface{})
	assert.Equal(t, cfg["id"], again["id"])
	assert.Equal(t, float64(2), again["usage_count"])

	// The turn-away reached the audit log.
	env.recorder.Flush()
	status := http.StatusForbidden
	logs, _, err := env.store.AccessLogs().Query(context.Background(), store.LogFilter{Status: &status}, store.Page{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "authentication_required", logs[0].DenialReason)
}

func TestAccessPublicJournalAnonymous(t *testing.T) {
	env := newTestEnv(t)
	env.seedJournal(t, "plos", models.AccessPublic)

	rec := env.do(http.MethodPost, "/journals/1/access", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode(t, rec)["proxy_config"].(map[string]interface{})
	assert.Nil(t, cfg["user_id"])
}

func TestAccessInactiveJournal(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJournal(t, "nature", models.AccessPublic)
	require.NoError(t, env.store.Journals().SetStatus(context.Background(), j.ID, models.JournalInactive))

	rec := env.do(http.MethodPost, "/journals/1/access", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Journal is not available", decode(t, rec)["error"])
}

func TestGenerateAndRevokeConfig(t *testing.T) {
	env := newTestEnv(t)
	env.seedJournal(t, "nature", models.AccessRestricted)
	_, owner := env.seedUser(t, "owner", false)
	_, other := env.seedUser(t, "other", false)

	rec := env.do(http.MethodPost, "/proxy/generate", owner, generateRequest{JournalID: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	cfgID := decode(t, rec)["config"].(map[string]interface{})["id"].(float64)

	// Another user cannot revoke someone else's config.
	rec = env.do(http.MethodDelete, "/proxy/1", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/proxy/1", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.ProxyConfigs().Get(context.Background(), uint(cfgID))
	require.NoError(t, err)
	assert.Equal(t, models.ConfigRevoked, got.State)
}

func TestGenerateRequiresJournalID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/proxy/generate", "", generateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "reader", false)

	for _, path := range []string{"/admin/stats", "/admin/access-logs", "/analytics/dashboard", "/proxy/status"} {
		rec := env.do(http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)

		rec = env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAdminJournalCRUD(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.seedUser(t, "boss", true)

	create := journalRequest{
		Name:      "Nature",
		Slug:      "nature",
		BaseURL:   "https://www.nature.com",
		ProxyPath: "nature",
	}
	rec := env.do(http.MethodPost, "/admin/journals", admin, create)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate slug conflicts.
	rec = env.do(http.MethodPost, "/admin/journals", admin, create)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Validation failures are field-level 400s.
	bad := create
	bad.Slug = "other"
	bad.ProxyPath = "other"
	bad.BaseURL = "not a url"
	rec = env.do(http.MethodPost, "/admin/journals", admin, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "base_url", decode(t, rec)["field"])

	// Soft delete deactivates.
	rec = env.do(http.MethodDelete, "/admin/journals/1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	j, err := env.store.Journals().Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.JournalInactive, j.Status)
}

func TestAdminStats(t *testing.T) {
	env := newTestEnv(t)
	env.seedJournal(t, "nature", models.AccessPublic)
	_, admin := env.seedUser(t, "boss", true)

	rec := env.do(http.MethodGet, "/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	users := body["users"].(map[string]interface{})
	assert.Equal(t, float64(1), users["total"])
	assert.Equal(t, float64(1), users["admins"])
	journals := body["journals"].(map[string]interface{})
	assert.Equal(t, float64(1), journals["active"])
}

func TestAuthFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/auth/register", "", auth.RegisterRequest{
		Username: "jdoe",
		Email:    "jdoe@example.edu",
		Password: "Str0ng!pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", "", loginRequest{Username: "jdoe", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", "", loginRequest{Username: "jdoe", Password: "Str0ng!pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	rec = env.do(http.MethodGet, "/auth/profile", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]interface{})
	assert.Equal(t, "jdoe", user["username"])

	rec = env.do(http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["access_token"])

	// An access token is rejected by the refresh endpoint.
	rec = env.do(http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: access})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFailureLandsInAccessLog(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "jdoe", false)

	rec := env.do(http.MethodPost, "/auth/login", "", map[string]string{
		"username": "jdoe",
		"password": "wrong-pass",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	env.recorder.Flush()
	status := http.StatusUnauthorized
	logs, _, err := env.store.AccessLogs().Query(context.Background(), store.LogFilter{Status: &status}, store.Page{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "wrong_password", logs[0].AuthFailureReason)
	assert.Equal(t, "10.1.2.3", logs[0].IPAddress)
	require.NotNil(t, logs[0].UserID)
}

func TestAnalyticsDashboardEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.seedUser(t, "boss", true)

	rec := env.do(http.MethodGet, "/analytics/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(0), body["total_accesses"])
	assert.Equal(t, float64(0), body["success_rate"])
	assert.Len(t, body["hourly_pattern"], 24)
}

func TestAnalyticsBreakdownUnknownField(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.seedUser(t, "boss", true)

	rec := env.do(http.MethodGet, "/analytics/breakdown?field=nope", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["allowed_fields"])
}

func TestAnalyticsExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.seedJournal(t, "nature", models.AccessPublic)
	_, admin := env.seedUser(t, "boss", true)

	rec := env.do(http.MethodPost, "/journals/1/access", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env.recorder.Flush()

	rec = env.do(http.MethodGet, "/analytics/export", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "timestamp,user_id,journal_id")

	// Archival not configured in this environment.
	rec = env.do(http.MethodGet, "/analytics/export?archive=true", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProxyCleanupEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.seedUser(t, "boss", true)

	rec := env.do(http.MethodPost, "/proxy/cleanup", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["deactivated"])
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t)
	env.seedJournal(t, "nature", models.AccessPublic)

	rl := NewRateLimiter(&config.Config{RateLimit: 3, RateLimitWindow: time.Minute})
	limited := rl.Middleware(env.router)

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/journals", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}
