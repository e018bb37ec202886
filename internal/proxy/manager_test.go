package proxy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/policy"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uintPtr(v uint) *uint { return &v }

type fixture struct {
	store     *store.MemoryStore
	manager   *Manager
	recorder  *audit.Recorder
	configDir string
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := store.NewMemoryStore()
	recorder := audit.NewRecorder(logger, st.AccessLogs())
	evaluator := policy.NewEvaluator(logger, st.Journals())
	configDir := t.TempDir()
	haproxy := NewHAProxy(logger, "/nonexistent/admin.sock", t.TempDir()+"/haproxy.cfg", configDir)

	return &fixture{
		store:     st,
		recorder:  recorder,
		configDir: configDir,
		manager:   NewManager(logger, st.ProxyConfigs(), st.Journals(), evaluator, recorder, haproxy, ttl),
	}
}

func (f *fixture) seedJournal(t *testing.T, level models.AccessLevel) *models.Journal {
	t.Helper()
	j := &models.Journal{
		Name:        "Nature",
		Slug:        "nature",
		BaseURL:     "https://www.nature.com",
		ProxyPath:   "nature",
		AccessLevel: level,
		Status:      models.JournalActive,
		Timeout:     30,
	}
	require.NoError(t, f.store.Journals().Create(context.Background(), j))
	return j
}

var fp = models.Fingerprint{IPAddress: "10.1.2.3", UserAgent: "test-agent"}

func TestAcquireCreatesThenReuses(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)
	caller := models.Caller{UserID: uintPtr(1)}

	first, journal, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)
	assert.Equal(t, "nature", journal.Slug)
	assert.Equal(t, int64(1), first.UsageCount)
	require.NotNil(t, first.ExpiresAt)

	second, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.UsageCount)

	counts, err := f.store.ProxyConfigs().CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.ConfigActive])
}

func TestAcquireConcurrentSingleRow(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)
	caller := models.Caller{UserID: uintPtr(1)}

	const n = 32
	var wg sync.WaitGroup
	ids := make([]uint, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
			require.NoError(t, err)
			ids[i] = cfg.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	cfg, err := f.store.ProxyConfigs().Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(n), cfg.UsageCount)

	counts, err := f.store.ProxyConfigs().CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.ConfigActive])
}

func TestAcquireDistinctTuplesDistinctRows(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)

	a, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(1)}, fp)
	require.NoError(t, err)
	b, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(2)}, fp)
	require.NoError(t, err)
	other := models.Fingerprint{IPAddress: "10.9.9.9"}
	c, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(1)}, other)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestAcquireExpiredNeverReused(t *testing.T) {
	f := newFixture(t, -time.Minute) // everything created already expired
	j := f.seedJournal(t, models.AccessRestricted)
	caller := models.Caller{UserID: uintPtr(1)}

	first, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)

	second, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(1), second.UsageCount)
}

func TestAcquireDeniedRecordsTurnAway(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)

	_, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{}, fp)
	var denied *policy.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, policy.ReasonAuthenticationRequired, denied.Reason)

	f.recorder.Flush()
	logs, _, err := f.store.AccessLogs().Query(context.Background(), store.LogFilter{}, store.Page{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, policy.ReasonAuthenticationRequired, logs[0].DenialReason)
	assert.Equal(t, j.ID, logs[0].JournalID)
}

func TestAcquireInactiveJournalUnavailable(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessPublic)
	require.NoError(t, f.store.Journals().SetStatus(context.Background(), j.ID, models.JournalInactive))

	_, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(1)}, fp)
	assert.ErrorIs(t, err, policy.ErrUnavailable)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	j := f.seedJournal(t, models.AccessRestricted)
	caller := models.Caller{UserID: uintPtr(1)}

	n, err := f.manager.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	cfg, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	n, err = f.manager.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	swept, err := f.store.ProxyConfigs().Get(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfigExpired, swept.State)

	// Acquiring again after the sweep starts a fresh session.
	fresh, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.ID, fresh.ID)
	assert.Equal(t, int64(1), fresh.UsageCount)
}

func TestRevokeOwnership(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)
	owner := models.Caller{UserID: uintPtr(1)}

	cfg, _, err := f.manager.Acquire(context.Background(), j.ID, owner, fp)
	require.NoError(t, err)

	err = f.manager.Revoke(context.Background(), cfg.ID, models.Caller{UserID: uintPtr(2)})
	var denied *policy.DeniedError
	require.ErrorAs(t, err, &denied)

	require.NoError(t, f.manager.Revoke(context.Background(), cfg.ID, owner))
	got, err := f.store.ProxyConfigs().Get(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConfigRevoked, got.State)

	// Admin may revoke anyone's config; revocation is idempotent.
	require.NoError(t, f.manager.Revoke(context.Background(), cfg.ID, models.Caller{UserID: uintPtr(9), IsAdmin: true}))
}

func TestBackendFragmentLifecycle(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)
	caller := models.Caller{UserID: uintPtr(1)}

	cfg, _, err := f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)

	path := filepath.Join(f.configDir, cfg.ConfigName+".cfg")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "backend nature_backend")

	// Reuse does not rewrite the fragment.
	_, _, err = f.manager.Acquire(context.Background(), j.ID, caller, fp)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(context.Background(), cfg.ID, caller))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepRemovesBackendFragments(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	j := f.seedJournal(t, models.AccessRestricted)

	cfg, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(1)}, fp)
	require.NoError(t, err)
	path := filepath.Join(f.configDir, cfg.ConfigName+".cfg")
	_, err = os.Stat(path)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	n, err := f.manager.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStatusCounts(t *testing.T) {
	f := newFixture(t, time.Hour)
	j := f.seedJournal(t, models.AccessRestricted)

	cfg, _, err := f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(1)}, fp)
	require.NoError(t, err)
	_, _, err = f.manager.Acquire(context.Background(), j.ID, models.Caller{UserID: uintPtr(2)}, fp)
	require.NoError(t, err)
	require.NoError(t, f.manager.Revoke(context.Background(), cfg.ID, models.Caller{IsAdmin: true}))

	status, err := f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.ActiveConfigs)
	assert.Equal(t, int64(1), status.RevokedConfigs)
	assert.False(t, status.SocketAvailable)
}
