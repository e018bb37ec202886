package store

import (
	"context"
	"testing"
	"time"

	"github.com/sdko-org/libproxy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJournals(t *testing.T, s *MemoryStore) {
	t.Helper()
	journals := []models.Journal{
		{Name: "Nature", Slug: "nature", BaseURL: "https://www.nature.com", ProxyPath: "nature",
			Publisher: "Springer", ISSN: "0028-0836", AccessLevel: models.AccessRestricted,
			Status: models.JournalActive, SubjectAreas: models.StringList{"Biology", "Physics"}},
		{Name: "Science", Slug: "science", BaseURL: "https://www.science.org", ProxyPath: "science",
			Publisher: "AAAS", AccessLevel: models.AccessPublic,
			Status: models.JournalActive, SubjectAreas: models.StringList{"Biology"}},
		{Name: "Archive Weekly", Slug: "archive", BaseURL: "https://archive.example.org", ProxyPath: "archive",
			Status: models.JournalInactive},
	}
	for i := range journals {
		require.NoError(t, s.Journals().Create(context.Background(), &journals[i]))
	}
}

func TestJournalFindFilters(t *testing.T) {
	s := NewMemoryStore()
	seedJournals(t, s)

	// Inactive journals are hidden unless asked for.
	items, pagination, err := s.Journals().Find(context.Background(), JournalFilter{}, Page{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int64(2), pagination.Total)

	items, _, err = s.Journals().Find(context.Background(), JournalFilter{IncludeInactive: true}, Page{})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, _, err = s.Journals().Find(context.Background(), JournalFilter{SubjectArea: "Physics"}, Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "nature", items[0].Slug)

	items, _, err = s.Journals().Find(context.Background(), JournalFilter{ISSN: "0028-0836"}, Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, _, err = s.Journals().Find(context.Background(), JournalFilter{Search: "aaas"}, Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "science", items[0].Slug)
}

func TestJournalCreateConflict(t *testing.T) {
	s := NewMemoryStore()
	seedJournals(t, s)

	dup := &models.Journal{Name: "Nature Copy", Slug: "nature", BaseURL: "https://x.org", ProxyPath: "other"}
	assert.ErrorIs(t, s.Journals().Create(context.Background(), dup), ErrConflict)

	dup = &models.Journal{Name: "Other", Slug: "other", BaseURL: "https://x.org", ProxyPath: "nature"}
	assert.ErrorIs(t, s.Journals().Create(context.Background(), dup), ErrConflict)
}

func TestPaginationEnvelope(t *testing.T) {
	p := Page{Page: 2, PerPage: 10}.normalized()
	env := paginate(p, 35)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 4, env.Pages)
	assert.Equal(t, 10, env.PerPage)
	assert.Equal(t, int64(35), env.Total)
	assert.True(t, env.HasNext)
	assert.True(t, env.HasPrev)

	// Defaults and bounds.
	p = Page{}.normalized()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	p = Page{PerPage: 1000}.normalized()
	assert.Equal(t, 100, p.PerPage)

	empty := paginate(Page{Page: 1, PerPage: 20}, 0)
	assert.Equal(t, 0, empty.Pages)
	assert.False(t, empty.HasNext)
	assert.False(t, empty.HasPrev)
}

func TestSubjectAreasSortedUnion(t *testing.T) {
	s := NewMemoryStore()
	seedJournals(t, s)

	areas, err := s.Journals().SubjectAreas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology", "Physics"}, areas)
}

func TestAcquireAnonymousTupleSeparateFromUser(t *testing.T) {
	s := NewMemoryStore()
	uid := uint(7)
	expires := time.Now().Add(time.Hour)

	anon := &models.ProxyConfig{JournalID: 1, IPAddress: "10.0.0.1", ConfigName: "a", ExpiresAt: &expires}
	owned := &models.ProxyConfig{JournalID: 1, UserID: &uid, IPAddress: "10.0.0.1", ConfigName: "b", ExpiresAt: &expires}

	a, created, err := s.ProxyConfigs().Acquire(context.Background(), anon)
	require.NoError(t, err)
	assert.True(t, created)
	b, created, err := s.ProxyConfigs().Acquire(context.Background(), owned)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)

	// Re-acquiring the anonymous tuple reuses the anonymous row.
	again, created, err := s.ProxyConfigs().Acquire(context.Background(), anon)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, int64(2), again.UsageCount)
}

func TestAccessLogQueryPagination(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		e := &models.AccessLog{JournalID: 1, IPAddress: "10.0.0.1", ResponseStatus: 200, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.AccessLogs().Insert(context.Background(), e))
	}

	logs, pagination, err := s.AccessLogs().Query(context.Background(), LogFilter{}, Page{Page: 2, PerPage: 10})
	require.NoError(t, err)
	assert.Len(t, logs, 10)
	assert.Equal(t, int64(25), pagination.Total)
	assert.Equal(t, 3, pagination.Pages)
	// Newest first.
	assert.True(t, logs[0].Timestamp.After(logs[9].Timestamp))
}
