package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/libproxy/internal/models"
)

// MemoryStore is an in-process store used by tests and single-node dev
// setups. Production deployments use GormStore; the mutex here only protects
// one process and cannot replace the database uniqueness constraint.
type MemoryStore struct {
	mu sync.Mutex

	journals     map[uint]*models.Journal
	users        map[uint]*models.User
	proxyConfigs map[uint]*models.ProxyConfig
	accessLogs   []*models.AccessLog

	nextJournalID uint
	nextUserID    uint
	nextConfigID  uint
	nextLogID     uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		journals:     make(map[uint]*models.Journal),
		users:        make(map[uint]*models.User),
		proxyConfigs: make(map[uint]*models.ProxyConfig),
	}
}

func (s *MemoryStore) Journals() JournalStore         { return &memJournals{s} }
func (s *MemoryStore) Users() UserStore               { return &memUsers{s} }
func (s *MemoryStore) ProxyConfigs() ProxyConfigStore { return &memProxyConfigs{s} }
func (s *MemoryStore) AccessLogs() AccessLogStore     { return &memAccessLogs{s} }

type memJournals struct {
	s *MemoryStore
}

func (m *memJournals) Get(ctx context.Context, id uint) (*models.Journal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.journals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJournals) GetBySlug(ctx context.Context, slug string) (*models.Journal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, j := range m.s.journals {
		if j.Slug == slug {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (m *memJournals) matches(j *models.Journal, f JournalFilter) bool {
	if !f.IncludeInactive && j.Status != models.JournalActive {
		return false
	}
	if f.Search != "" &&
		!containsFold(j.Name, f.Search) &&
		!containsFold(j.Description, f.Search) &&
		!containsFold(j.Publisher, f.Search) {
		return false
	}
	if f.SubjectArea != "" {
		found := false
		for _, area := range j.SubjectAreas {
			if area == f.SubjectArea {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Publisher != "" && !containsFold(j.Publisher, f.Publisher) {
		return false
	}
	if f.ISSN != "" && j.ISSN != f.ISSN && j.EISSN != f.ISSN {
		return false
	}
	if f.AccessLevel != "" && j.AccessLevel != f.AccessLevel {
		return false
	}
	return true
}

func (m *memJournals) Find(ctx context.Context, f JournalFilter, p Page) ([]models.Journal, Pagination, error) {
	p = p.normalized()
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var all []models.Journal
	for _, j := range m.s.journals {
		if m.matches(j, f) {
			all = append(all, *j)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Name < all[k].Name })

	total := int64(len(all))
	start := p.offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], paginate(p, total), nil
}

func (m *memJournals) Create(ctx context.Context, j *models.Journal) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, other := range m.s.journals {
		if other.Slug == j.Slug || other.ProxyPath == j.ProxyPath {
			return ErrConflict
		}
	}
	m.s.nextJournalID++
	j.ID = m.s.nextJournalID
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	cp := *j
	m.s.journals[j.ID] = &cp
	return nil
}

func (m *memJournals) Update(ctx context.Context, j *models.Journal) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.journals[j.ID]; !ok {
		return ErrNotFound
	}
	for _, other := range m.s.journals {
		if other.ID != j.ID && (other.Slug == j.Slug || other.ProxyPath == j.ProxyPath) {
			return ErrConflict
		}
	}
	j.UpdatedAt = time.Now()
	cp := *j
	m.s.journals[j.ID] = &cp
	return nil
}

func (m *memJournals) SetStatus(ctx context.Context, id uint, status models.JournalStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.journals[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memJournals) Delete(ctx context.Context, id uint) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.journals[id]; !ok {
		return ErrNotFound
	}
	delete(m.s.journals, id)
	return nil
}

func (m *memJournals) SubjectAreas(ctx context.Context) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var active []models.Journal
	for _, j := range m.s.journals {
		if j.Status == models.JournalActive {
			active = append(active, *j)
		}
	}
	return collectSubjectAreas(active), nil
}

func (m *memJournals) Active(ctx context.Context) ([]models.Journal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var active []models.Journal
	for _, j := range m.s.journals {
		if j.Status == models.JournalActive {
			active = append(active, *j)
		}
	}
	sort.Slice(active, func(i, k int) bool { return active[i].Slug < active[k].Slug })
	return active, nil
}

func (m *memJournals) Count(ctx context.Context) (total, active int64, err error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, j := range m.s.journals {
		total++
		if j.Status == models.JournalActive {
			active++
		}
	}
	return
}

type memUsers struct {
	s *MemoryStore
}

func (m *memUsers) Get(ctx context.Context, id uint) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Find(ctx context.Context, search string, p Page) ([]models.User, Pagination, error) {
	p = p.normalized()
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var all []models.User
	for _, u := range m.s.users {
		if search == "" ||
			containsFold(u.Username, search) ||
			containsFold(u.Email, search) ||
			containsFold(u.FirstName, search) ||
			containsFold(u.LastName, search) {
			all = append(all, *u)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Username < all[k].Username })

	total := int64(len(all))
	start := p.offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], paginate(p, total), nil
}

func (m *memUsers) Create(ctx context.Context, u *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, other := range m.s.users {
		if other.Username == u.Username || other.Email == u.Email {
			return ErrConflict
		}
	}
	m.s.nextUserID++
	u.ID = m.s.nextUserID
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Update(ctx context.Context, u *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[u.ID]; !ok {
		return ErrNotFound
	}
	u.UpdatedAt = time.Now()
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Count(ctx context.Context) (total, active, admins int64, err error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		total++
		if u.IsActive {
			active++
		}
		if u.IsAdmin {
			admins++
		}
	}
	return
}

type memProxyConfigs struct {
	s *MemoryStore
}

func (m *memProxyConfigs) Get(ctx context.Context, id uint) (*models.ProxyConfig, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.proxyConfigs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func sameTuple(c, proto *models.ProxyConfig) bool {
	if c.JournalID != proto.JournalID || c.IPAddress != proto.IPAddress {
		return false
	}
	if (c.UserID == nil) != (proto.UserID == nil) {
		return false
	}
	return c.UserID == nil || *c.UserID == *proto.UserID
}

func (m *memProxyConfigs) Acquire(ctx context.Context, proto *models.ProxyConfig) (*models.ProxyConfig, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()

	for _, c := range m.s.proxyConfigs {
		if !sameTuple(c, proto) || c.State != models.ConfigActive {
			continue
		}
		if c.Expired(now) {
			c.State = models.ConfigExpired
			c.UpdatedAt = now
			continue
		}
		c.UsageCount++
		c.LastUsed = &now
		c.UpdatedAt = now
		cp := *c
		return &cp, false, nil
	}

	m.s.nextConfigID++
	created := *proto
	created.ID = m.s.nextConfigID
	created.State = models.ConfigActive
	created.UsageCount = 1
	created.LastUsed = &now
	created.CreatedAt = now
	created.UpdatedAt = now
	cp := created
	m.s.proxyConfigs[created.ID] = &cp
	return &created, true, nil
}

func (m *memProxyConfigs) Revoke(ctx context.Context, id uint) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.proxyConfigs[id]
	if !ok {
		return ErrNotFound
	}
	if c.State == models.ConfigActive {
		c.State = models.ConfigRevoked
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memProxyConfigs) SweepExpired(ctx context.Context, now time.Time) ([]models.ProxyConfig, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var swept []models.ProxyConfig
	for _, c := range m.s.proxyConfigs {
		if c.State == models.ConfigActive && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
			c.State = models.ConfigExpired
			c.UpdatedAt = now
			swept = append(swept, *c)
		}
	}
	return swept, nil
}

func (m *memProxyConfigs) ListByUser(ctx context.Context, userID uint, p Page) ([]models.ProxyConfig, Pagination, error) {
	p = p.normalized()
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var all []models.ProxyConfig
	for _, c := range m.s.proxyConfigs {
		if c.UserID != nil && *c.UserID == userID {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })

	total := int64(len(all))
	start := p.offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], paginate(p, total), nil
}

func (m *memProxyConfigs) ListLive(ctx context.Context, now time.Time) ([]models.ProxyConfig, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var live []models.ProxyConfig
	for _, c := range m.s.proxyConfigs {
		if c.Live(now) {
			live = append(live, *c)
		}
	}
	sort.Slice(live, func(i, k int) bool { return live[i].CreatedAt.After(live[k].CreatedAt) })
	return live, nil
}

func (m *memProxyConfigs) CountByState(ctx context.Context) (map[models.ConfigState]int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	counts := make(map[models.ConfigState]int64)
	for _, c := range m.s.proxyConfigs {
		counts[c.State]++
	}
	return counts, nil
}

type memAccessLogs struct {
	s *MemoryStore
}

func (m *memAccessLogs) Insert(ctx context.Context, e *models.AccessLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextLogID++
	e.ID = m.s.nextLogID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	cp := *e
	m.s.accessLogs = append(m.s.accessLogs, &cp)
	return nil
}

func (m *memAccessLogs) matches(e *models.AccessLog, f LogFilter) bool {
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if f.JournalID != nil && e.JournalID != *f.JournalID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.Method != "" && e.RequestMethod != f.Method {
		return false
	}
	if f.Status != nil && e.ResponseStatus != *f.Status {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	if f.Search != "" &&
		!containsFold(e.IPAddress, f.Search) &&
		!containsFold(e.RequestPath, f.Search) &&
		!containsFold(e.UserAgent, f.Search) {
		return false
	}
	return true
}

func (m *memAccessLogs) Query(ctx context.Context, f LogFilter, p Page) ([]models.AccessLog, Pagination, error) {
	p = p.normalized()
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var all []models.AccessLog
	for _, e := range m.s.accessLogs {
		if m.matches(e, f) {
			all = append(all, *e)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Timestamp.After(all[k].Timestamp) })

	total := int64(len(all))
	start := p.offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], paginate(p, total), nil
}

func (m *memAccessLogs) Range(ctx context.Context, from, to time.Time) ([]models.AccessLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.AccessLog
	for _, e := range m.s.accessLogs {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Timestamp.Before(out[k].Timestamp) })
	return out, nil
}

func (m *memAccessLogs) Count(ctx context.Context) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return int64(len(m.s.accessLogs)), nil
}

func (m *memAccessLogs) Recent(ctx context.Context, limit int) ([]models.AccessLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	all := make([]models.AccessLog, 0, len(m.s.accessLogs))
	for _, e := range m.s.accessLogs {
		all = append(all, *e)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Timestamp.After(all[k].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
