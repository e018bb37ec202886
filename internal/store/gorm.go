package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sdko-org/libproxy/internal/models"
	"gorm.io/gorm"
)

// GormStore is the production store backed by Postgres. The uniqueness
// discipline for proxy config acquisition relies on the partial unique index
// declared on models.ProxyConfig, so it holds across processes.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Journals() JournalStore       { return &gormJournals{db: s.db} }
func (s *GormStore) Users() UserStore             { return &gormUsers{db: s.db} }
func (s *GormStore) ProxyConfigs() ProxyConfigStore { return &gormProxyConfigs{db: s.db} }
func (s *GormStore) AccessLogs() AccessLogStore   { return &gormAccessLogs{db: s.db} }

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	}
	return err
}

type gormJournals struct {
	db *gorm.DB
}

func (g *gormJournals) Get(ctx context.Context, id uint) (*models.Journal, error) {
	var j models.Journal
	if err := g.db.WithContext(ctx).First(&j, id).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (g *gormJournals) GetBySlug(ctx context.Context, slug string) (*models.Journal, error) {
	var j models.Journal
	if err := g.db.WithContext(ctx).Where("slug = ?", slug).First(&j).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (g *gormJournals) Find(ctx context.Context, f JournalFilter, p Page) ([]models.Journal, Pagination, error) {
	p = p.normalized()
	q := g.db.WithContext(ctx).Model(&models.Journal{})

	if !f.IncludeInactive {
		q = q.Where("status = ?", models.JournalActive)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("name ILIKE ? OR description ILIKE ? OR publisher ILIKE ?", like, like, like)
	}
	if f.SubjectArea != "" {
		q = q.Where("subject_areas @> ?", fmt.Sprintf("[%q]", f.SubjectArea))
	}
	if f.Publisher != "" {
		q = q.Where("publisher ILIKE ?", "%"+f.Publisher+"%")
	}
	if f.ISSN != "" {
		q = q.Where("issn = ? OR e_issn = ?", f.ISSN, f.ISSN)
	}
	if f.AccessLevel != "" {
		q = q.Where("access_level = ?", f.AccessLevel)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	var items []models.Journal
	if err := q.Order("name").Offset(p.offset()).Limit(p.PerPage).Find(&items).Error; err != nil {
		return nil, Pagination{}, err
	}
	return items, paginate(p, total), nil
}

func (g *gormJournals) Create(ctx context.Context, j *models.Journal) error {
	return translate(g.db.WithContext(ctx).Create(j).Error)
}

func (g *gormJournals) Update(ctx context.Context, j *models.Journal) error {
	res := g.db.WithContext(ctx).Save(j)
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

func (g *gormJournals) SetStatus(ctx context.Context, id uint, status models.JournalStatus) error {
	res := g.db.WithContext(ctx).Model(&models.Journal{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormJournals) Delete(ctx context.Context, id uint) error {
	res := g.db.WithContext(ctx).Delete(&models.Journal{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormJournals) SubjectAreas(ctx context.Context) ([]string, error) {
	var journals []models.Journal
	if err := g.db.WithContext(ctx).
		Where("status = ?", models.JournalActive).
		Select("subject_areas").
		Find(&journals).Error; err != nil {
		return nil, err
	}
	return collectSubjectAreas(journals), nil
}

func (g *gormJournals) Active(ctx context.Context) ([]models.Journal, error) {
	var journals []models.Journal
	err := g.db.WithContext(ctx).
		Where("status = ?", models.JournalActive).
		Order("slug").
		Find(&journals).Error
	return journals, err
}

func (g *gormJournals) Count(ctx context.Context) (total, active int64, err error) {
	if err = g.db.WithContext(ctx).Model(&models.Journal{}).Count(&total).Error; err != nil {
		return
	}
	err = g.db.WithContext(ctx).Model(&models.Journal{}).
		Where("status = ?", models.JournalActive).
		Count(&active).Error
	return
}

type gormUsers struct {
	db *gorm.DB
}

func (g *gormUsers) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *gormUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *gormUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *gormUsers) Find(ctx context.Context, search string, p Page) ([]models.User, Pagination, error) {
	p = p.normalized()
	q := g.db.WithContext(ctx).Model(&models.User{})
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("username ILIKE ? OR email ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ?",
			like, like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	var items []models.User
	if err := q.Order("username").Offset(p.offset()).Limit(p.PerPage).Find(&items).Error; err != nil {
		return nil, Pagination{}, err
	}
	return items, paginate(p, total), nil
}

func (g *gormUsers) Create(ctx context.Context, u *models.User) error {
	return translate(g.db.WithContext(ctx).Create(u).Error)
}

func (g *gormUsers) Update(ctx context.Context, u *models.User) error {
	return translate(g.db.WithContext(ctx).Save(u).Error)
}

func (g *gormUsers) Count(ctx context.Context) (total, active, admins int64, err error) {
	m := g.db.WithContext(ctx).Model(&models.User{})
	if err = m.Count(&total).Error; err != nil {
		return
	}
	if err = g.db.WithContext(ctx).Model(&models.User{}).Where("is_active").Count(&active).Error; err != nil {
		return
	}
	err = g.db.WithContext(ctx).Model(&models.User{}).Where("is_admin").Count(&admins).Error
	return
}

type gormProxyConfigs struct {
	db *gorm.DB
}

func (g *gormProxyConfigs) Get(ctx context.Context, id uint) (*models.ProxyConfig, error) {
	var c models.ProxyConfig
	if err := g.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// tupleScope narrows a query to proto's (journal, user, ip) tuple. A nil user
// matches anonymous rows.
func tupleScope(q *gorm.DB, proto *models.ProxyConfig) *gorm.DB {
	q = q.Where("journal_id = ? AND ip_address = ?", proto.JournalID, proto.IPAddress)
	if proto.UserID == nil {
		return q.Where("user_id IS NULL")
	}
	return q.Where("user_id = ?", *proto.UserID)
}

func (g *gormProxyConfigs) Acquire(ctx context.Context, proto *models.ProxyConfig) (*models.ProxyConfig, bool, error) {
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := time.Now()

		// Reuse path: bump the live row in place. The single UPDATE is the
		// atomicity primitive shared with SweepExpired.
		res := tupleScope(g.db.WithContext(ctx).Model(&models.ProxyConfig{}), proto).
			Where("state = ?", models.ConfigActive).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Updates(map[string]interface{}{
				"usage_count": gorm.Expr("usage_count + 1"),
				"last_used":   now,
			})
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected > 0 {
			var c models.ProxyConfig
			err := tupleScope(g.db.WithContext(ctx), proto).
				Where("state = ?", models.ConfigActive).
				Order("id DESC").
				First(&c).Error
			if err != nil {
				return nil, false, translate(err)
			}
			return &c, false, nil
		}

		// Retire a stale row that is still flagged active so the partial
		// unique index does not block the insert.
		if err := tupleScope(g.db.WithContext(ctx).Model(&models.ProxyConfig{}), proto).
			Where("state = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.ConfigActive, now).
			Update("state", models.ConfigExpired).Error; err != nil {
			return nil, false, err
		}

		created := *proto
		created.State = models.ConfigActive
		created.UsageCount = 1
		created.LastUsed = &now
		err := g.db.WithContext(ctx).Create(&created).Error
		if err == nil {
			return &created, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		// Lost the race to a concurrent acquire; loop and reuse its row.
	}

	return nil, false, ErrConflict
}

func (g *gormProxyConfigs) Revoke(ctx context.Context, id uint) error {
	res := g.db.WithContext(ctx).Model(&models.ProxyConfig{}).
		Where("id = ? AND state = ?", id, models.ConfigActive).
		Update("state", models.ConfigRevoked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var c models.ProxyConfig
		if err := g.db.WithContext(ctx).First(&c, id).Error; err != nil {
			return translate(err)
		}
		// Already revoked or expired; revocation is idempotent.
	}
	return nil
}

func (g *gormProxyConfigs) SweepExpired(ctx context.Context, now time.Time) ([]models.ProxyConfig, error) {
	var swept []models.ProxyConfig
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("state = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.ConfigActive, now).
			Find(&swept).Error; err != nil {
			return err
		}
		if len(swept) == 0 {
			return nil
		}
		ids := make([]uint, len(swept))
		for i := range swept {
			ids[i] = swept[i].ID
		}
		return tx.Model(&models.ProxyConfig{}).
			Where("id IN ? AND state = ?", ids, models.ConfigActive).
			Update("state", models.ConfigExpired).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range swept {
		swept[i].State = models.ConfigExpired
	}
	return swept, nil
}

func (g *gormProxyConfigs) ListByUser(ctx context.Context, userID uint, p Page) ([]models.ProxyConfig, Pagination, error) {
	p = p.normalized()
	q := g.db.WithContext(ctx).Model(&models.ProxyConfig{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	var items []models.ProxyConfig
	if err := q.Order("created_at DESC").Offset(p.offset()).Limit(p.PerPage).Find(&items).Error; err != nil {
		return nil, Pagination{}, err
	}
	return items, paginate(p, total), nil
}

func (g *gormProxyConfigs) ListLive(ctx context.Context, now time.Time) ([]models.ProxyConfig, error) {
	var items []models.ProxyConfig
	err := g.db.WithContext(ctx).
		Where("state = ?", models.ConfigActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

func (g *gormProxyConfigs) CountByState(ctx context.Context) (map[models.ConfigState]int64, error) {
	type row struct {
		State models.ConfigState
		N     int64
	}
	var rows []row
	err := g.db.WithContext(ctx).Model(&models.ProxyConfig{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.ConfigState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}

type gormAccessLogs struct {
	db *gorm.DB
}

func (g *gormAccessLogs) Insert(ctx context.Context, e *models.AccessLog) error {
	return g.db.WithContext(ctx).Create(e).Error
}

func (g *gormAccessLogs) Query(ctx context.Context, f LogFilter, p Page) ([]models.AccessLog, Pagination, error) {
	p = p.normalized()
	q := g.db.WithContext(ctx).Model(&models.AccessLog{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.JournalID != nil {
		q = q.Where("journal_id = ?", *f.JournalID)
	}
	if f.IPAddress != "" {
		q = q.Where("ip_address = ?", f.IPAddress)
	}
	if f.Method != "" {
		q = q.Where("request_method = ?", f.Method)
	}
	if f.Status != nil {
		q = q.Where("response_status = ?", *f.Status)
	}
	if f.From != nil {
		q = q.Where("timestamp >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("timestamp < ?", *f.To)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("ip_address ILIKE ? OR request_path ILIKE ? OR user_agent ILIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	var items []models.AccessLog
	if err := q.Order("timestamp DESC").Offset(p.offset()).Limit(p.PerPage).Find(&items).Error; err != nil {
		return nil, Pagination{}, err
	}
	return items, paginate(p, total), nil
}

func (g *gormAccessLogs) Range(ctx context.Context, from, to time.Time) ([]models.AccessLog, error) {
	var items []models.AccessLog
	err := g.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		Order("timestamp").
		Find(&items).Error
	return items, err
}

func (g *gormAccessLogs) Count(ctx context.Context) (int64, error) {
	var total int64
	err := g.db.WithContext(ctx).Model(&models.AccessLog{}).Count(&total).Error
	return total, err
}

func (g *gormAccessLogs) Recent(ctx context.Context, limit int) ([]models.AccessLog, error) {
	var items []models.AccessLog
	err := g.db.WithContext(ctx).Order("timestamp DESC").Limit(limit).Find(&items).Error
	return items, err
}

// collectSubjectAreas deduplicates and sorts the union of all subject area
// lists; shared with the memory store.
func collectSubjectAreas(journals []models.Journal) []string {
	seen := make(map[string]struct{})
	for _, j := range journals {
		for _, area := range j.SubjectAreas {
			seen[area] = struct{}{}
		}
	}
	areas := make([]string, 0, len(seen))
	for area := range seen {
		areas = append(areas, area)
	}
	sort.Strings(areas)
	return areas
}
