package store

import (
	"context"
	"errors"
	"time"

	"github.com/sdko-org/libproxy/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

const defaultPerPage = 20

// Page is a requested slice of a listing.
type Page struct {
	Page    int
	PerPage int
}

func (p Page) normalized() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > 100 {
		p.PerPage = 100
	}
	return p
}

func (p Page) offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pagination is the envelope returned alongside every list result.
type Pagination struct {
	Page    int   `json:"page"`
	Pages   int   `json:"pages"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

func paginate(p Page, total int64) Pagination {
	pages := int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	return Pagination{
		Page:    p.Page,
		Pages:   pages,
		PerPage: p.PerPage,
		Total:   total,
		HasNext: p.Page < pages,
		HasPrev: p.Page > 1 && total > 0,
	}
}

type JournalFilter struct {
	Search      string
	SubjectArea string
	Publisher   string
	ISSN        string
	AccessLevel models.AccessLevel

	// IncludeInactive widens the listing beyond active journals; used by the
	// admin surface only.
	IncludeInactive bool
}

type LogFilter struct {
	UserID    *uint
	JournalID *uint
	IPAddress string
	Method    string
	Status    *int
	From      *time.Time
	To        *time.Time

	// Search matches free text against ip address, request path and user
	// agent.
	Search string
}

type JournalStore interface {
	Get(ctx context.Context, id uint) (*models.Journal, error)
	GetBySlug(ctx context.Context, slug string) (*models.Journal, error)
	Find(ctx context.Context, f JournalFilter, p Page) ([]models.Journal, Pagination, error)
	// Create fails with ErrConflict when the slug or proxy path is taken.
	Create(ctx context.Context, j *models.Journal) error
	Update(ctx context.Context, j *models.Journal) error
	SetStatus(ctx context.Context, id uint, status models.JournalStatus) error
	// Delete removes the row permanently; SetStatus is the usual path.
	Delete(ctx context.Context, id uint) error
	SubjectAreas(ctx context.Context) ([]string, error)
	Active(ctx context.Context) ([]models.Journal, error)
	Count(ctx context.Context) (total, active int64, err error)
}

type UserStore interface {
	Get(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Find(ctx context.Context, search string, p Page) ([]models.User, Pagination, error)
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, u *models.User) error
	Count(ctx context.Context) (total, active, admins int64, err error)
}

type ProxyConfigStore interface {
	Get(ctx context.Context, id uint) (*models.ProxyConfig, error)

	// Acquire resolves the reuse-or-create step for the (journal, user, ip)
	// tuple carried by proto. A live unexpired config is reused with its
	// usage count bumped; otherwise proto is inserted with usage count 1.
	// Concurrent calls for the same tuple settle on a single row. The second
	// return value reports whether a row was created.
	Acquire(ctx context.Context, proto *models.ProxyConfig) (*models.ProxyConfig, bool, error)

	Revoke(ctx context.Context, id uint) error

	// SweepExpired flips every active config whose expiry has passed to the
	// expired state and returns the rows it changed, so callers can tear
	// down whatever the configs had applied.
	SweepExpired(ctx context.Context, now time.Time) ([]models.ProxyConfig, error)

	ListByUser(ctx context.Context, userID uint, p Page) ([]models.ProxyConfig, Pagination, error)
	ListLive(ctx context.Context, now time.Time) ([]models.ProxyConfig, error)
	CountByState(ctx context.Context) (map[models.ConfigState]int64, error)
}

type AccessLogStore interface {
	// Insert appends an entry. Entries are immutable once written.
	Insert(ctx context.Context, e *models.AccessLog) error
	Query(ctx context.Context, f LogFilter, p Page) ([]models.AccessLog, Pagination, error)
	// Range returns all entries with from <= timestamp < to, oldest first.
	Range(ctx context.Context, from, to time.Time) ([]models.AccessLog, error)
	Count(ctx context.Context) (int64, error)
	Recent(ctx context.Context, limit int) ([]models.AccessLog, error)
}

// Store bundles the per-aggregate stores behind one handle.
type Store interface {
	Journals() JournalStore
	Users() UserStore
	ProxyConfigs() ProxyConfigStore
	AccessLogs() AccessLogStore
}
