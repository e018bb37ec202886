// Package analytics computes usage rollups over the access log. Everything
// here is read-side and recomputed on demand; nothing is materialized.
package analytics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
)

type Service struct {
	logs store.AccessLogStore
	log  *logrus.Entry
}

func NewService(logger *logrus.Logger, logs store.AccessLogStore) *Service {
	return &Service{
		logs: logs,
		log:  logger.WithField("component", "analytics"),
	}
}

// Range is a half-open [From, To) window.
type Range struct {
	From time.Time
	To   time.Time
}

// LastDays returns a range covering the past n days up to now.
func LastDays(n int) Range {
	now := time.Now().UTC()
	return Range{From: now.AddDate(0, 0, -n), To: now}
}

type DailyPoint struct {
	Date            string `json:"date"`
	AccessCount     int    `json:"access_count"`
	UniqueUsers     int    `json:"unique_users"`
	UniqueResources int    `json:"unique_resources"`
}

type HourlyPoint struct {
	Hour        int `json:"hour"`
	AccessCount int `json:"access_count"`
	UniqueUsers int `json:"unique_users"`
}

type DashboardStats struct {
	TotalAccesses   int           `json:"total_accesses"`
	UniqueUsers     int           `json:"unique_users"`
	UniqueResources int           `json:"unique_resources"`
	DeniedAccesses  int           `json:"denied_accesses"`
	SuccessRate     float64       `json:"success_rate"`
	HourlyPattern   []HourlyPoint `json:"hourly_pattern"`
	DailyTrend      []DailyPoint  `json:"daily_trend"`
}

func (s *Service) entries(ctx context.Context, r Range) ([]models.AccessLog, error) {
	return s.logs.Range(ctx, r.From, r.To)
}

// DashboardStats aggregates the headline numbers for the admin dashboard.
// An empty range yields zeroes, never a division by zero.
func (s *Service) DashboardStats(ctx context.Context, r Range) (*DashboardStats, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		HourlyPattern: make([]HourlyPoint, 24),
	}
	for h := range stats.HourlyPattern {
		stats.HourlyPattern[h].Hour = h
	}

	users := make(map[uint]struct{})
	journals := make(map[uint]struct{})
	hourUsers := make(map[int]map[uint]struct{})
	type daily struct {
		count    int
		users    map[uint]struct{}
		journals map[uint]struct{}
	}
	days := make(map[string]*daily)
	successes := 0

	for i := range entries {
		e := &entries[i]
		stats.TotalAccesses++
		if e.JournalID != 0 {
			journals[e.JournalID] = struct{}{}
		}
		if e.UserID != nil {
			users[*e.UserID] = struct{}{}
		}
		if e.Denied() {
			stats.DeniedAccesses++
		}
		if e.ResponseStatus >= 200 && e.ResponseStatus < 400 {
			successes++
		}

		hour := e.Timestamp.UTC().Hour()
		stats.HourlyPattern[hour].AccessCount++
		if e.UserID != nil {
			if hourUsers[hour] == nil {
				hourUsers[hour] = make(map[uint]struct{})
			}
			hourUsers[hour][*e.UserID] = struct{}{}
		}

		day := e.Timestamp.UTC().Format("2006-01-02")
		d := days[day]
		if d == nil {
			d = &daily{users: make(map[uint]struct{}), journals: make(map[uint]struct{})}
			days[day] = d
		}
		d.count++
		if e.JournalID != 0 {
			d.journals[e.JournalID] = struct{}{}
		}
		if e.UserID != nil {
			d.users[*e.UserID] = struct{}{}
		}
	}

	stats.UniqueUsers = len(users)
	stats.UniqueResources = len(journals)
	for h := range stats.HourlyPattern {
		stats.HourlyPattern[h].UniqueUsers = len(hourUsers[h])
	}
	if stats.TotalAccesses > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalAccesses) * 100
	}

	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		d := days[date]
		stats.DailyTrend = append(stats.DailyTrend, DailyPoint{
			Date:            date,
			AccessCount:     d.count,
			UniqueUsers:     len(d.users),
			UniqueResources: len(d.journals),
		})
	}

	return stats, nil
}

type ResourceUsage struct {
	JournalID   uint `json:"journal_id"`
	AccessCount int  `json:"access_count"`
	UniqueUsers int  `json:"unique_users"`
	Denials     int  `json:"denials"`
}

func (s *Service) TopResources(ctx context.Context, r Range, limit int) ([]ResourceUsage, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type agg struct {
		count   int
		denials int
		users   map[uint]struct{}
	}
	byJournal := make(map[uint]*agg)
	for i := range entries {
		e := &entries[i]
		// Entries without a journal (auth failures) are not resources.
		if e.JournalID == 0 {
			continue
		}
		a := byJournal[e.JournalID]
		if a == nil {
			a = &agg{users: make(map[uint]struct{})}
			byJournal[e.JournalID] = a
		}
		a.count++
		if e.Denied() {
			a.denials++
		}
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	out := make([]ResourceUsage, 0, len(byJournal))
	for id, a := range byJournal {
		out = append(out, ResourceUsage{
			JournalID:   id,
			AccessCount: a.count,
			UniqueUsers: len(a.users),
			Denials:     a.denials,
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].AccessCount != out[k].AccessCount {
			return out[i].AccessCount > out[k].AccessCount
		}
		return out[i].JournalID < out[k].JournalID
	})
	return clip(out, limit), nil
}

type UserActivity struct {
	UserID          uint      `json:"user_id"`
	AccessCount     int       `json:"access_count"`
	UniqueResources int       `json:"unique_resources"`
	FirstAccess     time.Time `json:"first_access"`
	LastAccess      time.Time `json:"last_access"`
}

func (s *Service) TopUsers(ctx context.Context, r Range, limit int) ([]UserActivity, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type agg struct {
		count    int
		journals map[uint]struct{}
		first    time.Time
		last     time.Time
	}
	byUser := make(map[uint]*agg)
	for i := range entries {
		e := &entries[i]
		if e.UserID == nil {
			continue
		}
		a := byUser[*e.UserID]
		if a == nil {
			a = &agg{journals: make(map[uint]struct{}), first: e.Timestamp, last: e.Timestamp}
			byUser[*e.UserID] = a
		}
		a.count++
		if e.JournalID != 0 {
			a.journals[e.JournalID] = struct{}{}
		}
		if e.Timestamp.Before(a.first) {
			a.first = e.Timestamp
		}
		if e.Timestamp.After(a.last) {
			a.last = e.Timestamp
		}
	}

	out := make([]UserActivity, 0, len(byUser))
	for id, a := range byUser {
		out = append(out, UserActivity{
			UserID:          id,
			AccessCount:     a.count,
			UniqueResources: len(a.journals),
			FirstAccess:     a.first,
			LastAccess:      a.last,
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].AccessCount != out[k].AccessCount {
			return out[i].AccessCount > out[k].AccessCount
		}
		return out[i].UserID < out[k].UserID
	})
	return clip(out, limit), nil
}

// FailureGroup buckets failed accesses by the distinct reason pair: an
// upstream authentication failure versus a policy denial.
type FailureGroup struct {
	AuthFailureReason string `json:"auth_failure_reason"`
	DenialReason      string `json:"denial_reason"`
	FailureCount      int    `json:"failure_count"`
	AffectedUsers     int    `json:"affected_users"`
}

func (s *Service) FailureAnalysis(ctx context.Context, r Range) ([]FailureGroup, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type key struct{ auth, denial string }
	type agg struct {
		count int
		users map[uint]struct{}
	}
	groups := make(map[key]*agg)
	for i := range entries {
		e := &entries[i]
		if e.AuthFailureReason == "" && e.DenialReason == "" {
			continue
		}
		k := key{auth: e.AuthFailureReason, denial: e.DenialReason}
		a := groups[k]
		if a == nil {
			a = &agg{users: make(map[uint]struct{})}
			groups[k] = a
		}
		a.count++
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	out := make([]FailureGroup, 0, len(groups))
	for k, a := range groups {
		out = append(out, FailureGroup{
			AuthFailureReason: k.auth,
			DenialReason:      k.denial,
			FailureCount:      a.count,
			AffectedUsers:     len(a.users),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FailureCount > out[k].FailureCount })
	return out, nil
}

// TurnAway is a per-journal view of denied access attempts.
type TurnAway struct {
	JournalID     uint   `json:"journal_id"`
	DenialReason  string `json:"denial_reason"`
	DenialCount   int    `json:"denial_count"`
	AffectedUsers int    `json:"affected_users"`
}

func (s *Service) TurnAways(ctx context.Context, r Range) ([]TurnAway, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type key struct {
		journal uint
		reason  string
	}
	type agg struct {
		count int
		users map[uint]struct{}
	}
	groups := make(map[key]*agg)
	for i := range entries {
		e := &entries[i]
		if !e.Denied() {
			continue
		}
		k := key{journal: e.JournalID, reason: e.DenialReason}
		a := groups[k]
		if a == nil {
			a = &agg{users: make(map[uint]struct{})}
			groups[k] = a
		}
		a.count++
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	out := make([]TurnAway, 0, len(groups))
	for k, a := range groups {
		out = append(out, TurnAway{
			JournalID:     k.journal,
			DenialReason:  k.reason,
			DenialCount:   a.count,
			AffectedUsers: len(a.users),
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].DenialCount != out[k].DenialCount {
			return out[i].DenialCount > out[k].DenialCount
		}
		return out[i].JournalID < out[k].JournalID
	})
	return out, nil
}

type BreakdownRow struct {
	Value       string `json:"breakdown_value"`
	AccessCount int    `json:"access_count"`
	UniqueUsers int    `json:"unique_users"`
}

// Breakdown groups the range by one of a fixed set of entry fields.
func (s *Service) Breakdown(ctx context.Context, r Range, field string) ([]BreakdownRow, error) {
	extract, ok := breakdownFields[field]
	if !ok {
		return nil, &UnknownFieldError{Field: field}
	}

	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type agg struct {
		count int
		users map[uint]struct{}
	}
	groups := make(map[string]*agg)
	for i := range entries {
		e := &entries[i]
		v := extract(e)
		a := groups[v]
		if a == nil {
			a = &agg{users: make(map[uint]struct{})}
			groups[v] = a
		}
		a.count++
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	out := make([]BreakdownRow, 0, len(groups))
	for v, a := range groups {
		out = append(out, BreakdownRow{Value: v, AccessCount: a.count, UniqueUsers: len(a.users)})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].AccessCount != out[k].AccessCount {
			return out[i].AccessCount > out[k].AccessCount
		}
		return out[i].Value < out[k].Value
	})
	return out, nil
}

type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return "unknown breakdown field: " + e.Field
}

var breakdownFields = map[string]func(*models.AccessLog) string{
	"ip_address":      func(e *models.AccessLog) string { return e.IPAddress },
	"request_method":  func(e *models.AccessLog) string { return e.RequestMethod },
	"response_status": func(e *models.AccessLog) string { return statusLabel(e.ResponseStatus) },
	"denial_reason":   func(e *models.AccessLog) string { return e.DenialReason },
	"department":      func(e *models.AccessLog) string { return e.Department },
	"country":         func(e *models.AccessLog) string { return e.Country },
}

// BreakdownFields lists the accepted field names for Breakdown.
func BreakdownFields() []string {
	fields := make([]string, 0, len(breakdownFields))
	for f := range breakdownFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func statusLabel(status int) string {
	if status == 0 {
		return "unknown"
	}
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("%d %s", status, text)
	}
	return strconv.Itoa(status)
}

func clip[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
