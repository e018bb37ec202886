package analytics

import (
	"context"
	"sort"
)

type DepartmentUsage struct {
	Department      string `json:"department"`
	AccessCount     int    `json:"access_count"`
	UniqueUsers     int    `json:"unique_users"`
	UniqueResources int    `json:"unique_resources"`
}

// DepartmentReport groups the range by the department recorded on each
// entry. Entries with no department are left out, matching how attribution
// is only available for logged-in users with a populated profile.
func (s *Service) DepartmentReport(ctx context.Context, r Range) ([]DepartmentUsage, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type agg struct {
		count    int
		users    map[uint]struct{}
		journals map[uint]struct{}
	}
	groups := make(map[string]*agg)
	for i := range entries {
		e := &entries[i]
		if e.Department == "" {
			continue
		}
		a := groups[e.Department]
		if a == nil {
			a = &agg{users: make(map[uint]struct{}), journals: make(map[uint]struct{})}
			groups[e.Department] = a
		}
		a.count++
		a.journals[e.JournalID] = struct{}{}
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	out := make([]DepartmentUsage, 0, len(groups))
	for dept, a := range groups {
		out = append(out, DepartmentUsage{
			Department:      dept,
			AccessCount:     a.count,
			UniqueUsers:     len(a.users),
			UniqueResources: len(a.journals),
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].AccessCount != out[k].AccessCount {
			return out[i].AccessCount > out[k].AccessCount
		}
		return out[i].Department < out[k].Department
	})
	return out, nil
}

type GeographicUsage struct {
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
	AccessCount int    `json:"access_count"`
	UniqueUsers int    `json:"unique_users"`
	UniqueIPs   int    `json:"unique_ips"`
}

// GeographicReport groups the range by (country, region, city). Entries
// without a resolved country are left out.
func (s *Service) GeographicReport(ctx context.Context, r Range) ([]GeographicUsage, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	type key struct{ country, region, city string }
	type agg struct {
		count int
		users map[uint]struct{}
		ips   map[string]struct{}
	}
	groups := make(map[key]*agg)
	for i := range entries {
		e := &entries[i]
		if e.Country == "" {
			continue
		}
		k := key{country: e.Country, region: e.Region, city: e.City}
		a := groups[k]
		if a == nil {
			a = &agg{users: make(map[uint]struct{}), ips: make(map[string]struct{})}
			groups[k] = a
		}
		a.count++
		a.ips[e.IPAddress] = struct{}{}
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	out := make([]GeographicUsage, 0, len(groups))
	for k, a := range groups {
		out = append(out, GeographicUsage{
			Country:     k.country,
			Region:      k.region,
			City:        k.city,
			AccessCount: a.count,
			UniqueUsers: len(a.users),
			UniqueIPs:   len(a.ips),
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].AccessCount != out[k].AccessCount {
			return out[i].AccessCount > out[k].AccessCount
		}
		if out[i].Country != out[k].Country {
			return out[i].Country < out[k].Country
		}
		return out[i].City < out[k].City
	})
	return out, nil
}
