package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/libproxy/internal/analytics"
	"github.com/sdko-org/libproxy/internal/store"
)

func pageFrom(r *http.Request) store.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return store.Page{Page: page, PerPage: perPage}
}

func idFrom(r *http.Request) (uint, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// rangeFrom reads start_date/end_date query params (RFC 3339 or plain date),
// defaulting to the last 30 days.
func rangeFrom(r *http.Request) analytics.Range {
	rng := analytics.LastDays(30)
	if from, ok := parseDate(r.URL.Query().Get("start_date")); ok {
		rng.From = from
	}
	if to, ok := parseDate(r.URL.Query().Get("end_date")); ok {
		rng.To = to
	}
	return rng
}

func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func limitFrom(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return fallback
}
