package handlers

import (
	"net/http"

	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
)

func journalFilterFrom(r *http.Request) store.JournalFilter {
	q := r.URL.Query()
	return store.JournalFilter{
		Search:      q.Get("search"),
		SubjectArea: q.Get("subject_area"),
		Publisher:   q.Get("publisher"),
		ISSN:        q.Get("issn"),
		AccessLevel: models.AccessLevel(q.Get("access_level")),
	}
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	journals, pagination, err := h.store.Journals().Find(r.Context(), journalFilterFrom(r), pageFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"journals":   journals,
		"pagination": pagination,
	})
}

func (h *Handler) searchJournals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Search query is required", Field: "q"})
		return
	}

	filter := journalFilterFrom(r)
	filter.Search = query
	journals, pagination, err := h.store.Journals().Find(r.Context(), filter, pageFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"journals":   journals,
		"pagination": pagination,
		"query":      query,
	})
}

func (h *Handler) listSubjectAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.store.Journals().SubjectAreas(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"subject_areas": areas})
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid journal id"})
		return
	}
	journal, err := h.store.Journals().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"journal": journal})
}

// requestAccess is the end-to-end access broker: policy evaluation, proxy
// config acquisition, and the audit trail all happen behind manager.Acquire.
func (h *Handler) requestAccess(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid journal id"})
		return
	}

	cfg, journal, err := h.manager.Acquire(r.Context(), id, callerFrom(r), fingerprintFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Access granted",
		"journal":      journal,
		"access_url":   journal.ProxyURL(r.Host),
		"proxy_config": cfg,
	})
}

func (h *Handler) getProxyURL(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid journal id"})
		return
	}
	journal, err := h.store.Journals().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !journal.IsActive() {
		h.writeJSON(w, http.StatusForbidden, errorBody{Error: "Journal is not available"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"journal_id": journal.ID,
		"proxy_url":  journal.ProxyURL(r.Host),
	})
}
