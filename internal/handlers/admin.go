package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/sdko-org/libproxy/internal/auth"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
)

func (h *Handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, pagination, err := h.store.Users().Find(r.Context(), r.URL.Query().Get("search"), pageFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":      users,
		"pagination": pagination,
	})
}

type adminCreateUserRequest struct {
	auth.RegisterRequest
	Department string `json:"department"`
	IsAdmin    bool   `json:"is_admin"`
}

func (h *Handler) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req adminCreateUserRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), req.RegisterRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.IsAdmin || req.Department != "" {
		user.IsAdmin = req.IsAdmin
		user.Department = req.Department
		if err := h.store.Users().Update(r.Context(), user); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User created successfully",
		"user":    user,
	})
}

type adminUpdateUserRequest struct {
	Email      *string `json:"email"`
	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	Department *string `json:"department"`
	IsAdmin    *bool   `json:"is_admin"`
	IsActive   *bool   `json:"is_active"`
}

func (h *Handler) adminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid user id"})
		return
	}

	var req adminUpdateUserRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.store.Users().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.Email != nil {
		if err := auth.ValidateEmail(*req.Email); err != nil {
			h.writeError(w, r, err)
			return
		}
		user.Email = *req.Email
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Department != nil {
		user.Department = *req.Department
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := h.store.Users().Update(r.Context(), user); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User updated",
		"user":    user,
	})
}

type adminSetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) adminSetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid user id"})
		return
	}

	var req adminSetPasswordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.auth.SetPassword(r.Context(), id, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (h *Handler) adminListJournals(w http.ResponseWriter, r *http.Request) {
	filter := journalFilterFrom(r)
	filter.IncludeInactive = true

	journals, pagination, err := h.store.Journals().Find(r.Context(), filter, pageFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"journals":   journals,
		"pagination": pagination,
	})
}

type journalRequest struct {
	Name          string            `json:"name"`
	Slug          string            `json:"slug"`
	Description   string            `json:"description"`
	BaseURL       string            `json:"base_url"`
	ProxyPath     string            `json:"proxy_path"`
	RequiresAuth  *bool             `json:"requires_auth"`
	AuthMethod    string            `json:"auth_method"`
	CustomHeaders models.HeaderMap  `json:"custom_headers"`
	Timeout       int               `json:"timeout"`
	AccessLevel   string            `json:"access_level"`
	Publisher     string            `json:"publisher"`
	ISSN          string            `json:"issn"`
	EISSN         string            `json:"e_issn"`
	SubjectAreas  models.StringList `json:"subject_areas"`
}

func validateJournalRequest(req *journalRequest) error {
	switch {
	case req.Name == "":
		return &models.ValidationError{Field: "name", Message: "Name is required"}
	case req.Slug == "":
		return &models.ValidationError{Field: "slug", Message: "Slug is required"}
	case req.ProxyPath == "":
		return &models.ValidationError{Field: "proxy_path", Message: "Proxy path is required"}
	}
	if u, err := url.Parse(req.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &models.ValidationError{Field: "base_url", Message: "Base URL must be a valid http(s) URL"}
	}
	if req.AccessLevel != "" && !models.AccessLevel(req.AccessLevel).Valid() {
		return &models.ValidationError{Field: "access_level", Message: "Access level must be public, restricted, or admin"}
	}
	return nil
}

func (h *Handler) adminCreateJournal(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := validateJournalRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	journal := &models.Journal{
		Name:          req.Name,
		Slug:          req.Slug,
		Description:   req.Description,
		BaseURL:       req.BaseURL,
		ProxyPath:     req.ProxyPath,
		RequiresAuth:  true,
		AuthMethod:    req.AuthMethod,
		CustomHeaders: req.CustomHeaders,
		Timeout:       req.Timeout,
		AccessLevel:   models.AccessPublic,
		Status:        models.JournalActive,
		Publisher:     req.Publisher,
		ISSN:          req.ISSN,
		EISSN:         req.EISSN,
		SubjectAreas:  req.SubjectAreas,
	}
	if req.RequiresAuth != nil {
		journal.RequiresAuth = *req.RequiresAuth
	}
	if req.AccessLevel != "" {
		journal.AccessLevel = models.AccessLevel(req.AccessLevel)
	}
	if journal.Timeout <= 0 {
		journal.Timeout = 30
	}

	if err := h.store.Journals().Create(r.Context(), journal); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Journal created successfully",
		"journal": journal,
	})
}

func (h *Handler) adminUpdateJournal(w http.ResponseWriter, r *http.Request) {
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

	var req journalRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := validateJournalRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	journal.Name = req.Name
	journal.Slug = req.Slug
	journal.Description = req.Description
	journal.BaseURL = req.BaseURL
	journal.ProxyPath = req.ProxyPath
	journal.AuthMethod = req.AuthMethod
	journal.CustomHeaders = req.CustomHeaders
	journal.Publisher = req.Publisher
	journal.ISSN = req.ISSN
	journal.EISSN = req.EISSN
	journal.SubjectAreas = req.SubjectAreas
	if req.RequiresAuth != nil {
		journal.RequiresAuth = *req.RequiresAuth
	}
	if req.AccessLevel != "" {
		journal.AccessLevel = models.AccessLevel(req.AccessLevel)
	}
	if req.Timeout > 0 {
		journal.Timeout = req.Timeout
	}

	if err := h.store.Journals().Update(r.Context(), journal); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Journal updated successfully",
		"journal": journal,
	})
}

// adminDeleteJournal deactivates by default; existing proxy configs lapse on
// their own expiry. hard=true removes the row entirely.
func (h *Handler) adminDeleteJournal(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid journal id"})
		return
	}

	if r.URL.Query().Get("hard") == "true" {
		err = h.store.Journals().Delete(r.Context(), id)
	} else {
		err = h.store.Journals().SetStatus(r.Context(), id, models.JournalInactive)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Journal deleted successfully"})
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	totalUsers, activeUsers, adminUsers, err := h.store.Users().Count(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	totalJournals, activeJournals, err := h.store.Journals().Count(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	configCounts, err := h.store.ProxyConfigs().CountByState(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	totalLogs, err := h.store.AccessLogs().Count(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recent, err := h.store.AccessLogs().Recent(r.Context(), 10)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var totalConfigs int64
	for _, n := range configCounts {
		totalConfigs += n
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": map[string]int64{
			"total":  totalUsers,
			"active": activeUsers,
			"admins": adminUsers,
		},
		"journals": map[string]int64{
			"total":  totalJournals,
			"active": activeJournals,
		},
		"proxy_configs": map[string]int64{
			"total":  totalConfigs,
			"active": configCounts[models.ConfigActive],
		},
		"access_logs": map[string]int64{
			"total": totalLogs,
		},
		"recent_activity": recent,
	})
}

func logFilterFrom(r *http.Request) store.LogFilter {
	q := r.URL.Query()
	f := store.LogFilter{
		IPAddress: q.Get("ip_address"),
		Method:    q.Get("method"),
		Search:    q.Get("search"),
	}
	if raw := q.Get("user_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			v := uint(id)
			f.UserID = &v
		}
	}
	if raw := q.Get("journal_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			v := uint(id)
			f.JournalID = &v
		}
	}
	if raw := q.Get("status"); raw != "" {
		if status, err := strconv.Atoi(raw); err == nil {
			f.Status = &status
		}
	}
	if from, ok := parseDate(q.Get("start_date")); ok {
		f.From = &from
	}
	if to, ok := parseDate(q.Get("end_date")); ok {
		f.To = &to
	}
	return f
}

func (h *Handler) adminAccessLogs(w http.ResponseWriter, r *http.Request) {
	logs, pagination, err := h.recorder.Query(r.Context(), logFilterFrom(r), pageFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":       logs,
		"pagination": pagination,
	})
}
