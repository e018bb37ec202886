package handlers

import (
	"net/http"
)

type generateRequest struct {
	JournalID uint `json:"journal_id"`
}

func (h *Handler) generateConfig(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.JournalID == 0 {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Journal ID is required", Field: "journal_id"})
		return
	}

	cfg, journal, err := h.manager.Acquire(r.Context(), req.JournalID, callerFrom(r), fingerprintFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Proxy configuration generated successfully",
		"config":     cfg,
		"access_url": journal.ProxyURL(r.Host),
	})
}

func (h *Handler) revokeConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid config id"})
		return
	}
	if err := h.manager.Revoke(r.Context(), id, callerFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Proxy configuration revoked"})
}

func (h *Handler) proxyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) proxyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		// The admin socket being down is an expected condition, not a 500.
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "HAProxy stats unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *Handler) proxyCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.SweepExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Cleanup completed",
		"deactivated": n,
	})
}

func (h *Handler) proxyReload(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Reload(r.Context()); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "HAProxy reload failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "HAProxy configuration reloaded"})
}

// listConfigs returns the caller's own configs; admins see every live config
// with the all=true query flag.
func (h *Handler) listConfigs(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)

	if caller.IsAdmin && r.URL.Query().Get("all") == "true" {
		configs, err := h.manager.ListLive(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"configs": configs})
		return
	}

	configs, pagination, err := h.manager.ListByUser(r.Context(), *caller.UserID, pageFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"configs":    configs,
		"pagination": pagination,
	})
}
