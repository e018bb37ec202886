package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/sdko-org/libproxy/internal/analytics"
)

func (h *Handler) analyticsDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.DashboardStats(r.Context(), rangeFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) analyticsResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.analytics.TopResources(r.Context(), rangeFrom(r), limitFrom(r, 20))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources":   resources,
		"total_count": len(resources),
	})
}

func (h *Handler) analyticsUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.analytics.TopUsers(r.Context(), rangeFrom(r), limitFrom(r, 20))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":       users,
		"total_count": len(users),
	})
}

func (h *Handler) analyticsDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.analytics.DepartmentReport(r.Context(), rangeFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"departments": departments,
		"total_count": len(departments),
	})
}

func (h *Handler) analyticsGeographic(w http.ResponseWriter, r *http.Request) {
	geographic, err := h.analytics.GeographicReport(r.Context(), rangeFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"geographic":  geographic,
		"total_count": len(geographic),
	})
}

func (h *Handler) analyticsFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.analytics.FailureAnalysis(r.Context(), rangeFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"failures":    failures,
		"total_count": len(failures),
	})
}

func (h *Handler) analyticsTurnAways(w http.ResponseWriter, r *http.Request) {
	turnAways, err := h.analytics.TurnAways(r.Context(), rangeFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"turn_aways":  turnAways,
		"total_count": len(turnAways),
	})
}

func (h *Handler) analyticsBreakdown(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	rows, err := h.analytics.Breakdown(r.Context(), rangeFrom(r), field)
	if err != nil {
		var unknown *analytics.UnknownFieldError
		if errors.As(err, &unknown) {
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":          "Unknown breakdown field",
				"field":          unknown.Field,
				"allowed_fields": analytics.BreakdownFields(),
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakdown": rows,
		"field":     field,
	})
}

func (h *Handler) analyticsLogs(w http.ResponseWriter, r *http.Request) {
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

// analyticsExport streams the range as CSV. With archive=true and an
// archiver configured, the snapshot is also uploaded and its location
// returned instead of the raw bytes.
func (h *Handler) analyticsExport(w http.ResponseWriter, r *http.Request) {
	rng := rangeFrom(r)
	data, err := h.analytics.ExportCSV(r.Context(), rng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("archive") == "true" {
		if h.archive == nil {
			h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Archival is not configured"})
			return
		}
		location, err := h.archive.Store(r.Context(), analytics.ExportName(rng), data, "text/csv")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "Export archived",
			"location":    location,
			"exported_at": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+analytics.ExportName(rng))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.WithError(err).Error("Failed to write export")
	}
}
