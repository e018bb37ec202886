// Package proxy manages the lifecycle of per-session proxy configs: the
// routing entries that bind a granted (journal, caller, fingerprint) tuple to
// a live HAProxy route.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/policy"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
)

type Manager struct {
	configs    store.ProxyConfigStore
	journals   store.JournalStore
	evaluator  *policy.Evaluator
	recorder   *audit.Recorder
	haproxy    *HAProxy
	sessionTTL time.Duration
	log        *logrus.Entry
}

func NewManager(
	logger *logrus.Logger,
	configs store.ProxyConfigStore,
	journals store.JournalStore,
	evaluator *policy.Evaluator,
	recorder *audit.Recorder,
	haproxy *HAProxy,
	sessionTTL time.Duration,
) *Manager {
	return &Manager{
		configs:    configs,
		journals:   journals,
		evaluator:  evaluator,
		recorder:   recorder,
		haproxy:    haproxy,
		sessionTTL: sessionTTL,
		log:        logger.WithField("component", "proxy_manager"),
	}
}

// Acquire runs the policy check and resolves a live proxy config for the
// caller: an existing unexpired config for the same (journal, user, ip)
// tuple is reused with its usage bumped, otherwise a fresh one is created
// with an expiry derived from the session TTL. Every outcome, grant or
// turn-away, lands in the audit log.
func (m *Manager) Acquire(ctx context.Context, journalID uint, caller models.Caller, fp models.Fingerprint) (*models.ProxyConfig, *models.Journal, error) {
	journal, err := m.evaluator.Evaluate(ctx, journalID, caller)
	if err != nil {
		if denied, ok := err.(*policy.DeniedError); ok {
			m.recorder.Record(models.AccessLog{
				UserID:         caller.UserID,
				JournalID:      journalID,
				IPAddress:      fp.IPAddress,
				UserAgent:      fp.UserAgent,
				Referer:        fp.Referer,
				RequestMethod:  http.MethodPost,
				ResponseStatus: http.StatusForbidden,
				DenialReason:   denied.Reason,
			})
		}
		return nil, nil, err
	}

	expires := time.Now().Add(m.sessionTTL)
	proto := &models.ProxyConfig{
		JournalID:   journal.ID,
		UserID:      caller.UserID,
		ConfigName:  configName(journal, caller),
		HAProxyRule: m.haproxy.RenderRule(journal, caller.UserID),
		IPAddress:   fp.IPAddress,
		UserAgent:   fp.UserAgent,
		Referer:     fp.Referer,
		ExpiresAt:   &expires,
	}

	cfg, created, err := m.configs.Acquire(ctx, proto)
	if err != nil {
		return nil, nil, err
	}
	if created {
		m.applyBackend(ctx, cfg, journal)
	}

	m.log.WithFields(logrus.Fields{
		"journal":     journal.Slug,
		"config":      cfg.ConfigName,
		"created":     created,
		"usage_count": cfg.UsageCount,
	}).Info("Proxy config acquired")

	m.recorder.Record(models.AccessLog{
		UserID:         caller.UserID,
		JournalID:      journal.ID,
		ProxyConfigID:  &cfg.ID,
		IPAddress:      fp.IPAddress,
		UserAgent:      fp.UserAgent,
		Referer:        fp.Referer,
		RequestMethod:  http.MethodPost,
		ResponseStatus: http.StatusOK,
	})

	return cfg, journal, nil
}

// Revoke deactivates a config immediately. Only the owner or an admin may
// revoke; the row is kept for audit.
func (m *Manager) Revoke(ctx context.Context, id uint, caller models.Caller) error {
	cfg, err := m.configs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !caller.IsAdmin {
		owned := cfg.UserID != nil && caller.UserID != nil && *cfg.UserID == *caller.UserID
		if !owned {
			return &policy.DeniedError{Reason: policy.ReasonInsufficientPrivilege}
		}
	}
	if err := m.configs.Revoke(ctx, id); err != nil {
		return err
	}
	m.removeBackend(ctx, cfg.ConfigName)
	m.log.WithField("config_id", id).Info("Proxy config revoked")
	return nil
}

// applyBackend writes the per-config backend fragment and nudges HAProxy.
// The grant already stands and is audited, so failures here are logged and
// left for the next full reload to repair.
func (m *Manager) applyBackend(ctx context.Context, cfg *models.ProxyConfig, journal *models.Journal) {
	if err := m.haproxy.WriteBackendFile(cfg.ConfigName, journal); err != nil {
		m.log.WithError(err).WithField("config", cfg.ConfigName).Warn("Failed to write backend fragment")
		return
	}
	if !m.haproxy.SocketAvailable() {
		return
	}
	if err := m.haproxy.Reload(ctx); err != nil {
		m.log.WithError(err).Warn("HAProxy reload after config apply failed")
	}
}

func (m *Manager) removeBackend(ctx context.Context, configName string) {
	if err := m.haproxy.RemoveBackendFile(configName); err != nil {
		m.log.WithError(err).WithField("config", configName).Warn("Failed to remove backend fragment")
		return
	}
	if !m.haproxy.SocketAvailable() {
		return
	}
	if err := m.haproxy.Reload(ctx); err != nil {
		m.log.WithError(err).Warn("HAProxy reload after config removal failed")
	}
}

// SweepExpired deactivates every config whose expiry has passed and returns
// the count. Safe to run concurrently with Acquire: both sides gate on the
// same per-row state update.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	swept, err := m.configs.SweepExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for i := range swept {
		m.removeBackend(ctx, swept[i].ConfigName)
	}
	if len(swept) > 0 {
		m.log.WithField("count", len(swept)).Info("Expired proxy configs deactivated")
	}
	return int64(len(swept)), nil
}

type Status struct {
	ActiveConfigs   int64 `json:"active_configs"`
	RevokedConfigs  int64 `json:"revoked_configs"`
	ExpiredConfigs  int64 `json:"expired_configs"`
	SocketAvailable bool  `json:"socket_available"`
	AuditFailures   int64 `json:"audit_failures"`
}

func (m *Manager) Status(ctx context.Context) (*Status, error) {
	counts, err := m.configs.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		ActiveConfigs:   counts[models.ConfigActive],
		RevokedConfigs:  counts[models.ConfigRevoked],
		ExpiredConfigs:  counts[models.ConfigExpired],
		SocketAvailable: m.haproxy.SocketAvailable(),
		AuditFailures:   m.recorder.Failures(),
	}, nil
}

// Stats returns the HAProxy runtime counters.
func (m *Manager) Stats(ctx context.Context) ([]map[string]string, error) {
	return m.haproxy.Stats(ctx)
}

// Reload regenerates the full HAProxy configuration from the set of active
// journals and asks the running instance to pick it up.
func (m *Manager) Reload(ctx context.Context) error {
	journals, err := m.journals.Active(ctx)
	if err != nil {
		return err
	}
	content := m.haproxy.RenderConfig(journals)
	if err := m.haproxy.WriteConfig(content); err != nil {
		return fmt.Errorf("write haproxy config: %w", err)
	}
	if err := m.haproxy.Reload(ctx); err != nil {
		return fmt.Errorf("reload haproxy: %w", err)
	}
	m.log.WithField("journals", len(journals)).Info("HAProxy configuration reloaded")
	return nil
}

func (m *Manager) ListByUser(ctx context.Context, userID uint, p store.Page) ([]models.ProxyConfig, store.Pagination, error) {
	return m.configs.ListByUser(ctx, userID, p)
}

func (m *Manager) ListLive(ctx context.Context) ([]models.ProxyConfig, error) {
	return m.configs.ListLive(ctx, time.Now())
}

func configName(journal *models.Journal, caller models.Caller) string {
	who := "anon"
	if caller.UserID != nil {
		who = fmt.Sprintf("%d", *caller.UserID)
	}
	return fmt.Sprintf("%s_%s_%s", journal.Slug, who, time.Now().UTC().Format("20060102_150405"))
}
