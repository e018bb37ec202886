// Package handlers exposes the HTTP API: journal discovery, access
// brokering, proxy config lifecycle, auth, and the admin/analytics surface.
package handlers

import (
	"github.com/sdko-org/libproxy/internal/analytics"
	"github.com/sdko-org/libproxy/internal/archive"
	"github.com/sdko-org/libproxy/internal/audit"
	"github.com/sdko-org/libproxy/internal/auth"
	"github.com/sdko-org/libproxy/internal/config"
	"github.com/sdko-org/libproxy/internal/proxy"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	cfg       *config.Config
	store     store.Store
	auth      *auth.Service
	manager   *proxy.Manager
	analytics *analytics.Service
	recorder  *audit.Recorder

	// archive is nil when export snapshots are not uploaded anywhere.
	archive archive.Archiver

	log *logrus.Entry
}

func New(
	logger *logrus.Logger,
	cfg *config.Config,
	st store.Store,
	authSvc *auth.Service,
	manager *proxy.Manager,
	analyticsSvc *analytics.Service,
	recorder *audit.Recorder,
	archiver archive.Archiver,
) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     st,
		auth:      authSvc,
		manager:   manager,
		analytics: analyticsSvc,
		recorder:  recorder,
		archive:   archiver,
		log:       logger.WithField("component", "handlers"),
	}
}
