package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/calsync"
	"github.com/tonimelisma/tenantcal/internal/notify"
	"github.com/tonimelisma/tenantcal/internal/session"
	"github.com/tonimelisma/tenantcal/internal/tokenfile"
)

// app is the wired core: backend client, session manager and event cache
// sharing one notification bus.
type app struct {
	bus     *notify.Bus
	client  *backend.Client
	tokens  *tokenfile.Store
	session *session.Manager
	syncer  *calsync.Syncer
	store   *calsync.SQLiteStore
	logger  *slog.Logger
}

// newApp wires the core from the resolved config and restores any persisted
// session. Commands that never reach the backend pass needBackend=false.
func newApp(ctx context.Context, cc *CLIContext, needBackend bool) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	if needBackend {
		if err := cfg.RequireBackend(); err != nil {
			return nil, err
		}
	}

	userAgent := cfg.Backend.UserAgent
	if userAgent == "" {
		userAgent = "tenantcal/" + version
	}

	a := &app{
		bus:    notify.NewBus(logger),
		tokens: tokenfile.NewStore(cfg.TokenFilePath()),
		logger: logger,
	}

	a.client = backend.NewClient(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.Timeout()}, logger, userAgent)
	a.session = session.NewManager(a.client, a.tokens, a.bus, logger)
	a.client.SetAuthorizer(a.session)

	var store calsync.Store

	if path := cfg.CacheDBPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), tokenfile.DirPerms); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}

		s, err := calsync.OpenSQLiteStore(ctx, path, logger)
		if err != nil {
			return nil, err
		}

		a.store = s
		store = s
	}

	a.syncer = calsync.NewSyncer(a.client, a.session, a.bus, store, logger)
	a.session.AddListener(a.syncer)

	if _, _, err := a.session.Restore(); err != nil {
		// A corrupt token file behaves like no session; login overwrites it.
		logger.Warn("could not restore session", slog.String("error", err.Error()))
	}

	return a, nil
}

// Close releases the cache database. The persisted token is kept.
func (a *app) Close() {
	a.session.Close()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing event cache", slog.String("error", err.Error()))
		}
	}
}

// requireSession returns the live session or a hint to log in.
func (a *app) requireSession() (session.Session, error) {
	s, ok := a.session.Snapshot()
	if !ok {
		return session.Session{}, fmt.Errorf("%w; run 'tenantcal login' first", session.ErrNotLoggedIn)
	}

	return s, nil
}
