package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/caldora/internal/config"
	"github.com/cyp0633/caldora/server"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/memory"
)

// app is a fully wired server.
type app struct {
	cfg     *config.Config
	store   *memory.Store
	log     changelog.Log
	handler *server.CaldavHandler
	closer  io.Closer
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// openChangeLog opens the configured change-log backend. The returned closer
// may be nil.
func openChangeLog(cfg *config.Config) (changelog.Log, io.Closer, error) {
	switch cfg.ChangeLog.Type {
	case "sqlite":
		db, err := changelog.OpenSQLite(cfg.ChangeLog.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening change log: %w", err)
		}
		return db, db, nil
	default:
		return changelog.NewMemory(), nil, nil
	}
}

// newApp wires storage, change log and handler from cfg and seeds the
// configured users and collections.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	log, closer, err := openChangeLog(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: memory.New(), log: log, closer: closer}
	if err := a.seed(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}
	a.handler = server.NewCaldavHandler(server.Config{
		Prefix:          cfg.Prefix,
		Realm:           cfg.Realm,
		Storage:         a.store,
		Auth:            a.store,
		ChangeLog:       log,
		Directory:       a.store,
		MaxDepth:        cfg.MaxDepth,
		MaxBodySize:     cfg.MaxBodySize,
		MaxResourceSize: cfg.MaxResourceSize,
		Logger:          logger.With("component", "caldav"),
	})
	return a, nil
}

func (a *app) seed(ctx context.Context, logger *slog.Logger) error {
	for _, u := range a.cfg.Users {
		a.store.AddUser(storage.User{
			ID:                u.ID,
			DisplayName:       u.DisplayName,
			UserAddress:       u.Email,
			PreferredColor:    u.Color,
			PreferredTimezone: u.Timezone,
		}, u.Password)
	}
	for _, c := range a.cfg.Collections {
		coll := &storage.Collection{
			UserID:              c.Owner,
			ID:                  c.ID,
			DisplayName:         c.DisplayName,
			Timezone:            c.Timezone,
			SupportedComponents: c.Components,
			ReadOnly:            c.ReadOnly,
			Created:             time.Now().UTC(),
		}
		if coll.DisplayName == "" {
			coll.DisplayName = c.ID
		}
		if len(c.Shares) > 0 {
			coll.ACL = make(map[string][]storage.Privilege, len(c.Shares))
			for user, priv := range c.Shares {
				coll.ACL[user] = []storage.Privilege{storage.Privilege(priv)}
			}
		}
		if err := a.store.CreateCollection(ctx, coll); err != nil && !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("creating collection %s: %w", coll.Key(), err)
		}
		// objects do not outlive the process, so history from an earlier run
		// must not validate old tokens
		if _, err := a.log.Reset(ctx, coll.Key()); err != nil {
			return fmt.Errorf("resetting change log of %s: %w", coll.Key(), err)
		}
		logger.Debug("collection seeded", "collection", coll.Key(), "components", coll.SupportedComponents)
	}
	return nil
}
