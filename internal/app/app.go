package app

import (
	"context"
	"database/sql"
	"fmt"

	"requestline/internal/config"
	"requestline/internal/db"
	"requestline/internal/domain"
	"requestline/internal/engine"
	"requestline/internal/migrate"
	"requestline/internal/repo"
)

// Context bundles the opened workspace: database, config and engine. The CLI
// and the server both start from here.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Repo   repo.Repo
	Engine engine.Engine
}

// Open opens (creating if necessary) the workspace database, applies
// migrations, loads config and seeds the code registry from it.
func Open(ctx context.Context, workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	if err := SeedRegistry(ctx, r, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed registry: %w", err)
	}
	blobs, err := db.AttachmentsDir(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg)
	eng.BlobDir = blobs
	return &Context{DB: conn, Config: cfg, Repo: r, Engine: eng}, nil
}

func (a *Context) Close() error {
	return a.DB.Close()
}

// SeedRegistry upserts the config registry groups into the codes table. Codes
// removed from config stay in the table so old requests keep resolving.
func SeedRegistry(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	var codes []domain.Code
	for group, entries := range cfg.Registry.Groups {
		for i, code := range cfg.GroupCodes(group) {
			entry := entries[code]
			c := domain.Code{Group: group, Code: code, Label: entry.Label, SortOrder: i}
			if entry.Parent != "" {
				parent := entry.Parent
				c.ParentCode = &parent
			}
			codes = append(codes, c)
		}
	}
	return r.SeedCodes(ctx, codes)
}
