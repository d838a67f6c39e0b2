package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"cantor/internal/config"
	"cantor/internal/db"
	"cantor/internal/engine"
	"cantor/internal/logging"
	"cantor/internal/migrate"
)

// Workspace is an opened cantor workspace: migrated catalog store, loaded
// config and an engine bound to both.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Options tweak Open. Empty values keep the config file's settings.
type Options struct {
	LogLevel  string
	LogFormat string
	LogOutput io.Writer
}

// Open loads cantor.yml (defaults when absent), configures logging, opens
// the catalog database and applies pending migrations.
func Open(ctx context.Context, dir string, opts Options) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logging.Init(logging.Config{Level: level, Format: format, Output: out})

	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log := logging.Component("app")
		log.Info().Strs("migrations", applied).Str("db", db.Path(dir)).Msg("catalog schema updated")
	}
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// Init writes a default cantor.yml unless one exists and creates the
// catalog database. It reports whether the config file was created.
func Init(ctx context.Context, dir, parish string) (bool, error) {
	path := config.Path(dir)
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(config.GenerateDefault(parish)), 0o644); err != nil {
			return false, fmt.Errorf("write %s: %w", path, err)
		}
		created = true
	} else if err != nil {
		return false, err
	}
	ws, err := Open(ctx, dir, Options{})
	if err != nil {
		return created, err
	}
	return created, ws.Close()
}
