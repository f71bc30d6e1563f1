package database

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// InitSchema applies the base schema on a fresh database. It checks whether
// the caption_jobs table exists; if present it's a no-op.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'caption_jobs')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
