package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// migrationLockKey serializes migration runs between the api and worker
// processes, which both migrate on start.
const migrationLockKey int64 = 0x646f6369 // "doci"

// RunMigrations applies every *.sql file under migrationsPath that is not
// yet recorded in schema_migrations, in file name order. Each file runs in
// its own transaction together with its version row.
func RunMigrations(ctx context.Context, db DB, migrationsPath string) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("glob migration files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %s", migrationsPath)
	}
	sort.Strings(files)

	applied := 0
	for _, f := range files {
		ok, err := applyMigration(ctx, db, f)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}
	slog.Info("migrations up to date", "files", len(files), "applied", applied)
	return nil
}

func applyMigration(ctx context.Context, db DB, file string) (bool, error) {
	version := filepath.Base(file)
	sql, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx for %s: %w", version, err)
	}
	fail := func(err error) (bool, error) {
		tx.Rollback(ctx)
		return false, err
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fail(fmt.Errorf("lock migrations: %w", err))
	}
	// Checked under the lock so a concurrent run cannot apply it twice.
	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)", version).Scan(&exists); err != nil {
		return fail(fmt.Errorf("check migration %s: %w", version, err))
	}
	if exists {
		return fail(nil)
	}

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fail(fmt.Errorf("execute migration %s: %w", version, err))
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fail(fmt.Errorf("record migration %s: %w", version, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}

	slog.Info("applied migration", "version", version)
	return true, nil
}
