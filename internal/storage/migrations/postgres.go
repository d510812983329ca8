package migrations

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"solana-wallet-ledger/internal/storage/postgres"
)

// RunPostgresMigrations applies embedded SQL files in lexical order.
// Applied file names are recorded in schema_migrations and skipped on later runs.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		var applied bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, file,
		).Scan(&applied); err != nil {
			return errors.Wrapf(err, "check migration %s", file)
		}
		if applied {
			continue
		}

		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", file)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return errors.Wrap(err, "begin migration tx")
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "apply migration %s", file)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2)`,
			file, time.Now().UnixMilli(),
		); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "record migration %s", file)
		}
		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "commit migration %s", file)
		}
	}

	return nil
}

// sqlFiles lists the .sql files of an embedded directory, sorted.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read embedded %s migrations", dir)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
