package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// applySchema brings the schema up to date. PostgreSQL uses versioned
// golang-migrate migrations; SQLite applies an idempotent schema script.
func applySchema(ctx context.Context, dialect string, db *sql.DB) error {
	switch dialect {
	case DialectPostgres:
		return migratePostgres(db)
	case DialectSQLite:
		schema, err := migrationsFS.ReadFile("migrations/sqlite/schema.sql")
		if err != nil {
			return err
		}
		_, err = db.ExecContext(ctx, string(schema))
		return err
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func migratePostgres(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	drv, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
