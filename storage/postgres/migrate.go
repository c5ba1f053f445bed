package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "deview_schema_migrations"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	db *sql.DB
	m  *migrate.Migrate
}

// NewMigrator connects with the same settings NewRepositoryFromDSN uses.
func NewMigrator(dsn string, caCerts []string) (*Migrator, error) {
	cfg, err := parseConfig(dsn, caCerts)
	if err != nil {
		return nil, err
	}
	return newMigrator(cfg.ConnConfig)
}

func newMigrator(connConfig *pgx.ConnConfig) (*Migrator, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	db := stdlib.OpenDB(*connConfig)
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	return &Migrator{db: db, m: m}, nil
}

// Up applies every pending migration. Being current is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !isNoChange(err) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Down rolls back up to steps migrations. Reaching the first migration is
// not an error.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("invalid step count %d", steps)
	}
	err := mg.m.Steps(-steps)
	var short migrate.ErrShortLimit
	if err != nil && !isNoChange(err) && !errors.As(err, &short) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Version reports the applied version. ok is false before the first
// migration.
func (mg *Migrator) Version() (version uint, dirty, ok bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}

// Close releases the migration source and connection.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr, mg.db.Close())
}

// migrate returns bare os.ErrNotExist when a step reaches the end.
func isNoChange(err error) bool {
	return errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist)
}
