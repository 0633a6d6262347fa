package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MigrationsTable records the applied versioned migrations on PostgreSQL.
const MigrationsTable = "fieldbill_schema_migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate brings the billing schema up to date. PostgreSQL runs the
// versioned SQL migrations; every other dialect is built from the models.
func Migrate(conn *gorm.DB, log *zap.Logger) error {
	dialect := conn.Dialector.Name()
	if dialect != "postgres" {
		log.Info("building schema from models", zap.String("dialect", dialect))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("migration database handle: %w", err)
	}
	from, to, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	if from == to {
		log.Info("schema up to date", zap.Uint("version", to))
	} else {
		log.Info("schema migrated", zap.Uint("from_version", from), zap.Uint("to_version", to))
	}
	return nil
}

// RunMigrations applies the embedded PostgreSQL migrations and reports the
// schema version before and after. A fresh database starts at version 0.
func RunMigrations(db *sql.DB) (from, to uint, err error) {
	if db == nil {
		return 0, 0, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return 0, 0, err
	}
	// Closing the migrator would close the shared *sql.DB.

	if from, err = version(migrator); err != nil {
		return 0, 0, err
	}
	if upErr := migrator.Up(); upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return from, from, fmt.Errorf("apply migrations: %w", upErr)
	}
	if to, err = version(migrator); err != nil {
		return from, from, err
	}
	return from, to, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}

func version(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty; fix it by hand and force the version", v)
	}
	return v, nil
}
