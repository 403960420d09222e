package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	mdb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"ipwatch/internal/database"
)

// Migrator applies embedded migrations. It owns its own connection;
// closing the migrator closes it.
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator creates a migrator reading migrations from dir in fsys and
// applying them to the driver database at dsn
func NewMigrator(driver, dsn string, fsys fs.FS, dir string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn, err := database.MigrationDSN(driver, dsn)
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}

	db, err := sql.Open(database.SQLDriverName(driver), dsn)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var inst mdb.Driver
	switch driver {
	case database.DriverSQLite:
		inst, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case database.DriverMySQL:
		inst, err = mysql.WithInstance(db, &mysql.Config{})
	case database.DriverPostgres:
		inst, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		err = fmt.Errorf("%w: %s", database.ErrUnsupportedDriver, driver)
	}
	if err != nil {
		_ = src.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create %s driver: %w", driver, err)
	}

	instance, err := migrate.NewWithInstance("iofs", src, driver, inst)
	if err != nil {
		_ = src.Close()
		_ = inst.Close()
		return nil, fmt.Errorf("failed to create migrator instance: %w", err)
	}

	return &Migrator{migrate: instance, logger: logger}, nil
}

// RunMigrations executes pending migrations
func (m *Migrator) RunMigrations(ctx context.Context) error {
	if m.migrate == nil {
		return errors.New("migrator not properly initialized")
	}

	errChan := make(chan error, 1)
	go func() {
		if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			errChan <- fmt.Errorf("migration failed: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		m.migrate.GracefulStop <- true
		m.logger.Warn("Migration cancelled by context")
		return fmt.Errorf("migration cancelled: %w", ctx.Err())
	case err := <-errChan:
		if err != nil {
			m.logger.Error("Migration failed", zap.Error(err))
			return err
		}
		m.logger.Debug("Migrations completed")
		return nil
	}
}

// GetVersion returns the current migration version
func (m *Migrator) GetVersion() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the migration source and connection
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close migration database: %w", dbErr)
	}
	return nil
}
