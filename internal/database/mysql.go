package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDSN parses dsn and forces time parsing in UTC
func mysqlDSN(dsn string, opts Options) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("mysql dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DSN: %w", err)
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Timeout == 0 {
		cfg.Timeout = opts.QueryTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = opts.QueryTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = opts.QueryTimeout
	}
	return cfg.FormatDSN(), nil
}

// MigrationDSN returns dsn with multi statement support, which migration
// files need
func MigrationDSN(driver, dsn string) (string, error) {
	if driver != DriverMySQL {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DSN: %w", err)
	}
	cfg.MultiStatements = true
	return cfg.FormatDSN(), nil
}

// initMySQL pins the session time zone
func initMySQL(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "SET time_zone = '+00:00'"); err != nil {
		return fmt.Errorf("failed to set time_zone: %w", err)
	}
	return nil
}
