package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// postgresDSN disables TLS unless the dsn asks for it
func postgresDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("postgres dsn is required")
	}
	if strings.Contains(dsn, "sslmode=") {
		return dsn, nil
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		if strings.Contains(dsn, "?") {
			return dsn + "&sslmode=disable", nil
		}
		return dsn + "?sslmode=disable", nil
	default:
		return dsn + " sslmode=disable", nil
	}
}

// initPostgres sets session variables
func initPostgres(ctx context.Context, db *sql.DB) error {
	vars := []struct {
		name  string
		value string
	}{
		{"timezone", "'UTC'"},
		{"statement_timeout", "'30s'"},
		{"lock_timeout", "'10s'"},
	}

	for _, v := range vars {
		query := fmt.Sprintf("SET %s = %s", v.name, v.value)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to set %s: %w", v.name, err)
		}
	}
	return nil
}
