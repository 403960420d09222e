// Package history records observed address changes in a SQL database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ipwatch/internal/database"
	"ipwatch/internal/database/migration"
	"ipwatch/internal/types"
)

//go:embed migrations
var migrations embed.FS

// DefaultFileName is the database file name inside the cache directory
const DefaultFileName = "history.db"

// Config represents history configuration
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Driver    string        `mapstructure:"driver" validate:"omitempty,oneof=sqlite mysql postgres"`
	Path      string        `mapstructure:"path"`
	DSN       string        `mapstructure:"dsn" validate:"required_if=Driver mysql,required_if=Driver postgres"`
	Retention time.Duration `mapstructure:"retention"`
}

// Store is the change history
type Store struct {
	db        *database.DB
	retention time.Duration
	logger    *zap.Logger
}

// Open opens the configured database and applies migrations. sqlite,
// the default driver, uses cfg.Path; mysql and postgres use cfg.DSN.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.Open(database.Config{
		Driver: cfg.Driver,
		Path:   cfg.Path,
		DSN:    cfg.DSN,
	}, database.Options{}, logger)
	if err != nil {
		return nil, err
	}

	m, err := migration.NewMigrator(db.Driver(), db.DSN(), migrations, path.Join("migrations", db.Driver()), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	err = m.RunMigrations(ctx)
	if closeErr := m.Close(); closeErr != nil {
		logger.Warn("Failed to close migrator", zap.Error(closeErr))
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, retention: cfg.Retention, logger: logger}, nil
}

// Record saves a change. A missing ID is generated.
func (s *Store) Record(ctx context.Context, change *types.IPChange) error {
	if change == nil {
		return fmt.Errorf("change is nil")
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.DetectedAt.IsZero() {
		change.DetectedAt = time.Now()
	}

	query := `
        INSERT INTO ip_changes (
            id, machine, old_external, old_local,
            new_external, new_local, source, forced,
            detected_at, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		change.ID,
		change.Machine,
		change.OldExternal,
		change.OldLocal,
		change.NewExternal,
		change.NewLocal,
		change.Source,
		change.Forced,
		change.DetectedAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save IP change: %w", err)
	}

	if s.retention > 0 {
		if _, err := s.Prune(ctx, time.Now().Add(-s.retention)); err != nil {
			s.logger.Warn("Failed to prune history", zap.Error(err))
		}
	}
	return nil
}

// Recent returns changes matching filter, newest first
func (s *Store) Recent(ctx context.Context, filter *types.IPChangeFilter) ([]*types.IPChange, error) {
	var (
		conds []string
		args  []any
	)
	if filter == nil {
		filter = &types.IPChangeFilter{}
	}
	if filter.Machine != "" {
		conds = append(conds, "machine = ?")
		args = append(args, filter.Machine)
	}
	if !filter.StartTime.IsZero() {
		conds = append(conds, "detected_at >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "detected_at <= ?")
		args = append(args, filter.EndTime.UTC())
	}

	query := `
        SELECT id, machine, old_external, old_local,
               new_external, new_local, source, forced, detected_at
        FROM ip_changes`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query IP changes: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var changes []*types.IPChange
	for rows.Next() {
		var change types.IPChange
		err := rows.Scan(
			&change.ID,
			&change.Machine,
			&change.OldExternal,
			&change.OldLocal,
			&change.NewExternal,
			&change.NewLocal,
			&change.Source,
			&change.Forced,
			&change.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan IP change: %w", err)
		}
		changes = append(changes, &change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating IP changes: %w", err)
	}

	return changes, nil
}

// Prune deletes changes detected before the cutoff
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM ip_changes WHERE detected_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		s.logger.Debug("Pruned history", zap.Int64("deleted", affected))
	}
	return affected, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
