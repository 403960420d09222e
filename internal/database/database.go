// Package database opens the SQL database backing the change history.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupportedDriver is returned for an unknown Config.Driver
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// DB wraps a connection pool of one of the supported drivers
type DB struct {
	db     *sql.DB
	driver string
	dsn    string
	opts   Options
	logger *zap.Logger
}

// Open connects to the database described by cfg and applies the
// driver's session settings
func Open(cfg Config, opts Options, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()

	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var (
		dsn  string
		init func(context.Context, *sql.DB) error
		err  error
	)
	switch cfg.Driver {
	case DriverSQLite:
		dsn, err = sqliteDSN(cfg.Path)
		init = initSQLite
	case DriverMySQL:
		dsn, err = mysqlDSN(cfg.DSN, opts)
		init = initMySQL
	case DriverPostgres:
		dsn, err = postgresDSN(cfg.DSN)
		init = initPostgres
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(SQLDriverName(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.QueryTimeout)
	defer cancel()
	if err := init(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize %s: %w", cfg.Driver, err)
	}

	logger.Debug("Opened database", zap.String("driver", cfg.Driver))
	return &DB{db: db, driver: cfg.Driver, dsn: dsn, opts: opts, logger: logger}, nil
}

// SQLDriverName maps a config driver to its database/sql name
func SQLDriverName(driver string) string {
	switch driver {
	case DriverSQLite:
		return "sqlite3"
	default:
		return driver
	}
}

// Driver returns the config driver name
func (d *DB) Driver() string {
	return d.driver
}

// DSN returns the connection string in use
func (d *DB) DSN() string {
	return d.dsn
}

// Rebind rewrites ? placeholders for the driver
func (d *DB) Rebind(query string) string {
	return Rebind(d.driver, query)
}

// Rebind rewrites ? placeholders into $1, $2, ... for postgres
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExecContext executes query, bounded by the query timeout unless ctx has a
// deadline
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.QueryTimeout)
		defer cancel()
	}
	return d.db.ExecContext(ctx, d.Rebind(query), args...)
}

// QueryContext executes query and returns rows. The caller owns rows; no
// timeout is added since rows outlive this call.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.Rebind(query), args...)
}

// WithTransaction runs fn in a transaction, rolling back on error or panic
func (d *DB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Ping checks the connection
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool
func (d *DB) Close() error {
	return d.db.Close()
}
