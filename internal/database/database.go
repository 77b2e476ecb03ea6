// Package database manages the connections regstage holds: the registry
// source of record, the in-memory stage and the checkpoint store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/dbsmedya/regstage/internal/config"
	"github.com/dbsmedya/regstage/internal/sqlutil"
	"github.com/dbsmedya/regstage/internal/types"
)

// Connection attempts and the first backoff; the backoff doubles per attempt.
var (
	connectAttempts = 3
	connectBackoff  = time.Second
)

// Manager handles database connections for the source, stage and checkpoint stores.
type Manager struct {
	Source     *sql.DB
	Stage      *sql.DB
	Checkpoint *sql.DB
	Dialect    sqlutil.Dialect
	config     *config.Config
}

// NewManager creates a new database manager from configuration.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{config: cfg}
	if cfg != nil {
		m.Dialect = sqlutil.Dialect{Driver: cfg.Source.Driver}
	}
	return m
}

// Connect establishes all three connections.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.ConnectSource(ctx); err != nil {
		return err
	}

	var err error
	m.Stage, err = OpenStage(ctx, m.config.Stage.Name)
	if err != nil {
		_ = m.Source.Close()
		return fmt.Errorf("failed to open stage database: %w", err)
	}

	m.Checkpoint, err = OpenSQLiteFile(ctx, m.config.Checkpoint.Path)
	if err != nil {
		_ = m.Stage.Close()
		_ = m.Source.Close()
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	return nil
}

// ConnectSource establishes the source connection only.
// Use this when no staging is needed (e.g., validate and plan).
func (m *Manager) ConnectSource(ctx context.Context) error {
	var err error
	m.Source, err = m.connectWithRetry(ctx, &m.config.Source)
	if err != nil {
		return fmt.Errorf("failed to connect to source database: %w", err)
	}
	return nil
}

// connectWithRetry attempts to connect with exponential backoff. The final
// failure wraps types.ErrConnectionFailure.
func (m *Manager) connectWithRetry(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error

	backoff := connectBackoff
	for i := 0; i < connectAttempts; i++ {
		db, err = connect(ctx, cfg)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				return db, nil
			} else {
				_ = db.Close()
				err = pingErr
			}
		}

		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("%w: failed after %d attempts: %w", types.ErrConnectionFailure, connectAttempts, err)
}

// connect opens the source with the configured driver.
func connect(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == sqlutil.SQLite {
		return openSQLiteSource(ctx, cfg)
	}

	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// openSQLiteSource opens a SQLite registry file. When a schema is set the
// file is attached under that name so schema-qualified queries resolve.
func openSQLiteSource(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Schema == "" {
		return OpenSQLiteFile(ctx, cfg.Database)
	}
	db, err := sql.Open(sqlutil.SQLite, ":memory:")
	if err != nil {
		return nil, err
	}
	// ATTACH is per connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := Attach(ctx, db, cfg.Database, cfg.Schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Attach attaches a SQLite database file under schema.
func Attach(ctx context.Context, db *sql.DB, path, schema string) error {
	quoted, err := sqlutil.Dialect{Driver: sqlutil.SQLite}.QuoteSafe(schema)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+quoted, path); err != nil {
		return fmt.Errorf("failed to attach %s as %s: %w", path, schema, err)
	}
	return nil
}

// OpenStage opens a named in-memory SQLite database. The pool is pinned to a
// single connection that never expires, so the database lives as long as the
// handle does.
func OpenStage(ctx context.Context, name string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(name))
	db, err := sql.Open(sqlutil.SQLite, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLiteFile opens (creating if needed) a SQLite database file.
func OpenSQLiteFile(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open(sqlutil.SQLite, "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BuildDSN constructs a driver-specific DSN from configuration.
func BuildDSN(cfg *config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case sqlutil.Postgres:
		return buildPostgresDSN(cfg), nil
	case sqlutil.MySQL:
		return buildMySQLDSN(cfg), nil
	case sqlutil.SQLite:
		return "file:" + cfg.Database, nil
	}
	return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
}

// buildMySQLDSN formats user:password@tcp(host:port)/database?params.
func buildMySQLDSN(cfg *config.DatabaseConfig) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	params := "?parseTime=true&loc=UTC"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// buildPostgresDSN formats a key=value connection string. lib/pq has no
// opportunistic TLS mode, so "preferred" requires TLS.
func buildPostgresDSN(cfg *config.DatabaseConfig) string {
	sslmode := "require"
	if cfg.TLS == "disable" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + pgQuote(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + pgQuote(cfg.User),
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+pgQuote(cfg.Password))
	}
	parts = append(parts,
		"dbname="+pgQuote(cfg.Database),
		"sslmode="+sslmode,
		"application_name=regstage",
	)
	return strings.Join(parts, " ")
}

// pgQuote single-quotes a value when it contains spaces, quotes or backslashes.
func pgQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Close closes all database connections gracefully.
func (m *Manager) Close() error {
	var errs []error

	if m.Checkpoint != nil {
		if err := m.Checkpoint.Close(); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint close: %w", err))
		}
	}

	if m.Stage != nil {
		if err := m.Stage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stage close: %w", err))
		}
	}

	if m.Source != nil {
		if err := m.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// Ping verifies all open connections are alive.
func (m *Manager) Ping(ctx context.Context) error {
	for _, c := range []struct {
		name string
		db   *sql.DB
	}{{"source", m.Source}, {"stage", m.Stage}, {"checkpoint", m.Checkpoint}} {
		if c.db == nil {
			continue
		}
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", c.name, err)
		}
	}
	return nil
}
