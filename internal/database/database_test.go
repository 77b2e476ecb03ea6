package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/regstage/internal/config"
	"github.com/dbsmedya/regstage/internal/types"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.DatabaseConfig
		expected string
	}{
		{
			name: "postgres",
			cfg: &config.DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "bcreg", Password: "secret", Database: "bc_registries", TLS: "disable",
			},
			expected: "host=localhost port=5432 user=bcreg password=secret dbname=bc_registries sslmode=disable application_name=regstage",
		},
		{
			name: "postgres preferred tls requires tls",
			cfg: &config.DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432, User: "bcreg", Database: "reg", TLS: "preferred",
			},
			expected: "host=db port=5432 user=bcreg dbname=reg sslmode=require application_name=regstage",
		},
		{
			name: "postgres quoted password",
			cfg: &config.DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432, User: "bcreg",
				Password: `it's a secret`, Database: "reg", TLS: "disable",
			},
			expected: `host=db port=5432 user=bcreg password='it\'s a secret' dbname=reg sslmode=disable application_name=regstage`,
		},
		{
			name: "mysql",
			cfg: &config.DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "root", Password: "secret", Database: "bc_registries", TLS: "preferred",
			},
			expected: "root:secret@tcp(localhost:3306)/bc_registries?parseTime=true&loc=UTC&tls=preferred",
		},
		{
			name: "mysql tls disabled",
			cfg: &config.DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306, User: "root", Database: "reg", TLS: "disable",
			},
			expected: "root:@tcp(localhost:3306)/reg?parseTime=true&loc=UTC&tls=false",
		},
		{
			name: "mysql tls required",
			cfg: &config.DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306, User: "root", Database: "reg", TLS: "required",
			},
			expected: "root:@tcp(localhost:3306)/reg?parseTime=true&loc=UTC&tls=true",
		},
		{
			name:     "sqlite",
			cfg:      &config.DatabaseConfig{Driver: "sqlite3", Database: "/data/registry.db"},
			expected: "file:/data/registry.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := BuildDSN(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dsn)
		})
	}
}

func TestBuildDSN_UnsupportedDriver(t *testing.T) {
	_, err := BuildDSN(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewManager(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.Driver = "mysql"

	m := NewManager(cfg)
	require.NotNil(t, m)
	assert.Equal(t, "mysql", m.Dialect.Driver)
	assert.Nil(t, m.Source)
	assert.Nil(t, m.Stage)
	assert.Nil(t, m.Checkpoint)
}

func TestManagerCloseWithoutConnect(t *testing.T) {
	m := NewManager(config.DefaultConfig())
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Ping(context.Background()))
}

func TestOpenStage_SharedAcrossQueries(t *testing.T) {
	ctx := context.Background()
	db, err := OpenStage(ctx, "database_test_stage")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO t VALUES ('x')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestManagerConnect_SQLiteSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	registry := filepath.Join(dir, "registry.db")

	seed, err := OpenSQLiteFile(ctx, registry)
	require.NoError(t, err)
	_, err = seed.ExecContext(ctx, `CREATE TABLE corporation (corp_num TEXT)`)
	require.NoError(t, err)
	_, err = seed.ExecContext(ctx, `INSERT INTO corporation VALUES ('BC0000001')`)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	cfg := config.DefaultConfig()
	cfg.Source.Driver = "sqlite3"
	cfg.Source.Database = registry
	cfg.Stage.Name = "database_test_connect"
	cfg.Checkpoint.Path = filepath.Join(dir, "state.db")

	m := NewManager(cfg)
	require.NoError(t, m.Connect(ctx))
	defer m.Close()

	var corpNum string
	err = m.Source.QueryRowContext(ctx, `SELECT corp_num FROM "bc_registries"."corporation"`).Scan(&corpNum)
	require.NoError(t, err)
	assert.Equal(t, "BC0000001", corpNum)

	assert.NoError(t, m.Ping(ctx))
}

func TestAttach_RejectsBadSchema(t *testing.T) {
	ctx := context.Background()
	db, err := OpenStage(ctx, "database_test_attach")
	require.NoError(t, err)
	defer db.Close()

	err = Attach(ctx, db, "x.db", "bad schema")
	assert.Error(t, err)
}

func TestManagerConnectSource_FailureIsConnectionFailure(t *testing.T) {
	prev := connectBackoff
	connectBackoff = time.Millisecond
	t.Cleanup(func() { connectBackoff = prev })

	cfg := config.DefaultConfig()
	cfg.Source.Driver = "sqlite3"
	cfg.Source.Database = filepath.Join(t.TempDir(), "missing", "registry.db")

	m := NewManager(cfg)
	err := m.ConnectSource(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnectionFailure)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Nil(t, m.Source)
}
