//go:build integration

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dbsmedya/regstage/internal/checkpoint"
	"github.com/dbsmedya/regstage/internal/config"
	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/lock"
	"github.com/dbsmedya/regstage/internal/output"
	"github.com/dbsmedya/regstage/internal/preflight"
	"github.com/dbsmedya/regstage/internal/registrytest"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/verifier"
)

// startPostgres runs a PostgreSQL container and connects to it the way the
// CLI does, through the database manager and lib/pq.
func startPostgres(t *testing.T) *database.Manager {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("registry"),
		tcpostgres.WithUsername("regstage"),
		tcpostgres.WithPassword("regstage"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Source.Driver = "postgres"
	cfg.Source.Host = host
	cfg.Source.Port = port.Int()
	cfg.Source.User = "regstage"
	cfg.Source.Password = "regstage"
	cfg.Source.Database = "registry"
	cfg.Source.TLS = "disable"
	require.NoError(t, cfg.Validate())

	mgr := database.NewManager(cfg)
	require.NoError(t, mgr.ConnectSource(ctx))
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestPostgres_Run(t *testing.T) {
	mgr := startPostgres(t)
	ctx := context.Background()

	src := registrytest.NewPostgresSource(t, mgr.Source)
	registrytest.Sample(t, src)
	client := src.Client(t)

	plan, err := stage.BuildDefaultPlan()
	require.NoError(t, err)
	checker, err := preflight.NewChecker(client, plan, nil)
	require.NoError(t, err)
	require.NoError(t, checker.RunAllChecks(ctx))

	cpDB, err := database.OpenSQLiteFile(ctx, filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cpDB.Close() })
	checkpoints, err := checkpoint.NewStore(cpDB, nil)
	require.NoError(t, err)
	store, err := stage.NewStore(registrytest.NewStageDB(t), nil)
	require.NoError(t, err)

	var out bytes.Buffer
	p, err := New(Options{
		SystemType:    systemType,
		BatchSize:     1,
		Snapshot:      true,
		SnapshotBatch: 2,
		Verify:        verifier.MethodSHA256,
	}, Components{Source: client, Checkpoints: checkpoints, Output: output.NewWriter(&out), Stage: store}, nil)
	require.NoError(t, err)

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.True(t, res.Advanced)
	assert.Greater(t, res.Verified, 0)

	entries, err := output.ReadEntries(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, registrytest.SampleXpro, entries[0].CorpNum)
	assert.Equal(t, registrytest.SampleCorp, entries[1].CorpNum)
	require.NotNil(t, entries[1].LastEventID)
	assert.Equal(t, int64(180), *entries[1].LastEventID)
	assert.Equal(t, registrytest.SampleCorp, entries[1].CorpInfo.Get("corp_num").String())

	last, err := checkpoints.LastEventID(ctx, systemType)
	require.NoError(t, err)
	assert.Equal(t, int64(210), last)
}

func TestPostgres_FilterIndexes(t *testing.T) {
	mgr := startPostgres(t)
	src := registrytest.NewPostgresSource(t, mgr.Source)
	src.Exec(t, "CREATE INDEX event_corp_idx ON bc_registries.event (corp_num)")
	src.Exec(t, "CREATE INDEX address_id_idx ON bc_registries.address (addr_id, province)")

	plan, err := stage.BuildDefaultPlan()
	require.NoError(t, err)
	checker, err := preflight.NewChecker(src.Client(t), plan, nil)
	require.NoError(t, err)

	reports, err := checker.Inspect(context.Background())
	require.NoError(t, err)
	indexed := make(map[string]bool)
	for _, r := range reports {
		assert.True(t, r.Exists, r.Table)
		indexed[r.Table] = r.Indexed
	}
	assert.True(t, indexed["event"])
	assert.True(t, indexed["address"])
	assert.False(t, indexed["office"])
}

func TestPostgres_RunLock(t *testing.T) {
	mgr := startPostgres(t)
	ctx := context.Background()

	first := lock.NewRunLock(mgr.Source, mgr.Dialect, systemType)
	require.NoError(t, first.AcquireOrFail(ctx))

	active, err := lock.IsRunActive(ctx, mgr.Source, mgr.Dialect, systemType)
	require.NoError(t, err)
	assert.True(t, active)

	second := lock.NewRunLock(mgr.Source, mgr.Dialect, systemType)
	ok, err := second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := first.ReleaseLock(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	_, _ = second.ReleaseLock(ctx)

	other := lock.NewRunLock(mgr.Source, mgr.Dialect, "OTHER")
	err = other.AcquireOrFail(ctx)
	assert.False(t, errors.Is(err, lock.ErrLockTimeout))
	_, _ = other.ReleaseLock(ctx)
}
