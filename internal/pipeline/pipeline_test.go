package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/regstage/internal/checkpoint"
	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/output"
	"github.com/dbsmedya/regstage/internal/registrytest"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/verifier"
)

const systemType = "BC_REG"

type harness struct {
	src         *registrytest.Source
	checkpoints *checkpoint.Store
	out         *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	src := registrytest.NewSource(t)
	registrytest.Sample(t, src)

	db, err := database.OpenSQLiteFile(context.Background(), filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cp, err := checkpoint.NewStore(db, nil)
	require.NoError(t, err)

	return &harness{src: src, checkpoints: cp, out: &bytes.Buffer{}}
}

func (h *harness) pipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.SystemType == "" {
		opts.SystemType = systemType
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 1
	}
	comps := Components{
		Source:      h.src.Client(t),
		Checkpoints: h.checkpoints,
		Output:      output.NewWriter(h.out),
	}
	if opts.Snapshot {
		store, err := stage.NewStore(registrytest.NewStageDB(t), nil)
		require.NoError(t, err)
		comps.Stage = store
	}
	p, err := New(opts, comps, nil)
	require.NoError(t, err)
	return p
}

func (h *harness) entries(t *testing.T) []output.Entry {
	t.Helper()
	entries, err := output.ReadEntries(bytes.NewReader(h.out.Bytes()))
	require.NoError(t, err)
	return entries
}

func (h *harness) lastEventID(t *testing.T) int64 {
	t.Helper()
	last, err := h.checkpoints.LastEventID(context.Background(), systemType)
	require.NoError(t, err)
	return last
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	client := h.src.Client(t)
	w := output.NewWriter(&bytes.Buffer{})
	valid := Components{Source: client, Checkpoints: h.checkpoints, Output: w}

	tests := []struct {
		name  string
		opts  Options
		comps Components
	}{
		{"no source", Options{SystemType: "X", BatchSize: 1}, Components{Checkpoints: h.checkpoints, Output: w}},
		{"no checkpoints", Options{SystemType: "X", BatchSize: 1}, Components{Source: client, Output: w}},
		{"no output", Options{SystemType: "X", BatchSize: 1}, Components{Source: client, Checkpoints: h.checkpoints}},
		{"no system type", Options{BatchSize: 1}, valid},
		{"zero batch", Options{SystemType: "X"}, valid},
		{"snapshot without stage", Options{SystemType: "X", BatchSize: 1, Snapshot: true}, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.opts, tt.comps, nil)
			assert.Error(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestRun_Incremental(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.pipeline(t, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.LastEventID)
	assert.Equal(t, int64(210), res.MaxEventID)
	assert.Equal(t, 2, res.Corps)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 2, res.Batches)
	assert.True(t, res.Advanced)
	assert.Equal(t, int64(210), h.lastEventID(t))

	entries := h.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, registrytest.SampleXpro, entries[0].CorpNum)
	assert.Equal(t, registrytest.SampleCorp, entries[1].CorpNum)
	assert.Equal(t, int64(0), entries[1].PrevEventID)
	require.NotNil(t, entries[1].LastEventID)
	assert.Equal(t, int64(180), *entries[1].LastEventID)
	assert.Equal(t, registrytest.SampleCorp, entries[1].CorpInfo.Text("corp_num"))
	assert.True(t, entries[1].CorpInfo.Has("parties"))

	stats, err := h.checkpoints.Stats(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Stats{Completed: 2}, stats)

	t.Run("nothing new", func(t *testing.T) {
		h.out.Reset()
		res, err := h.pipeline(t, Options{}).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Written)
		assert.False(t, res.Advanced)
		assert.Empty(t, h.out.String())
	})

	t.Run("picks up the next event", func(t *testing.T) {
		h.out.Reset()
		h.src.Insert(t, "event", 220, registrytest.SampleCorp, "FILE", "2022-02-02 00:00:00", nil)

		res, err := h.pipeline(t, Options{}).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Written)
		assert.Equal(t, int64(220), h.lastEventID(t))

		entries := h.entries(t)
		require.Len(t, entries, 1)
		assert.Equal(t, registrytest.SampleCorp, entries[0].CorpNum)
		assert.Equal(t, int64(210), entries[0].PrevEventID)
		assert.Equal(t, int64(220), *entries[0].LastEventID)
	})
}

func TestRun_MaxCorpsHoldsCheckpoint(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline(t, Options{MaxCorps: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Written)
	assert.False(t, res.Advanced)
	assert.Equal(t, int64(0), h.lastEventID(t))

	state, err := h.checkpoints.GetOrCreate(context.Background(), systemType)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusIdle, state.Status)
}

func TestRun_SpecificCorps(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline(t, Options{CorpNums: []string{registrytest.SampleFirm, "ZZ0000000"}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.False(t, res.Advanced)
	assert.Equal(t, int64(0), h.lastEventID(t))

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, registrytest.SampleFirm, entries[0].CorpNum)
	assert.Equal(t, int64(160), *entries[0].LastEventID)
}

func TestRun_SpecificCorpsAfterFullRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline(t, Options{}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(210), h.lastEventID(t))
	h.out.Reset()

	for _, snapshot := range []bool{false, true} {
		res, err := h.pipeline(t, Options{CorpNums: []string{registrytest.SampleCorp}, Snapshot: snapshot}).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Corps)
		assert.Equal(t, 1, res.Written)
		assert.False(t, res.Advanced)
	}
	assert.Equal(t, int64(210), h.lastEventID(t))

	entries := h.entries(t)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, registrytest.SampleCorp, e.CorpNum)
		assert.Equal(t, int64(210), e.PrevEventID)
		assert.Nil(t, e.LastEventID)
		assert.Equal(t, registrytest.SampleCorp, e.CorpInfo.Text("corp_num"))
	}
}

func TestRun_SnapshotMatchesDirect(t *testing.T) {
	direct := newHarness(t)
	_, err := direct.pipeline(t, Options{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)

	snap := newHarness(t)
	res, err := snap.pipeline(t, Options{BatchSize: 10, Snapshot: true, SnapshotBatch: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, res.SnapshotRows, int64(0))
	assert.Equal(t, 1, res.Batches)

	assert.Equal(t, direct.out.String(), snap.out.String())
	assert.Zero(t, res.Verified)
}

func TestRun_SnapshotVerified(t *testing.T) {
	for _, method := range []verifier.VerificationMethod{verifier.MethodCount, verifier.MethodSHA256} {
		t.Run(string(method), func(t *testing.T) {
			h := newHarness(t)
			res, err := h.pipeline(t, Options{BatchSize: 1, Snapshot: true, SnapshotBatch: 2, Verify: method}).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, res.Batches)
			assert.Greater(t, res.Verified, 2)
			assert.True(t, res.Advanced)
			assert.Len(t, h.entries(t), 2)
		})
	}
}

func TestRun_FailedCorpHoldsCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// SampleXpro has no offices or parties, so only SampleCorp needs addresses
	h.src.Exec(t, "DROP TABLE bc_registries.address")

	res, err := h.pipeline(t, Options{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorpsFailed)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(0), h.lastEventID(t))

	state, err := h.checkpoints.GetOrCreate(ctx, systemType)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, state.Status)

	stats, err := h.checkpoints.Stats(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Stats{Completed: 1, Failed: 1}, stats)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, registrytest.SampleXpro, entries[0].CorpNum)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline(t, Options{}).Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(0), h.lastEventID(t))
}

func TestRun_EmptySource(t *testing.T) {
	h := newHarness(t)
	h.src.Exec(t, "DELETE FROM bc_registries.event")

	res, err := h.pipeline(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.MaxEventID)
	assert.Equal(t, 0, res.Corps)
}
