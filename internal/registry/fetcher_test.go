package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/regstage/internal/cache"
	"github.com/dbsmedya/regstage/internal/registrytest"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/types"
)

func newSampleFetcher(t *testing.T) (*Fetcher, *registrytest.Source) {
	t.Helper()
	src := registrytest.NewSource(t)
	registrytest.Sample(t, src)
	f, err := NewFetcher(src.Client(t), cache.New(), nil)
	require.NoError(t, err)
	return f, src
}

func ts(s string) time.Time {
	t, err := types.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return t
}

func assertTime(t *testing.T, want string, v types.Value) {
	t.Helper()
	got, ok := v.Timestamp()
	require.True(t, ok, "expected a timestamp, got %s %q", v.Kind(), v.String())
	assert.True(t, got.Equal(ts(want)), "got %s, want %s", got, want)
}

func list(t *testing.T, r *types.Record, key string) []*types.Record {
	t.Helper()
	l, ok := r.Get(key).List()
	require.True(t, ok, "%s is not a list", key)
	return l
}

func TestNewFetcher_Validation(t *testing.T) {
	src := registrytest.NewSource(t)

	_, err := NewFetcher(nil, cache.New(), nil)
	assert.Error(t, err)
	_, err = NewFetcher(src.Client(t), nil, nil)
	assert.Error(t, err)
}

func TestCorpInfo_Sample(t *testing.T) {
	f, _ := newSampleFetcher(t)

	corp, err := f.CorpInfo(context.Background(), registrytest.SampleCorp, 180)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"corp_num", "jurisdiction", "corp_typ_cd", "corp_type", "recognition_dts", "last_ar_filed_dt",
		"bn_9", "bn_15", "admin_email", "last_ledger_dt", "org_names", "org_name_assumed",
		"org_name_trans", "office", "corp_state", "corp_state_dt", "tilma_involved", "parties",
	}, corp.Columns())

	assert.Equal(t, registrytest.SampleCorp, corp.Text("corp_num"))
	assert.Equal(t, "British Columbia", corp.Nested("jurisdiction").Text("full_desc"))
	assert.Equal(t, "BC Limited Company", corp.Nested("corp_type").Text("full_desc"))
	assert.Equal(t, corpTypeColumns, corp.Nested("corp_type").Columns())
	assertTime(t, "2001-03-15 09:00:00", corp.Get("recognition_dts"))
	assert.True(t, corp.Get("last_ledger_dt").IsNull())

	t.Run("names", func(t *testing.T) {
		legal := list(t, corp, "org_names")
		require.Len(t, legal, 1, "closed names are excluded")
		assert.Equal(t, "ACME WIDGETS LTD.", legal[0].Text("corp_nme"))
		assert.Equal(t, []string{
			"corp_num", "corp_name_typ_cd", "start_event_id", "start_event", "start_filing_event",
			"end_event_id", "corp_name_seq_num", "srch_nme", "corp_nme", "dd_corp_num",
		}, legal[0].Columns())
		assert.Equal(t, "CONVICORP", legal[0].Nested("start_event").Text("event_typ_cd"))
		assert.True(t, legal[0].Nested("start_filing_event").IsEmpty())

		assumed := list(t, corp, "org_name_assumed")
		require.Len(t, assumed, 1)
		assertTime(t, "2015-05-01 00:00:00", assumed[0].Nested("start_filing_event").Get("effective_dt"))

		trans := list(t, corp, "org_name_trans")
		assert.NotNil(t, trans)
		assert.Empty(t, trans)
	})

	t.Run("offices", func(t *testing.T) {
		offices := list(t, corp, "office")
		require.Len(t, offices, 2, "closed and records-centre offices are excluded")

		rg := offices[0]
		assert.Equal(t, "RG", rg.Text("office_typ_cd"))
		assert.Equal(t, "Rural Route 2, Box 14", rg.Nested("delivery_addr").Text("local_addr"))
		assert.Equal(t, "100 Main St, Victoria, BC, V8W 1A1, CA", rg.Nested("mailing_addr").Text("local_addr"))
		assert.Equal(t, "CONVICORP", rg.Nested("start_event").Text("event_typ_cd"))

		hd := offices[1]
		assert.Equal(t, "HD", hd.Text("office_typ_cd"))
		assert.False(t, hd.Has("mailing_addr"), "same mailing and delivery address is stored once")
		assert.Equal(t, "", hd.Nested("delivery_addr").Text("local_addr"))
		assert.Equal(t, "ANNBC", hd.Nested("start_filing_event").Text("filing_typ_cd"))
	})

	t.Run("state", func(t *testing.T) {
		state := corp.Nested("corp_state")
		assert.Equal(t, "ACT", state.Text("state_typ_cd"))
		assert.Equal(t, "Active", state.Text("short_desc"))
		assertTime(t, "2001-03-15 09:00:00", corp.Get("corp_state_dt"))
		assert.True(t, corp.Nested("tilma_involved").IsEmpty())
	})

	t.Run("parties", func(t *testing.T) {
		parties := list(t, corp, "parties")
		require.Len(t, parties, 1, "closed and non-FBO parties are excluded")

		p := parties[0]
		assert.Equal(t, []string{
			"corp_num", "corp_party_id", "mailing_addr_id", "mailing_addr", "delivery_addr_id", "delivery_addr",
			"party_typ_cd", "start_event_id", "start_event", "start_filing_event", "end_event_id", "cessation_dt",
			"last_nme", "middle_nme", "first_nme", "business_nme", "bus_company_num", "email_address",
			"corp_party_seq_num", "office_notification_dt", "phone", "reason_typ_cd", "corp_info",
		}, p.Columns())
		assert.Equal(t, registrytest.SampleFirm, p.Text("corp_num"))
		assert.Equal(t, "100 Main St, Victoria, BC, V8W 1A1, CA", p.Nested("mailing_addr").Text("local_addr"))
		assert.Equal(t, "FRREG", p.Nested("start_filing_event").Text("filing_typ_cd"))

		info := p.Nested("corp_info")
		assert.Equal(t, registrytest.SampleFirm, info.Text("corp_num"))
		assert.False(t, info.Has("parties"), "related corporations are not expanded further")
		assert.Equal(t, "Sole Proprietorship", info.Nested("corp_type").Text("full_desc"))
		assert.Equal(t, "AB", info.Nested("tilma_involved").Text("jurisdiction"))
		assertTime(t, "2015-12-31 00:00:00", info.Get("corp_state_dt"))
		require.Len(t, list(t, info, "org_names"), 1)
	})
}

func TestBasicCorpInfo_HasNoParties(t *testing.T) {
	f, _ := newSampleFetcher(t)

	corp, err := f.BasicCorpInfo(context.Background(), registrytest.SampleFirm, 160)
	require.NoError(t, err)
	assert.False(t, corp.Has("parties"))
	assert.Equal(t, "tilma_involved", corp.Columns()[corp.Len()-1])
}

func TestCorpInfo_NotFound(t *testing.T) {
	f, _ := newSampleFetcher(t)

	_, err := f.CorpInfo(context.Background(), "XX9999999", 1)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCorpInfo_PartyCorporationMissing(t *testing.T) {
	f, src := newSampleFetcher(t)
	src.Exec(t, "DELETE FROM bc_registries.corporation WHERE corp_num = ?", registrytest.SampleFirm)

	corp, err := f.CorpInfo(context.Background(), registrytest.SampleCorp, 180)
	require.NoError(t, err)
	parties := list(t, corp, "parties")
	require.Len(t, parties, 1)
	assert.True(t, parties[0].Nested("corp_info").IsEmpty())
}

func TestCorpInfo_SourceFailureAborts(t *testing.T) {
	f, src := newSampleFetcher(t)
	src.Exec(t, "DROP TABLE bc_registries.office")

	corp, err := f.CorpInfo(context.Background(), registrytest.SampleCorp, 180)
	assert.ErrorIs(t, err, types.ErrQueryFailure)
	assert.Nil(t, corp)
}

func TestCorpInfo_Cancelled(t *testing.T) {
	f, _ := newSampleFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.CorpInfo(ctx, registrytest.SampleCorp, 180)
	assert.ErrorIs(t, err, types.ErrConnectionFailure)
}

func TestCorpInfo_ServesRepeatsFromCache(t *testing.T) {
	f, src := newSampleFetcher(t)
	ctx := context.Background()

	first, err := f.CorpInfo(ctx, registrytest.SampleCorp, 180)
	require.NoError(t, err)
	before := f.Cache().Stats()
	assert.Positive(t, before.Entries)

	// cached tables are no longer read
	for _, table := range []string{"event", "filing", "address", "corp_type", "corp_name"} {
		src.Exec(t, "DELETE FROM bc_registries."+table)
	}

	second, err := f.CorpInfo(ctx, registrytest.SampleCorp, 180)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	assert.Greater(t, f.Cache().Stats().Hits, before.Hits)

	// results are copies: changing one leaves the cache intact
	list(t, first, "office")[0].Nested("delivery_addr").Set("local_addr", types.TextValue("changed"))
	third, err := f.CorpInfo(ctx, registrytest.SampleCorp, 180)
	require.NoError(t, err)
	assert.Equal(t, "Rural Route 2, Box 14", list(t, third, "office")[0].Nested("delivery_addr").Text("local_addr"))
}

func TestPrime_MatchesFetchedResult(t *testing.T) {
	ctx := context.Background()
	f, src := newSampleFetcher(t)

	want, err := f.CorpInfo(ctx, registrytest.SampleCorp, 180)
	require.NoError(t, err)

	store, err := stage.NewStore(registrytest.NewStageDB(t), nil)
	require.NoError(t, err)
	plan, err := stage.BuildDefaultPlan()
	require.NoError(t, err)
	snapper, err := stage.NewSnapshotter(src.Client(t), store, plan, 100, nil)
	require.NoError(t, err)
	snap, err := snapper.Snapshot(ctx, []string{registrytest.SampleCorp})
	require.NoError(t, err)

	primed, err := NewFetcher(src.Client(t), cache.New(), nil)
	require.NoError(t, err)
	primed.Prime(snap.Rows, []string{registrytest.SampleCorp})

	for _, table := range []string{"event", "filing", "address", "corp_type", "corp_name"} {
		src.Exec(t, "DROP TABLE bc_registries."+table)
	}

	got, err := primed.CorpInfo(ctx, registrytest.SampleCorp, 180)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}
