package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/regstage/internal/types"
)

func sampleCorp() *types.Record {
	office := types.NewRecord().
		Set("office_typ_cd", types.TextValue("RG")).
		Set("start_event_id", types.IntegerValue(50))
	return types.NewRecord().
		Set("corp_num", types.TextValue("BC0000001")).
		Set("recognition_dts", types.TimestampValue(time.Date(2001, 3, 15, 9, 0, 0, 0, time.UTC))).
		Set("share_capital", types.DecimalValue(decimal.RequireFromString("12345678901234567890.12"))).
		Set("bn_9", types.Null).
		Set("office", types.ListValue([]*types.Record{office})).
		Set("tilma_involved", types.RecordValue(types.NewRecord()))
}

func TestWriter_Write(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	last := int64(180)

	require.NoError(t, w.Write(Entry{CorpNum: "BC0000001", PrevEventID: 100, LastEventID: &last, CorpInfo: sampleCorp()}))
	require.NoError(t, w.Write(Entry{CorpNum: "FM0000002", PrevEventID: 100}))
	assert.Empty(t, buf.String(), "lines stay buffered until flush")
	require.NoError(t, w.Flush())
	assert.Equal(t, 2, w.Count())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		`{"corp_num":"BC0000001","prev_event_id":100,"last_event_id":180,"corp_info":{"corp_num":"BC0000001",`+
			`"recognition_dts":"2001-03-15T09:00:00","share_capital":"12345678901234567890.12","bn_9":null,`+
			`"office":[{"office_typ_cd":"RG","start_event_id":50}],"tilma_involved":{}}}`,
		lines[0])
	assert.Equal(t, `{"corp_num":"FM0000002","prev_event_id":100,"last_event_id":null,"corp_info":null}`, lines[1])
}

func TestReadEntries_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	last := int64(180)
	corp := sampleCorp()
	require.NoError(t, w.Write(Entry{CorpNum: "BC0000001", PrevEventID: 100, LastEventID: &last, CorpInfo: corp}))
	require.NoError(t, w.Flush())

	entries, err := ReadEntries(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "BC0000001", got.CorpNum)
	require.NotNil(t, got.LastEventID)
	assert.Equal(t, int64(180), *got.LastEventID)
	assert.Equal(t, corp.Columns(), got.CorpInfo.Columns())

	capital, ok := got.CorpInfo.Get("share_capital").Decimal()
	require.True(t, ok)
	assert.True(t, capital.Equal(decimal.RequireFromString("12345678901234567890.12")))

	ts, err := types.ParseTimestamp(got.CorpInfo.Text("recognition_dts"))
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2001, 3, 15, 9, 0, 0, 0, time.UTC)))

	offices, ok := got.CorpInfo.Get("office").List()
	require.True(t, ok)
	require.Len(t, offices, 1)
	assert.Equal(t, "RG", offices[0].Text("office_typ_cd"))
	assert.True(t, got.CorpInfo.Nested("tilma_involved").IsEmpty())
}

func TestReadEntries_BadLine(t *testing.T) {
	_, err := ReadEntries(strings.NewReader("{\"corp_num\":\"BC1\"}\n{not json}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestOpen_FileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corps.jsonl")

	for _, corp := range []string{"BC0000001", "BC0000002"} {
		w, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, w.Write(Entry{CorpNum: corp}))
		require.NoError(t, w.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	entries, err := ReadEntries(f)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BC0000002", entries[1].CorpNum)
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "corps.jsonl"))
	assert.Error(t, err)
}
