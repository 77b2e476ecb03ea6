package registry

import (
	"context"
	"strings"

	"github.com/dbsmedya/regstage/internal/cache"
	"github.com/dbsmedya/regstage/internal/types"
)

// Cache tables, key columns and the columns each lookup selects.
var (
	eventKey   = []string{"corp_num", "event_id"}
	filingKey  = []string{"event_id"}
	addressKey = []string{"addr_id"}
	typeKey    = []string{"corp_typ_cd"}
	nameKey    = []string{"corp_num", "corp_name_typ_cd", "corp_name_seq_num", "start_event_id"}

	eventColumns = []string{"event_id", "corp_num", "event_typ_cd", "event_timestmp"}

	addressColumns = []string{
		"addr_id", "province", "country_typ_cd", "postal_cd",
		"addr_line_1", "addr_line_2", "addr_line_3", "city", "address_format_type",
		"address_desc", "address_desc_short", "unit_no", "unit_type", "province_state_name",
	}

	corpTypeColumns = []string{"corp_typ_cd", "colin_ind", "corp_class", "short_desc", "full_desc"}

	nameColumns = []string{
		"corp_num", "corp_name_typ_cd", "start_event_id", "end_event_id",
		"corp_name_seq_num", "srch_nme", "corp_nme", "dd_corp_num",
	}
)

// cached serves a single-row lookup from the cache, querying the source on a
// miss. Rows the source does not have are remembered too, so a repeated miss
// costs no query. The caller always gets its own copy.
func (f *Fetcher) cached(table string, keyCols []string, keyVals []types.Value, fetch func() (*types.Record, error)) (*types.Record, error) {
	if rec, ok := f.cache.GetByKey(table, keyCols, keyVals); ok {
		return rec.Clone(), nil
	}
	scope := cache.Key(keyVals...)
	if f.cache.Loaded(table, scope) {
		return types.NewRecord(), nil
	}

	rec, err := fetch()
	if err != nil {
		return nil, err
	}
	if rec.IsEmpty() {
		f.cache.MarkLoaded(table, scope)
		return rec, nil
	}
	f.cache.Put(table, keyCols, []*types.Record{rec})
	return rec.Clone(), nil
}

// event returns one event of a corporation, or an empty record.
func (f *Fetcher) event(ctx context.Context, corpNum string, eventID types.Value) (*types.Record, error) {
	if eventID.IsNull() {
		return types.NewRecord(), nil
	}
	return f.cached("event", eventKey, []types.Value{types.TextValue(corpNum), eventID}, func() (*types.Record, error) {
		args := f.src.NewArgs()
		q := "SELECT " + strings.Join(eventColumns, ", ") + " FROM " + f.src.Table("event") +
			" WHERE corp_num = " + args.Add(corpNum) + " AND event_id = " + args.Add(eventID.KeyArg())
		return f.src.QueryOne(ctx, q, args.Values()...)
	})
}

// filing returns the filing recorded for an event, or an empty record when
// the event was not a filing.
func (f *Fetcher) filing(ctx context.Context, eventID types.Value) (*types.Record, error) {
	if eventID.IsNull() {
		return types.NewRecord(), nil
	}
	return f.cached("filing", filingKey, []types.Value{eventID}, func() (*types.Record, error) {
		args := f.src.NewArgs()
		q := "SELECT * FROM " + f.src.Table("filing") + " WHERE event_id = " + args.Add(eventID.KeyArg())
		return f.src.QueryOne(ctx, q, args.Values()...)
	})
}

// address returns an address with its one-line local_addr, or an empty record.
func (f *Fetcher) address(ctx context.Context, addrID types.Value) (*types.Record, error) {
	if addrID.IsNull() {
		return types.NewRecord(), nil
	}
	return f.cached("address", addressKey, []types.Value{addrID}, func() (*types.Record, error) {
		args := f.src.NewArgs()
		q := "SELECT " + strings.Join(addressColumns, ", ") + " FROM " + f.src.Table("address") +
			" WHERE addr_id = " + args.Add(addrID.KeyArg())
		addr, err := f.src.QueryOne(ctx, q, args.Values()...)
		if err != nil || addr.IsEmpty() {
			return addr, err
		}
		return withLocalAddr(addr), nil
	})
}

// withLocalAddr sets local_addr: the street lines, city, province, postal
// code and country joined by ", ", else the free-form description, else "".
func withLocalAddr(addr *types.Record) *types.Record {
	if !addr.Get("addr_line_1").IsNull() {
		var b strings.Builder
		for _, col := range []string{"addr_line_1", "addr_line_2", "addr_line_3", "city", "province", "postal_cd"} {
			if v := addr.Get(col); !v.IsNull() {
				b.WriteString(v.String())
				b.WriteString(", ")
			}
		}
		if v := addr.Get("country_typ_cd"); !v.IsNull() {
			b.WriteString(v.String())
		}
		return addr.Set("local_addr", types.TextValue(b.String()))
	}
	if v := addr.Get("address_desc"); !v.IsNull() {
		return addr.Set("local_addr", types.TextValue(v.String()))
	}
	return addr.Set("local_addr", types.TextValue(""))
}

// corpType returns the code row for a corporation type, or an empty record.
func (f *Fetcher) corpType(ctx context.Context, code types.Value) (*types.Record, error) {
	if code.IsNull() {
		return types.NewRecord(), nil
	}
	return f.cached("corp_type", typeKey, []types.Value{code}, func() (*types.Record, error) {
		args := f.src.NewArgs()
		q := "SELECT " + strings.Join(corpTypeColumns, ", ") + " FROM " + f.src.Table("corp_type") +
			" WHERE corp_typ_cd = " + args.Add(code.String())
		return f.src.QueryOne(ctx, q, args.Values()...)
	})
}

// jurisdiction returns the open jurisdiction row joined with its type
// descriptions, or an empty record.
func (f *Fetcher) jurisdiction(ctx context.Context, corpNum string) (*types.Record, error) {
	args := f.src.NewArgs()
	q := `SELECT j.corp_num AS corp_num, j.start_event_id AS start_event_id, j.end_event_id AS end_event_id,
		j.can_jur_typ_cd AS can_jur_typ_cd, j.home_recogn_dt AS home_recogn_dt, j.othr_juris_desc AS othr_juris_desc,
		j.home_juris_num AS home_juris_num, j.home_company_nme AS home_company_nme,
		jt.short_desc AS short_desc, jt.full_desc AS full_desc
		FROM ` + f.src.Table("jurisdiction") + ` j
		JOIN ` + f.src.Table("jurisdiction_type") + ` jt ON j.can_jur_typ_cd = jt.can_jur_typ_cd
		WHERE j.corp_num = ` + args.Add(corpNum) + ` AND j.end_event_id IS NULL`
	return f.src.QueryOne(ctx, q, args.Values()...)
}

// tilmaInvolved returns the open TILMA involvement, or an empty record.
func (f *Fetcher) tilmaInvolved(ctx context.Context, corpNum string) (*types.Record, error) {
	args := f.src.NewArgs()
	q := "SELECT * FROM " + f.src.Table("tilma_involved") +
		" WHERE corp_num = " + args.Add(corpNum) + " AND end_event_id IS NULL AND involved_ind = 'Y'"
	return f.src.QueryOne(ctx, q, args.Values()...)
}

// names returns the open names of the given types, each with its start event
// and filing. All open names of a corporation are fetched once and served
// from the cache afterwards.
func (f *Fetcher) names(ctx context.Context, corpNum string, nameTypes []string) ([]*types.Record, error) {
	if !f.cache.Loaded("corp_name", corpNum) {
		args := f.src.NewArgs()
		q := "SELECT " + strings.Join(nameColumns, ", ") + " FROM " + f.src.Table("corp_name") +
			" WHERE corp_num = " + args.Add(corpNum) + " AND end_event_id IS NULL AND " +
			args.In("corp_name_typ_cd", toArgs(allNameTypes)) + " ORDER BY corp_name_seq_num"
		rows, err := f.src.QueryRecords(ctx, q, args.Values()...)
		if err != nil {
			return nil, err
		}
		f.cache.Put("corp_name", nameKey, rows)
		f.cache.MarkLoaded("corp_name", corpNum)
	}

	names := []*types.Record{}
	for _, typ := range nameTypes {
		for _, row := range f.cache.GetByMatch("corp_name", []string{"corp_num", "corp_name_typ_cd"},
			[]types.Value{types.TextValue(corpNum), types.TextValue(typ)}) {
			name, err := f.withStart(ctx, corpNum, row.Clone())
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// withStart attaches start_event and start_filing_event after start_event_id,
// keeping the remaining columns in their original order.
func (f *Fetcher) withStart(ctx context.Context, corpNum string, rec *types.Record) (*types.Record, error) {
	startID := rec.Get("start_event_id")
	event, err := f.event(ctx, corpNum, startID)
	if err != nil {
		return nil, err
	}
	filing, err := f.filing(ctx, startID)
	if err != nil {
		return nil, err
	}

	out := types.NewRecord()
	rec.Each(func(name string, v types.Value) {
		out.Set(name, v)
		if name == "start_event_id" {
			out.Set("start_event", types.RecordValue(event))
			out.Set("start_filing_event", types.RecordValue(filing))
		}
	})
	if !out.Has("start_event") {
		out.Set("start_event", types.RecordValue(event))
		out.Set("start_filing_event", types.RecordValue(filing))
	}
	return out, nil
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
