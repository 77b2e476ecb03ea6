package registry

import (
	"sort"

	"github.com/dbsmedya/regstage/internal/cache"
	"github.com/dbsmedya/regstage/internal/types"
)

// Prime seeds the cache from rows already copied for a set of corporations,
// keyed by table name as a snapshot holds them. corpNums are the
// corporations whose corp_name rows were copied in full; the corporations
// their parties belong to are added from the corp_party rows.
//
// Rows are projected to the columns the fetcher's own queries select, so a
// primed entry reads the same as a fetched one.
func (f *Fetcher) Prime(rows map[string][]*types.Record, corpNums []string) {
	events := make([]*types.Record, 0, len(rows["event"]))
	for _, r := range rows["event"] {
		events = append(events, r.Project(eventColumns...))
	}
	f.cache.Put("event", eventKey, events)

	// the first filing of an event wins, as in a single-row lookup
	seen := make(map[string]bool)
	var filings []*types.Record
	for _, r := range rows["filing"] {
		k := cache.Key(r.Get("event_id"))
		if seen[k] {
			continue
		}
		seen[k] = true
		filings = append(filings, r.Clone())
	}
	f.cache.Put("filing", filingKey, filings)

	// filings were copied for every copied event, so the rest have none
	if _, ok := rows["filing"]; ok {
		for _, r := range rows["event"] {
			if k := cache.Key(r.Get("event_id")); !seen[k] {
				f.cache.MarkLoaded("filing", k)
			}
		}
	}

	addresses := make([]*types.Record, 0, len(rows["address"]))
	for _, r := range rows["address"] {
		addresses = append(addresses, withLocalAddr(r.Project(addressColumns...)))
	}
	f.cache.Put("address", addressKey, addresses)

	corpTypes := make([]*types.Record, 0, len(rows["corp_type"]))
	for _, r := range rows["corp_type"] {
		corpTypes = append(corpTypes, r.Project(corpTypeColumns...))
	}
	f.cache.Put("corp_type", typeKey, corpTypes)

	if _, ok := rows["corp_name"]; !ok {
		return
	}
	wanted := make(map[string]bool, len(allNameTypes))
	for _, t := range allNameTypes {
		wanted[t] = true
	}
	var names []*types.Record
	for _, r := range rows["corp_name"] {
		if !r.Get("end_event_id").IsNull() || !wanted[r.Text("corp_name_typ_cd")] {
			continue
		}
		names = append(names, r.Project(nameColumns...))
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, _ := names[i].Get("corp_name_seq_num").Int64()
		b, _ := names[j].Get("corp_name_seq_num").Int64()
		return a < b
	})
	f.cache.Put("corp_name", nameKey, names)

	for _, c := range corpNums {
		f.cache.MarkLoaded("corp_name", c)
	}
	for _, p := range rows["corp_party"] {
		if c := p.Text("corp_num"); c != "" {
			f.cache.MarkLoaded("corp_name", c)
		}
	}

	f.logger.Debugf("Primed cache: %d events, %d filings, %d addresses, %d names",
		len(events), len(filings), len(addresses), len(names))
}
