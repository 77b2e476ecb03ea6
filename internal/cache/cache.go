// Package cache holds records already fetched from the source during a run,
// keyed per table by the stringified values of the caller's key columns.
//
// Lookups by full key are hash lookups. GetByMatch scans one table and is
// meant for the small per-corporation subsets the fetcher keeps; it is not a
// substitute for a query.
//
// A Cache is owned by one run and is not safe for concurrent use.
package cache

import (
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/regstage/internal/types"
)

// Separator joins key column values.
const Separator = "::"

// Key composes a cache key from values in the order given. Null renders as
// "None", so a null column never collides with the empty string.
func Key(values ...types.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, Separator)
}

// Stats counts cache traffic since the cache was created.
type Stats struct {
	Hits    int64
	Misses  int64
	Puts    int64
	Tables  int
	Entries int
}

// Cache maps table name to key to record. Records are stored and returned by
// reference; callers that modify a record must Clone it first.
type Cache struct {
	tables map[string]*orderedmap.OrderedMap[string, *types.Record]
	loaded map[string]bool

	hits   int64
	misses int64
	puts   int64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		tables: make(map[string]*orderedmap.OrderedMap[string, *types.Record]),
		loaded: make(map[string]bool),
	}
}

func (c *Cache) table(name string) *orderedmap.OrderedMap[string, *types.Record] {
	t, ok := c.tables[name]
	if !ok {
		t = orderedmap.NewOrderedMap[string, *types.Record]()
		c.tables[name] = t
	}
	return t
}

// Put upserts each record under the key its own keyCols values compose.
// A later record with the same key replaces the earlier one in place.
func (c *Cache) Put(table string, keyCols []string, records []*types.Record) {
	t := c.table(table)
	values := make([]types.Value, len(keyCols))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for i, col := range keyCols {
			values[i] = rec.Get(col)
		}
		t.Set(Key(values...), rec)
		c.puts++
	}
}

// GetByKey returns the record stored under the key values compose. values
// align positionally with keyCols; a count mismatch is a miss.
func (c *Cache) GetByKey(table string, keyCols []string, values []types.Value) (*types.Record, bool) {
	t, ok := c.tables[table]
	if !ok || len(values) != len(keyCols) {
		c.misses++
		return nil, false
	}
	rec, ok := t.Get(Key(values...))
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return rec, true
}

// GetByMatch returns, in insertion order, every record of table whose
// matchCols equal the corresponding values. The result is never nil.
func (c *Cache) GetByMatch(table string, matchCols []string, values []types.Value) []*types.Record {
	matches := []*types.Record{}
	t, ok := c.tables[table]
	if !ok || len(values) != len(matchCols) {
		return matches
	}
	for el := t.Front(); el != nil; el = el.Next() {
		if matchAll(el.Value, matchCols, values) {
			matches = append(matches, el.Value)
		}
	}
	return matches
}

func matchAll(rec *types.Record, cols []string, values []types.Value) bool {
	for i, col := range cols {
		if !sameValue(rec.Get(col), values[i]) {
			return false
		}
	}
	return true
}

// sameValue is Equal, except that integer and decimal ids compare by number
// since drivers disagree on which kind a NUMERIC key comes back as.
func sameValue(a, b types.Value) bool {
	if a.Equal(b) {
		return true
	}
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	da, _ := a.Decimal()
	db, _ := b.Decimal()
	return da.Equal(db)
}

func isNumber(v types.Value) bool {
	return v.Kind() == types.KindInteger || v.Kind() == types.KindDecimal
}

// MarkLoaded records that every row of table for scope is in the cache, so a
// GetByMatch miss can be trusted.
func (c *Cache) MarkLoaded(table, scope string) {
	c.loaded[table+Separator+scope] = true
}

// Loaded reports whether MarkLoaded was called for table and scope since the
// last Clear.
func (c *Cache) Loaded(table, scope string) bool {
	return c.loaded[table+Separator+scope]
}

// Len returns the number of records cached for table.
func (c *Cache) Len(table string) int {
	t, ok := c.tables[table]
	if !ok {
		return 0
	}
	return t.Len()
}

// Clear drops every cached table. Counters are kept.
func (c *Cache) Clear() {
	c.tables = make(map[string]*orderedmap.OrderedMap[string, *types.Record])
	c.loaded = make(map[string]bool)
}

// Stats returns the traffic counters and current size.
func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits, Misses: c.misses, Puts: c.puts, Tables: len(c.tables)}
	for _, t := range c.tables {
		s.Entries += t.Len()
	}
	return s
}
