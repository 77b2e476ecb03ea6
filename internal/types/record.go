package types

import (
	"sort"

	"github.com/elliotchance/orderedmap/v2"
)

// Record maps column names to values, preserving insertion order. The first
// record of a result set fixes the column order used by the local store.
type Record struct {
	fields *orderedmap.OrderedMap[string, Value]
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{fields: orderedmap.NewOrderedMap[string, Value]()}
}

// Set stores v under name. Existing columns keep their position.
func (r *Record) Set(name string, v Value) *Record {
	r.fields.Set(name, v)
	return r
}

// Get returns the value for name; missing columns read as Null.
func (r *Record) Get(name string) Value {
	v, _ := r.fields.Get(name)
	return v
}

// Lookup distinguishes a missing column from a Null one.
func (r *Record) Lookup(name string) (Value, bool) {
	return r.fields.Get(name)
}

// Has reports whether the column is present.
func (r *Record) Has(name string) bool {
	_, ok := r.fields.Get(name)
	return ok
}

// Delete removes a column.
func (r *Record) Delete(name string) {
	r.fields.Delete(name)
}

// Len returns the number of columns.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.fields.Len()
}

// IsEmpty reports whether the record holds no columns. Single-row lookups
// return an empty record for "not found".
func (r *Record) IsEmpty() bool {
	return r.Len() == 0
}

// Columns returns the column names in insertion order.
func (r *Record) Columns() []string {
	if r == nil {
		return nil
	}
	return r.fields.Keys()
}

// Each calls fn for every column in order.
func (r *Record) Each(fn func(name string, v Value)) {
	if r == nil {
		return
	}
	for el := r.fields.Front(); el != nil; el = el.Next() {
		fn(el.Key, el.Value)
	}
}

// Text is a shorthand for Get(name).Text() that ignores the kind check.
func (r *Record) Text(name string) string {
	s, _ := r.Get(name).Text()
	return s
}

// Nested returns a nested record column, or nil.
func (r *Record) Nested(name string) *Record {
	n, ok := r.Get(name).Record()
	if !ok {
		return nil
	}
	return n
}

// Clone copies the record. Nested values are cloned as well so the copy
// shares nothing with r.
func (r *Record) Clone() *Record {
	c := NewRecord()
	r.Each(func(name string, v Value) {
		switch v.kind {
		case KindRecord:
			c.Set(name, RecordValue(v.record.Clone()))
		case KindList:
			list := make([]*Record, len(v.list))
			for i, item := range v.list {
				list[i] = item.Clone()
			}
			c.Set(name, ListValue(list))
		default:
			c.Set(name, v)
		}
	})
	return c
}

// Project returns a new record holding only the named columns, in the order
// given. Columns r lacks are skipped.
func (r *Record) Project(columns ...string) *Record {
	p := NewRecord()
	for _, c := range columns {
		if v, ok := r.Lookup(c); ok {
			p.Set(c, v)
		}
	}
	return p
}

// Equal compares columns, order and values.
func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	rc, oc := r.Columns(), o.Columns()
	for i := range rc {
		if rc[i] != oc[i] || !r.Get(rc[i]).Equal(o.Get(oc[i])) {
			return false
		}
	}
	return true
}

// SameColumns reports whether r and o hold the same column set, ignoring order.
func (r *Record) SameColumns(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	a, b := r.Columns(), o.Columns()
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
