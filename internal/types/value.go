package types

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindInteger
	KindDecimal
	KindTimestamp
	KindRecord
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindTimestamp:
		return "timestamp"
	case KindRecord:
		return "record"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is a typed scalar, or a nested record/list in an assembled graph.
// The zero Value is Null.
type Value struct {
	kind    Kind
	text    string
	integer int64
	dec     decimal.Decimal
	ts      time.Time
	record  *Record
	list    []*Record
}

// Null is the absent value.
var Null = Value{}

func TextValue(s string) Value { return Value{kind: KindText, text: s} }

func IntegerValue(i int64) Value { return Value{kind: KindInteger, integer: i} }

func DecimalValue(d decimal.Decimal) Value { return Value{kind: KindDecimal, dec: d} }

func TimestampValue(t time.Time) Value { return Value{kind: KindTimestamp, ts: t} }

// RecordValue nests r; the containing record owns it.
func RecordValue(r *Record) Value {
	if r == nil {
		r = NewRecord()
	}
	return Value{kind: KindRecord, record: r}
}

// ListValue nests a sequence of records. A nil slice becomes an empty list.
func ListValue(rs []*Record) Value {
	if rs == nil {
		rs = []*Record{}
	}
	return Value{kind: KindList, list: rs}
}

// ParseDecimalValue parses exact decimal text.
func ParseDecimalValue(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Null, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return DecimalValue(d), nil
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the text variant.
func (v Value) Text() (string, bool) { return v.text, v.kind == KindText }

// Integer returns the integer variant.
func (v Value) Integer() (int64, bool) { return v.integer, v.kind == KindInteger }

// Decimal returns the decimal variant. Integers and decimal-looking text are
// accepted so values that crossed the JSON boundary can be recovered.
func (v Value) Decimal() (decimal.Decimal, bool) {
	switch v.kind {
	case KindDecimal:
		return v.dec, true
	case KindInteger:
		return decimal.NewFromInt(v.integer), true
	case KindText:
		d, err := decimal.NewFromString(v.text)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// Timestamp returns the timestamp variant.
func (v Value) Timestamp() (time.Time, bool) { return v.ts, v.kind == KindTimestamp }

// Record returns the nested record variant.
func (v Value) Record() (*Record, bool) { return v.record, v.kind == KindRecord }

// List returns the nested list variant.
func (v Value) List() ([]*Record, bool) { return v.list, v.kind == KindList }

// Int64 returns the value as an integer id. Decimal values with no fraction
// and integer-looking text are accepted; source drivers disagree on how they
// hand back NUMERIC id columns.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInteger:
		return v.integer, true
	case KindDecimal:
		if v.dec.Equal(v.dec.Truncate(0)) {
			return v.dec.IntPart(), true
		}
	case KindText:
		i, err := strconv.ParseInt(v.text, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// String stringifies a scalar. Null renders as "None" so composite keys built
// from a null column stay distinct from the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindInteger:
		return strconv.FormatInt(v.integer, 10)
	case KindDecimal:
		return decimalText(v.dec)
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	case KindRecord:
		return fmt.Sprintf("record(%d)", v.record.Len())
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	default:
		return "None"
	}
}

// Equal compares kind and payload. Nested values compare structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindText:
		return v.text == o.text
	case KindInteger:
		return v.integer == o.integer
	case KindDecimal:
		return v.dec.Equal(o.dec)
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	case KindRecord:
		return v.record.Equal(o.record)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// SQLArg returns the value in the form handed to database/sql when inserting
// into the local store. Decimals travel as their exact text.
func (v Value) SQLArg() interface{} {
	switch v.kind {
	case KindText:
		return v.text
	case KindInteger:
		return v.integer
	case KindDecimal:
		return decimalText(v.dec)
	case KindTimestamp:
		return v.ts
	default:
		return nil
	}
}

// KeyArg returns the value as a bind argument for a key lookup against the
// source. Whole decimals bind as int64 so NUMERIC id columns compare against
// typed integer arrays; text is never reinterpreted.
func (v Value) KeyArg() interface{} {
	if v.kind == KindDecimal {
		if i, ok := v.Int64(); ok {
			return i
		}
	}
	return v.SQLArg()
}

// decimalText keeps the scale the value was parsed with, so 5.10 stays 5.10.
func decimalText(d decimal.Decimal) string {
	if d.Exponent() < 0 {
		return d.StringFixed(-d.Exponent())
	}
	return d.String()
}
