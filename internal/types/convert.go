package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ToInt64 converts an interface{} to int64.
// Supports int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, and float64.
func ToInt64(v interface{}) int64 {
	switch i := v.(type) {
	case int64:
		return i
	case int:
		return int64(i)
	case int32:
		return int64(i)
	case int16:
		return int64(i)
	case int8:
		return int64(i)
	case uint:
		return int64(i)
	case uint64:
		return int64(i)
	case uint32:
		return int64(i)
	case uint16:
		return int64(i)
	case uint8:
		return int64(i)
	case float64:
		return int64(i)
	case float32:
		return int64(i)
	default:
		return 0
	}
}

// timestampLayouts are the text forms drivers hand back for timestamp columns
// when they do not parse them themselves (MySQL without parseTime, SQLite).
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp text forms produced by the supported drivers.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FromDriver converts a value scanned into interface{} from database/sql into
// a typed Value, guided by the column's local type.
func FromDriver(src interface{}, t LocalColumnType) (Value, error) {
	if src == nil {
		return Null, nil
	}
	if b, ok := src.([]byte); ok {
		// MySQL and lib/pq return NUMERIC and CHAR columns as []byte
		src = string(b)
	}

	switch t {
	case Integer:
		switch v := src.(type) {
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return Null, fmt.Errorf("invalid integer %q: %w", v, err)
			}
			return IntegerValue(i), nil
		case float64, float32:
			return IntegerValue(ToInt64(v)), nil
		case bool:
			if v {
				return IntegerValue(1), nil
			}
			return IntegerValue(0), nil
		default:
			return IntegerValue(ToInt64(v)), nil
		}

	case Numeric:
		switch v := src.(type) {
		case string:
			return ParseDecimalValue(strings.TrimSpace(v))
		case float64:
			return DecimalValue(decimal.NewFromFloat(v)), nil
		case float32:
			return DecimalValue(decimal.NewFromFloat32(v)), nil
		case time.Time:
			return Null, fmt.Errorf("timestamp %v in numeric column", v)
		default:
			return DecimalValue(decimal.NewFromInt(ToInt64(v))), nil
		}

	case Timestamp:
		switch v := src.(type) {
		case time.Time:
			return TimestampValue(v), nil
		case string:
			ts, err := ParseTimestamp(v)
			if err != nil {
				return Null, err
			}
			return TimestampValue(ts), nil
		default:
			return Null, fmt.Errorf("unexpected %T in timestamp column", src)
		}
	}

	switch v := src.(type) {
	case string:
		return TextValue(v), nil
	case time.Time:
		return TimestampValue(v), nil
	case bool:
		return TextValue(strconv.FormatBool(v)), nil
	case float64:
		return TextValue(strconv.FormatFloat(v, 'f', -1, 64)), nil
	default:
		return TextValue(fmt.Sprint(v)), nil
	}
}
