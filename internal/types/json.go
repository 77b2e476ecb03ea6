package types

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MarshalJSON renders the record as an object with columns in insertion
// order. Timestamps render as ISO-8601 text, decimals as exact text.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	var err error
	r.Each(func(name string, v Value) {
		if err != nil {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var key, val []byte
		if key, err = json.Marshal(name); err != nil {
			return
		}
		if val, err = v.MarshalJSON(); err != nil {
			err = fmt.Errorf("column %q: %w", name, err)
			return
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders a single value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindInteger:
		return json.Marshal(v.integer)
	case KindDecimal:
		// quoted so consumers never parse it as a binary float
		return json.Marshal(decimalText(v.dec))
	case KindTimestamp:
		return json.Marshal(v.ts.Format(isoLayout(v.ts)))
	case KindRecord:
		return v.record.MarshalJSON()
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// isoLayout omits the offset for zone-less source timestamps and prints
// microseconds only when present.
func isoLayout(t time.Time) string {
	layout := "2006-01-02T15:04:05"
	if t.Nanosecond() != 0 {
		layout += ".000000"
	}
	if _, offset := t.Zone(); offset != 0 {
		layout += "-07:00"
	}
	return layout
}

// ParseJSONRecord decodes a JSON object produced by MarshalJSON back into a
// record, preserving key order. Strings stay Text; integral numbers become
// Integer and other numbers Decimal, both parsed from their exact text.
func ParseJSONRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}
	r, err := decodeObject(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return r, nil
}

func decodeObject(dec *json.Decoder) (*Record, error) {
	r := NewRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		r.Set(name, v)
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return nil, err
	}
	return r, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null, err
	}
	switch t := tok.(type) {
	case nil:
		return Null, nil
	case string:
		return TextValue(t), nil
	case bool:
		return TextValue(fmt.Sprint(t)), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return IntegerValue(i), nil
			}
		}
		return ParseDecimalValue(s)
	case json.Delim:
		switch t {
		case '{':
			r, err := decodeObject(dec)
			if err != nil {
				return Null, err
			}
			return RecordValue(r), nil
		case '[':
			var list []*Record
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Null, err
				}
				r, ok := item.Record()
				if !ok {
					return Null, fmt.Errorf("list items must be objects, got %s", item.Kind())
				}
				list = append(list, r)
			}
			if _, err := dec.Token(); err != nil {
				return Null, err
			}
			return ListValue(list), nil
		}
	}
	return Null, fmt.Errorf("unexpected token %v", tok)
}
