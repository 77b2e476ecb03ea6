package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) Value {
	t.Helper()
	v, err := ParseDecimalValue(s)
	require.NoError(t, err)
	return v
}

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())
	assert.Equal(t, "None", v.String())
	assert.Nil(t, v.SQLArg())
}

func TestValue_String(t *testing.T) {
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "BC0000001", TextValue("BC0000001").String())
	assert.Equal(t, "42", IntegerValue(42).String())
	assert.Equal(t, "5.10", mustDecimal(t, "5.10").String())
	assert.Equal(t, "100", mustDecimal(t, "100").String())
	assert.Equal(t, "2020-01-02T03:04:05Z", TimestampValue(ts).String())
	assert.Equal(t, "list(0)", ListValue(nil).String())
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, Null.Equal(Value{}))
	assert.True(t, mustDecimal(t, "1.50").Equal(mustDecimal(t, "1.5")))
	assert.False(t, IntegerValue(1).Equal(mustDecimal(t, "1")), "kinds differ")
	assert.False(t, TextValue("1").Equal(IntegerValue(1)))

	a := RecordValue(NewRecord().Set("x", IntegerValue(1)))
	b := RecordValue(NewRecord().Set("x", IntegerValue(1)))
	assert.True(t, a.Equal(b))

	l1 := ListValue([]*Record{NewRecord().Set("x", TextValue("a"))})
	l2 := ListValue([]*Record{NewRecord().Set("x", TextValue("b"))})
	assert.False(t, l1.Equal(l2))
}

func TestValue_Int64(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want int64
		ok   bool
	}{
		{"integer", IntegerValue(7), 7, true},
		{"whole decimal", mustDecimal(t, "180"), 180, true},
		{"whole decimal with scale", mustDecimal(t, "180.00"), 180, true},
		{"fractional decimal", mustDecimal(t, "1.5"), 0, false},
		{"numeric text", TextValue("123"), 123, true},
		{"corp number", TextValue("BC0000001"), 0, false},
		{"null", Null, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Int64()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValue_KeyArg(t *testing.T) {
	assert.Equal(t, int64(180), mustDecimal(t, "180").KeyArg())
	assert.Equal(t, "1.5", mustDecimal(t, "1.5").KeyArg())
	assert.Equal(t, "0641655", TextValue("0641655").KeyArg(), "text ids stay text")
	assert.Equal(t, int64(3), IntegerValue(3).KeyArg())
	assert.Nil(t, Null.KeyArg())
}

func TestValue_Decimal(t *testing.T) {
	d, ok := IntegerValue(3).Decimal()
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromInt(3)))

	d, ok = TextValue("12345678901234567890.12").Decimal()
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890.12", d.String())

	_, ok = TextValue("n/a").Decimal()
	assert.False(t, ok)
}

func TestValue_SQLArgKeepsDecimalText(t *testing.T) {
	assert.Equal(t, "0.10", mustDecimal(t, "0.10").SQLArg())
	assert.Equal(t, int64(9), IntegerValue(9).SQLArg())
}
