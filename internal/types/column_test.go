package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapType_KnownIDs(t *testing.T) {
	tests := []struct {
		id       int
		expected LocalColumnType
	}{
		{1042, Text},
		{1043, Text},
		{1700, Numeric},
		{23, Integer},
		{1114, Timestamp},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, MapType(tt.id))
		})
	}
}

func TestMapType_UnknownIDsDefaultToText(t *testing.T) {
	for _, id := range []int{0, -1, 16, 20, 25, 701, 1082, 1184, 3802, 99999} {
		assert.Equal(t, Text, MapType(id), "id %d", id)
	}
}

func TestLocalColumnType_SQLTypeRoundTrip(t *testing.T) {
	for _, lt := range []LocalColumnType{Text, Numeric, Integer, Timestamp} {
		assert.Equal(t, lt, LocalTypeFromSQL(lt.SQLType()), lt.String())
	}
	assert.Equal(t, Text, LocalTypeFromSQL("BLOB"))
	assert.Equal(t, Integer, LocalTypeFromSQL(" integer "))
}

func TestTypeIDFor(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		typeName string
		expected LocalColumnType
	}{
		{name: "postgres varchar", driver: DriverPostgres, typeName: "VARCHAR", expected: Text},
		{name: "postgres bpchar", driver: DriverPostgres, typeName: "BPCHAR", expected: Text},
		{name: "postgres numeric", driver: DriverPostgres, typeName: "NUMERIC", expected: Numeric},
		{name: "postgres int4", driver: DriverPostgres, typeName: "INT4", expected: Integer},
		{name: "postgres timestamp", driver: DriverPostgres, typeName: "TIMESTAMP", expected: Timestamp},
		{name: "postgres int8 is not mapped", driver: DriverPostgres, typeName: "INT8", expected: Text},
		{name: "mysql decimal", driver: DriverMySQL, typeName: "DECIMAL", expected: Numeric},
		{name: "mysql datetime", driver: DriverMySQL, typeName: "DATETIME", expected: Timestamp},
		{name: "mysql int", driver: DriverMySQL, typeName: "INT", expected: Integer},
		{name: "sqlite with length", driver: DriverSQLite, typeName: "varchar(40)", expected: Text},
		{name: "sqlite decimal text", driver: DriverSQLite, typeName: "DECIMAL_TEXT", expected: Numeric},
		{name: "unknown driver", driver: "oracle", typeName: "NUMBER", expected: Text},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapType(TypeIDFor(tt.driver, tt.typeName)))
		})
	}
}

func TestTypeIDFor_PostgresOIDs(t *testing.T) {
	assert.Equal(t, 1043, TypeIDFor(DriverPostgres, "VARCHAR"))
	assert.Equal(t, 1700, TypeIDFor(DriverPostgres, "NUMERIC"))
	assert.Equal(t, 0, TypeIDFor(DriverPostgres, "NOT_A_TYPE"))
}
