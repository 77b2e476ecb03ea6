// Package types contains the record model shared by the source client, the
// local store, the record cache and the corp graph fetcher.
package types

import (
	"strings"

	"github.com/lib/pq/oid"
)

// ColumnDescriptor describes one column of a source result set.
type ColumnDescriptor struct {
	Name   string
	TypeID int   // PostgreSQL type OID, or the equivalent OID for other drivers
	Length int64 // declared length, -1 when the driver does not report one
}

// LocalColumnType is the storage kind of a column in the local store.
type LocalColumnType int

const (
	Text LocalColumnType = iota
	Numeric
	Integer
	Timestamp
)

// Source type ids understood by MapType.
const (
	TypeIDBpchar    = int(oid.T_bpchar)    // CHAR
	TypeIDVarchar   = int(oid.T_varchar)   // VARCHAR
	TypeIDNumeric   = int(oid.T_numeric)   // NUMBER(38)
	TypeIDInt4      = int(oid.T_int4)      // NUMBER(7)
	TypeIDTimestamp = int(oid.T_timestamp) // DATE or DATETIME
)

var localTypes = map[int]LocalColumnType{
	TypeIDBpchar:    Text,
	TypeIDVarchar:   Text,
	TypeIDNumeric:   Numeric,
	TypeIDInt4:      Integer,
	TypeIDTimestamp: Timestamp,
}

// MapType maps a source column type id to its local storage type.
// Unknown ids map to Text.
func MapType(typeID int) LocalColumnType {
	if t, ok := localTypes[typeID]; ok {
		return t
	}
	return Text
}

// String returns the lower-case name of the type.
func (t LocalColumnType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Integer:
		return "integer"
	case Timestamp:
		return "timestamp"
	default:
		return "text"
	}
}

// SQLType returns the column type used in local store DDL.
//
// Numeric columns are declared with TEXT affinity: SQLite's NUMERIC affinity
// converts long decimal literals to REAL and drops digits.
func (t LocalColumnType) SQLType() string {
	switch t {
	case Numeric:
		return "DECIMAL_TEXT"
	case Integer:
		return "INTEGER"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// LocalTypeFromSQL reverses SQLType for a declared column type reported by the
// local store driver. Declarations it does not recognise are Text.
func LocalTypeFromSQL(declared string) LocalColumnType {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "DECIMAL_TEXT":
		return Numeric
	case "INTEGER", "INT", "BIGINT":
		return Integer
	case "TIMESTAMP", "DATETIME", "DATE":
		return Timestamp
	default:
		return Text
	}
}

// Drivers accepted by TypeIDFor.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// mysqlTypeIDs translates go-sql-driver/mysql DatabaseTypeName values.
var mysqlTypeIDs = map[string]int{
	"CHAR":      TypeIDBpchar,
	"VARCHAR":   TypeIDVarchar,
	"DECIMAL":   TypeIDNumeric,
	"INT":       TypeIDInt4,
	"MEDIUMINT": TypeIDInt4,
	"SMALLINT":  TypeIDInt4,
	"DATETIME":  TypeIDTimestamp,
	"DATE":      TypeIDTimestamp,
	"TIMESTAMP": TypeIDTimestamp,
}

// sqliteTypeIDs translates mattn/go-sqlite3 declared column types.
var sqliteTypeIDs = map[string]int{
	"CHAR":         TypeIDBpchar,
	"VARCHAR":      TypeIDVarchar,
	"TEXT":         TypeIDVarchar,
	"NUMERIC":      TypeIDNumeric,
	"DECIMAL":      TypeIDNumeric,
	"DECIMAL_TEXT": TypeIDNumeric,
	"INTEGER":      TypeIDInt4,
	"INT":          TypeIDInt4,
	"TIMESTAMP":    TypeIDTimestamp,
	"DATETIME":     TypeIDTimestamp,
	"DATE":         TypeIDTimestamp,
}

// pgTypeIDs inverts lib/pq's OID name table; lib/pq reports names, not ids.
var pgTypeIDs = func() map[string]int {
	ids := make(map[string]int, len(oid.TypeName))
	for id, name := range oid.TypeName {
		ids[name] = int(id)
	}
	return ids
}()

// TypeIDFor resolves a driver's DatabaseTypeName to a source type id.
// Unresolvable names return 0, which MapType treats as Text.
func TypeIDFor(driver, databaseTypeName string) int {
	name := strings.ToUpper(strings.TrimSpace(databaseTypeName))
	// strip length/precision suffixes such as VARCHAR(40)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	switch driver {
	case DriverPostgres:
		return pgTypeIDs[name]
	case DriverMySQL:
		return mysqlTypeIDs[name]
	case DriverSQLite:
		return sqliteTypeIDs[name]
	}
	return 0
}
