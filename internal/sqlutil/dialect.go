package sqlutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect captures the differences between the drivers regstage supports:
// identifier quoting, placeholder syntax and how an id list is bound.
type Dialect struct {
	Driver string
}

// Supported driver names, as registered with database/sql.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite3"
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres, MySQL, SQLite:
		return Dialect{Driver: driver}, nil
	}
	return Dialect{}, fmt.Errorf("unsupported driver %q (must be %s, %s or %s)", driver, Postgres, MySQL, SQLite)
}

// Quote quotes an identifier for this dialect.
func (d Dialect) Quote(name string) string {
	if d.Driver == MySQL {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifierANSI(name)
}

// QuoteSafe quotes an identifier after validating it.
func (d Dialect) QuoteSafe(name string) (string, error) {
	if !IsValidIdentifier(name) {
		return "", &InvalidIdentifierError{Name: name}
	}
	return d.Quote(name), nil
}

// Table renders a schema-qualified table name. An empty schema yields the
// bare quoted table.
func (d Dialect) Table(schema, table string) (string, error) {
	t, err := d.QuoteSafe(table)
	if err != nil {
		return "", err
	}
	if schema == "" {
		return t, nil
	}
	s, err := d.QuoteSafe(schema)
	if err != nil {
		return "", err
	}
	return s + "." + t, nil
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.Driver == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Args accumulates bind arguments and hands out matching placeholders.
type Args struct {
	dialect Dialect
	values  []interface{}
}

// NewArgs starts an empty argument list.
func (d Dialect) NewArgs() *Args {
	return &Args{dialect: d}
}

// Add binds v and returns its placeholder.
func (a *Args) Add(v interface{}) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

// In renders "column is one of values". PostgreSQL binds the whole list as a
// single array parameter; the other dialects expand one placeholder per value.
// An empty list renders a predicate that matches nothing.
func (a *Args) In(column string, values []interface{}) string {
	if len(values) == 0 {
		return "1 = 0"
	}
	if a.dialect.Driver == Postgres {
		return column + " = ANY(" + a.Add(pgArray(values)) + ")"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = a.Add(v)
	}
	return column + " IN (" + strings.Join(placeholders, ", ") + ")"
}

// Values returns the bound arguments in placeholder order.
func (a *Args) Values() []interface{} {
	return a.values
}

// pgArray picks a typed array so PostgreSQL can infer the element type.
func pgArray(values []interface{}) interface{} {
	strs := make([]string, 0, len(values))
	ints := make([]int64, 0, len(values))
	for _, v := range values {
		switch x := v.(type) {
		case string:
			strs = append(strs, x)
		case int64:
			ints = append(ints, x)
		case int:
			ints = append(ints, int64(x))
		}
	}
	switch {
	case len(strs) == len(values):
		return pq.StringArray(strs)
	case len(ints) == len(values):
		return pq.Int64Array(ints)
	default:
		return pq.Array(values)
	}
}

// Chunk splits values into slices of at most size elements.
func Chunk(values []interface{}, size int) [][]interface{} {
	if size <= 0 {
		size = len(values)
	}
	var chunks [][]interface{}
	for i := 0; i < len(values); i += size {
		end := i + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[i:end])
	}
	return chunks
}
