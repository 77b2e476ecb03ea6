// Package stage is the disposable, process-local copy of registry rows: table
// definitions synthesized from source column descriptors, bulk loading into
// an in-memory SQLite database, and ad-hoc queries against it.
package stage

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/regstage/internal/sqlutil"
	"github.com/dbsmedya/regstage/internal/types"
)

var dialect = sqlutil.Dialect{Driver: sqlutil.SQLite}

// ColumnDefinition is one column of a local table.
type ColumnDefinition struct {
	Name string
	Type types.LocalColumnType
}

// TableDefinition is a local table synthesized from source descriptors.
type TableDefinition struct {
	Name    string
	Columns []ColumnDefinition
}

// SynthesizeSchema derives a local table definition from column descriptors.
// Column order follows the descriptors; only descriptor types are consulted.
func SynthesizeSchema(table string, cols []types.ColumnDescriptor) (*TableDefinition, error) {
	if !sqlutil.IsValidIdentifier(table) {
		return nil, &sqlutil.InvalidIdentifierError{Name: table}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table)
	}

	def := &TableDefinition{Name: table, Columns: make([]ColumnDefinition, 0, len(cols))}
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		if !sqlutil.IsValidIdentifier(col.Name) {
			return nil, &sqlutil.InvalidIdentifierError{Name: col.Name}
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("%w: duplicate column %s in %s", types.ErrSchemaMismatch, col.Name, table)
		}
		seen[col.Name] = true
		def.Columns = append(def.Columns, ColumnDefinition{Name: col.Name, Type: types.MapType(col.TypeID)})
	}
	return def, nil
}

// ColumnNames returns the column names in declaration order.
func (d *TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column definition.
func (d *TableDefinition) Column(name string) (ColumnDefinition, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// CreateSQL renders the CREATE TABLE IF NOT EXISTS statement.
func (d *TableDefinition) CreateSQL() string {
	parts := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		parts[i] = dialect.Quote(c.Name) + " " + c.Type.SQLType()
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", dialect.Quote(d.Name), strings.Join(parts, ", "))
}

// InsertSQL renders an INSERT for the given column order.
func (d *TableDefinition) InsertSQL(columns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = dialect.Quote(c)
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		dialect.Quote(d.Name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
}

// Equal reports whether two definitions describe the same table.
func (d *TableDefinition) Equal(o *TableDefinition) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Name != o.Name || len(d.Columns) != len(o.Columns) {
		return false
	}
	for i := range d.Columns {
		if d.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}
