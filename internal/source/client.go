// Package source wraps the registry source of record. Every query returns the
// column descriptors the driver reported alongside rows decoded into records.
package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/sqlutil"
	"github.com/dbsmedya/regstage/internal/types"
)

// DefaultSchema is the schema holding the registry tables.
const DefaultSchema = "bc_registries"

// Client issues parameterized queries against the source of record.
type Client struct {
	db      *sql.DB
	dialect sqlutil.Dialect
	schema  string
	logger  *logger.Logger
}

// NewClient creates a source client. schema qualifies every table name; an
// empty schema leaves names bare.
func NewClient(db *sql.DB, dialect sqlutil.Dialect, schema string, log *logger.Logger) (*Client, error) {
	if db == nil {
		return nil, fmt.Errorf("source database is nil")
	}
	if _, err := sqlutil.DialectFor(dialect.Driver); err != nil {
		return nil, err
	}
	if schema != "" && !sqlutil.IsValidIdentifier(schema) {
		return nil, &sqlutil.InvalidIdentifierError{Name: schema}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{db: db, dialect: dialect, schema: schema, logger: log}, nil
}

// Dialect returns the source dialect.
func (c *Client) Dialect() sqlutil.Dialect {
	return c.dialect
}

// Schema returns the schema qualifying table names.
func (c *Client) Schema() string {
	return c.schema
}

// NewArgs starts a bind argument list in the source dialect.
func (c *Client) NewArgs() *sqlutil.Args {
	return c.dialect.NewArgs()
}

// Table returns the schema-qualified, quoted name of a registry table.
func (c *Client) Table(name string) string {
	t, err := c.dialect.Table(c.schema, name)
	if err != nil {
		// table names are package constants; an invalid one is a programming error
		panic(err)
	}
	return t
}

// Query runs a statement and decodes every row. Column types come from the
// driver's column metadata, so an empty result still carries descriptors.
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) ([]types.ColumnDescriptor, []*types.Record, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		c.logger.Errorw("source query failed", "error", err, "query", query)
		return nil, nil, classify(err)
	}
	defer rows.Close()

	cols, err := c.describe(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read column types: %v", types.ErrQueryFailure, err)
	}

	local := make([]types.LocalColumnType, len(cols))
	for i, col := range cols {
		local[i] = types.MapType(col.TypeID)
	}

	var records []*types.Record
	values := make([]interface{}, len(cols))
	valuePtrs := make([]interface{}, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, fmt.Errorf("%w: failed to scan row: %v", types.ErrQueryFailure, err)
		}
		rec := types.NewRecord()
		for i, col := range cols {
			v, err := types.FromDriver(values[i], local[i])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: column %s: %v", types.ErrQueryFailure, col.Name, err)
			}
			rec.Set(col.Name, v)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		c.logger.Errorw("source row iteration failed", "error", err, "query", query)
		return nil, nil, fmt.Errorf("%w: error iterating rows: %v", types.ErrQueryFailure, err)
	}

	return cols, records, nil
}

// QueryRecords is Query without the descriptors.
func (c *Client) QueryRecords(ctx context.Context, query string, args ...interface{}) ([]*types.Record, error) {
	_, records, err := c.Query(ctx, query, args...)
	return records, err
}

// QueryOne returns the first row, or an empty record when there is none.
func (c *Client) QueryOne(ctx context.Context, query string, args ...interface{}) (*types.Record, error) {
	records, err := c.QueryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return types.NewRecord(), nil
	}
	return records[0], nil
}

// QueryID returns the single integer a scalar query such as max(event_id)
// produces. A NULL result yields nil.
func (c *Client) QueryID(ctx context.Context, query string, args ...interface{}) (*int64, error) {
	_, records, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0].Len() == 0 {
		return nil, nil
	}
	v := records[0].Get(records[0].Columns()[0])
	if v.IsNull() {
		return nil, nil
	}
	id, ok := v.Int64()
	if !ok {
		return nil, fmt.Errorf("%w: expected an integer id, got %q", types.ErrQueryFailure, v.String())
	}
	return &id, nil
}

// TableExists reports whether a registry table can be selected from.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT * FROM "+c.Table(table)+" WHERE 1 = 0")
	if err != nil {
		if isConnectionError(err) {
			return false, classify(err)
		}
		return false, nil
	}
	_ = rows.Close()
	return true, nil
}

// Columns lists a registry table's columns in declared order.
func (c *Client) Columns(ctx context.Context, table string) ([]string, error) {
	cols, _, err := c.Query(ctx, "SELECT * FROM "+c.Table(table)+" WHERE 1 = 0")
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names, nil
}

// describe converts the driver's column metadata into descriptors.
func (c *Client) describe(rows *sql.Rows) ([]types.ColumnDescriptor, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]types.ColumnDescriptor, len(cts))
	for i, ct := range cts {
		length, ok := ct.Length()
		if !ok {
			length = -1
		}
		cols[i] = types.ColumnDescriptor{
			Name:   ct.Name(),
			TypeID: types.TypeIDFor(c.dialect.Driver, ct.DatabaseTypeName()),
			Length: length,
		}
	}
	return cols, nil
}

// classify wraps a driver error in the matching failure class.
func classify(err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", types.ErrConnectionFailure, err)
	}
	return fmt.Errorf("%w: %w", types.ErrQueryFailure, err)
}

func isConnectionError(err error) bool {
	return errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn)
}
