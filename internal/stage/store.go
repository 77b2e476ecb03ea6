package stage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/types"
)

// Store is the local staging database. Tables are created lazily on first
// load and live as long as the underlying handle.
type Store struct {
	db     *sql.DB
	tables *orderedmap.OrderedMap[string, *TableDefinition]
	logger *logger.Logger
}

// NewStore wraps an open local SQLite handle.
func NewStore(db *sql.DB, log *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("stage database is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		db:     db,
		tables: orderedmap.NewOrderedMap[string, *TableDefinition](),
		logger: log,
	}, nil
}

// Load creates the table if it is absent, then inserts every record in one
// prepared batch. The first record fixes the insert column order and must
// carry exactly the described columns; any record whose column set differs
// fails the whole call with ErrSchemaMismatch before anything is inserted.
// Loading no records only creates the table.
func (s *Store) Load(ctx context.Context, table string, cols []types.ColumnDescriptor, records []*types.Record) error {
	def, err := SynthesizeSchema(table, cols)
	if err != nil {
		return err
	}

	if known, ok := s.tables.Get(table); ok && !known.Equal(def) {
		return fmt.Errorf("%w: table %s was created with columns %v", types.ErrSchemaMismatch, table, known.ColumnNames())
	}

	var insertCols []string
	if len(records) > 0 {
		if err := checkColumns(def, records); err != nil {
			return err
		}
		insertCols = records[0].Columns()
	}

	if _, err := s.db.ExecContext(ctx, def.CreateSQL()); err != nil {
		return fmt.Errorf("%w: failed to create table %s: %w", types.ErrQueryFailure, table, err)
	}
	s.tables.Set(table, def)

	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin stage transaction: %w", types.ErrConnectionFailure, err)
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Errorf("Failed to rollback stage transaction: %v", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, def.InsertSQL(insertCols))
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert into %s: %w", types.ErrQueryFailure, table, err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(insertCols))
	for i, rec := range records {
		for j, c := range insertCols {
			args[j] = rec.Get(c).SQLArg()
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%w: failed to insert row %d into %s: %w", types.ErrQueryFailure, i, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit %s: %w", types.ErrQueryFailure, table, err)
	}
	tx = nil

	s.logger.WithTable(table).Debugf("Staged %d rows", len(records))
	return nil
}

// checkColumns verifies that every record carries exactly the defined columns.
func checkColumns(def *TableDefinition, records []*types.Record) error {
	first := records[0]
	if first.Len() != len(def.Columns) {
		return fmt.Errorf("%w: %s declares %d columns, record has %d",
			types.ErrSchemaMismatch, def.Name, len(def.Columns), first.Len())
	}
	for _, c := range first.Columns() {
		if _, ok := def.Column(c); !ok {
			return fmt.Errorf("%w: %s has no column %s", types.ErrSchemaMismatch, def.Name, c)
		}
	}
	for i, rec := range records[1:] {
		if !first.SameColumns(rec) {
			return fmt.Errorf("%w: record %d of %s has columns %v, want %v",
				types.ErrSchemaMismatch, i+1, def.Name, rec.Columns(), first.Columns())
		}
	}
	return nil
}

// Query runs a SELECT against the stage and decodes rows by each column's
// declared local type. Expression columns are decoded from the driver value.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) ([]*types.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrQueryFailure, err)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read column types: %w", types.ErrQueryFailure, err)
	}

	values := make([]interface{}, len(cts))
	valuePtrs := make([]interface{}, len(cts))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	var records []*types.Record
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %w", types.ErrQueryFailure, err)
		}
		rec := types.NewRecord()
		for i, ct := range cts {
			v, err := decode(values[i], ct.DatabaseTypeName())
			if err != nil {
				return nil, fmt.Errorf("%w: column %s: %w", types.ErrQueryFailure, ct.Name(), err)
			}
			rec.Set(ct.Name(), v)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating rows: %w", types.ErrQueryFailure, err)
	}
	return records, nil
}

// decode converts a local driver value. An undeclared column (an expression
// such as COUNT(*)) takes its type from the value itself.
func decode(src interface{}, declared string) (types.Value, error) {
	if declared != "" {
		return types.FromDriver(src, types.LocalTypeFromSQL(declared))
	}
	switch src.(type) {
	case int64:
		return types.FromDriver(src, types.Integer)
	case float64:
		return types.FromDriver(src, types.Numeric)
	default:
		return types.FromDriver(src, types.Text)
	}
}

// Tables lists the staged tables in creation order.
func (s *Store) Tables() []string {
	return s.tables.Keys()
}

// Definition returns the definition a table was created with.
func (s *Store) Definition(table string) (*TableDefinition, bool) {
	return s.tables.Get(table)
}

// Count returns the number of rows staged in a table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if _, ok := s.tables.Get(table); !ok {
		return 0, fmt.Errorf("%w: table %s is not staged", types.ErrNotFound, table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+dialect.Quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: failed to count %s: %w", types.ErrQueryFailure, table, err)
	}
	return n, nil
}

// Rows reads back every row staged in a table.
func (s *Store) Rows(ctx context.Context, table string) ([]*types.Record, error) {
	if _, ok := s.tables.Get(table); !ok {
		return nil, fmt.Errorf("%w: table %s is not staged", types.ErrNotFound, table)
	}
	return s.Query(ctx, "SELECT * FROM "+dialect.Quote(table))
}

// Counts returns row counts for every staged table, sorted by table name.
func (s *Store) Counts(ctx context.Context) (map[string]int64, []string, error) {
	names := s.Tables()
	sort.Strings(names)
	counts := make(map[string]int64, len(names))
	for _, name := range names {
		n, err := s.Count(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		counts[name] = n
	}
	return counts, names, nil
}

// Reset drops every staged table. Each processing batch starts from an
// empty stage.
func (s *Store) Reset(ctx context.Context) error {
	for _, name := range s.tables.Keys() {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+dialect.Quote(name)); err != nil {
			return fmt.Errorf("%w: failed to drop %s: %w", types.ErrQueryFailure, name, err)
		}
		s.tables.Delete(name)
	}
	return nil
}

// SaveTo writes a copy of the stage to a SQLite file for inspection. The
// file must not already exist.
func (s *Store) SaveTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("%w: failed to save stage to %s: %w", types.ErrQueryFailure, path, err)
	}
	s.logger.Infof("Saved stage (%d tables) to %s", s.tables.Len(), path)
	return nil
}
