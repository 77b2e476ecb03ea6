// Package preflight checks that the registry source has every table and
// column a run reads before any work starts.
package preflight

import (
	"context"
	"fmt"
	"sort"

	"github.com/dbsmedya/regstage/internal/graph"
	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/sqlutil"
)

// PreflightError represents a preflight check failure.
type PreflightError struct {
	Check   string
	Message string
	Tables  []string
}

func (e *PreflightError) Error() string {
	if len(e.Tables) > 0 {
		return fmt.Sprintf("%s: %s (tables: %v)", e.Check, e.Message, e.Tables)
	}
	return fmt.Sprintf("%s: %s", e.Check, e.Message)
}

// RequiredColumns are read by the event tracker and corporation assembly
// beyond the columns the snapshot plan filters on.
var RequiredColumns = map[string][]string{
	"event":          {"event_id", "corp_num", "event_timestmp"},
	"corporation":    {"corp_num", "corp_typ_cd", "recognition_dts"},
	"corp_state":     {"corp_num", "start_event_id", "end_event_id", "state_typ_cd"},
	"corp_name":      {"corp_num", "corp_name_typ_cd", "start_event_id", "end_event_id", "corp_nme"},
	"corp_party":     {"corp_num", "party_typ_cd", "start_event_id", "end_event_id", "bus_company_num"},
	"office":         {"corp_num", "office_typ_cd", "start_event_id", "end_event_id"},
	"filing":         {"event_id", "effective_dt"},
	"tilma_involved": {"corp_num", "end_event_id", "involved_ind"},
}

// TableReport describes one registry table.
type TableReport struct {
	Table          string
	Exists         bool
	MissingColumns []string
	FilterColumn   string // empty for tables copied whole
	Indexed        bool   // FilterColumn leads an index
}

// Checker inspects the source against a snapshot plan.
type Checker struct {
	src    *source.Client
	plan   *graph.Graph
	logger *logger.Logger
}

// NewChecker creates a preflight checker.
func NewChecker(src *source.Client, plan *graph.Graph, log *logger.Logger) (*Checker, error) {
	if src == nil {
		return nil, fmt.Errorf("source client is nil")
	}
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Checker{src: src, plan: plan, logger: log}, nil
}

// RunAllChecks fails on missing tables or columns. Unindexed filter columns
// only slow snapshots down and are logged as warnings.
func (p *Checker) RunAllChecks(ctx context.Context) error {
	p.logger.Info("Running preflight checks...")

	reports, err := p.Inspect(ctx)
	if err != nil {
		return err
	}
	if err := ValidateTablesExist(reports); err != nil {
		return err
	}
	if err := ValidateColumns(reports); err != nil {
		return err
	}

	var unindexed []string
	for _, r := range reports {
		if r.FilterColumn != "" && !r.Indexed {
			unindexed = append(unindexed, r.Table+"."+r.FilterColumn)
		}
	}
	if len(unindexed) > 0 {
		p.logger.Warnw("Snapshot filter columns without an index (snapshots will scan)", "columns", unindexed)
	}

	p.logger.Info("All preflight checks PASSED")
	return nil
}

// ValidateTablesExist fails when any reported table is missing.
func ValidateTablesExist(reports []TableReport) error {
	var missing []string
	for _, r := range reports {
		if !r.Exists {
			missing = append(missing, r.Table)
		}
	}
	if len(missing) > 0 {
		return &PreflightError{
			Check:   "TABLE_EXISTENCE_CHECK",
			Message: "Tables not found in source database",
			Tables:  missing,
		}
	}
	return nil
}

// ValidateColumns fails when an existing table lacks a column the run reads.
func ValidateColumns(reports []TableReport) error {
	var missing []string
	for _, r := range reports {
		for _, c := range r.MissingColumns {
			missing = append(missing, r.Table+"."+c)
		}
	}
	if len(missing) > 0 {
		return &PreflightError{
			Check:   "COLUMN_CHECK",
			Message: "Columns not found in source tables",
			Tables:  missing,
		}
	}
	return nil
}

// Inspect reports every plan table in copy order.
func (p *Checker) Inspect(ctx context.Context) ([]TableReport, error) {
	order, err := p.plan.CopyOrder()
	if err != nil {
		return nil, fmt.Errorf("failed to get copy order: %w", err)
	}
	required := p.requiredColumns()

	reports := make([]TableReport, 0, len(order))
	for _, table := range order {
		r := TableReport{Table: table}
		if node := p.plan.GetNode(table); node != nil {
			r.FilterColumn = node.FilterColumn
		}

		exists, err := p.src.TableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		r.Exists = exists
		if !exists {
			reports = append(reports, r)
			continue
		}

		cols, err := p.src.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		have := make(map[string]bool, len(cols))
		for _, c := range cols {
			have[c] = true
		}
		for _, c := range required[table] {
			if !have[c] {
				r.MissingColumns = append(r.MissingColumns, c)
			}
		}

		if r.FilterColumn != "" && have[r.FilterColumn] {
			r.Indexed, err = p.isColumnIndexed(ctx, table, r.FilterColumn)
			if err != nil {
				return nil, fmt.Errorf("failed to check index for %s.%s: %w", table, r.FilterColumn, err)
			}
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// requiredColumns merges RequiredColumns with the columns the plan filters
// on and collects keys from, sorted per table.
func (p *Checker) requiredColumns() map[string][]string {
	sets := make(map[string]map[string]bool)
	add := func(table, col string) {
		if table == p.plan.Root || col == "" {
			return
		}
		if sets[table] == nil {
			sets[table] = make(map[string]bool)
		}
		sets[table][col] = true
	}

	for table, cols := range RequiredColumns {
		for _, c := range cols {
			add(table, c)
		}
	}
	for _, table := range p.plan.AllNodes() {
		node := p.plan.GetNode(table)
		if node == nil {
			continue
		}
		add(table, node.FilterColumn)
		for _, parent := range p.plan.GetParents(table) {
			if meta := p.plan.GetEdgeMeta(parent, table); meta != nil {
				for _, c := range meta.SourceColumns {
					add(parent, c)
				}
			}
		}
	}

	out := make(map[string][]string, len(sets))
	for table, set := range sets {
		for c := range set {
			out[table] = append(out[table], c)
		}
		sort.Strings(out[table])
	}
	return out
}

// isColumnIndexed reports whether column is the leading column of an index.
func (p *Checker) isColumnIndexed(ctx context.Context, table, column string) (bool, error) {
	args := p.src.NewArgs()
	var query string

	switch p.src.Dialect().Driver {
	case sqlutil.Postgres:
		schema := p.src.Schema()
		if schema == "" {
			schema = "public"
		}
		query = `SELECT COUNT(*) AS n FROM pg_indexes
			WHERE schemaname = ` + args.Add(schema) + ` AND tablename = ` + args.Add(table) + `
			AND (indexdef LIKE ` + args.Add("%("+column+")%") + ` OR indexdef LIKE ` + args.Add("%("+column+", %") + `)`
	case sqlutil.MySQL:
		schemaExpr := "DATABASE()"
		if p.src.Schema() != "" {
			schemaExpr = args.Add(p.src.Schema())
		}
		query = `SELECT COUNT(*) AS n FROM information_schema.STATISTICS
			WHERE TABLE_SCHEMA = ` + schemaExpr + ` AND TABLE_NAME = ` + args.Add(table) + `
			AND COLUMN_NAME = ` + args.Add(column) + ` AND SEQ_IN_INDEX = 1`
	case sqlutil.SQLite:
		schema := p.src.Schema()
		if schema == "" {
			schema = "main"
		}
		query = `SELECT COUNT(*) AS n FROM pragma_index_list(` + args.Add(table) + `, ` + args.Add(schema) + `) AS il,
			pragma_index_info(il.name, ` + args.Add(schema) + `) AS ii
			WHERE ii.seqno = 0 AND ii.name = ` + args.Add(column)
	default:
		return false, fmt.Errorf("index check not supported for driver %q", p.src.Dialect().Driver)
	}

	n, err := p.src.QueryID(ctx, query, args.Values()...)
	if err != nil {
		return false, err
	}
	return n != nil && *n > 0, nil
}
