package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/dbsmedya/regstage/internal/graph"
	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/sqlutil"
	"github.com/dbsmedya/regstage/internal/types"
)

// SeedTable names the plan's root: the corporation numbers being processed.
const SeedTable = "corps"

// CodeTables are small lookup tables copied whole.
var CodeTables = []string{
	"corp_type",
	"corp_op_state",
	"party_type",
	"office_type",
	"event_type",
	"filing_type",
	"corp_name_type",
	"jurisdiction_type",
	"xpro_type",
}

// corpTables are filtered by corp_num over the seed corporations and every
// corporation named by one of their parties.
var corpTables = []string{
	"event",
	"corporation",
	"corp_state",
	"tilma_involved",
	"jurisdiction",
	"corp_name",
	"office",
}

// DefaultPlan declares every registry table relevant to a set of corporations.
func DefaultPlan() []graph.TableSpec {
	seed := graph.KeyRef{Table: SeedTable}
	specs := []graph.TableSpec{
		{Table: "corp_party", FilterColumn: "bus_company_num", From: []graph.KeyRef{seed}},
	}
	for _, t := range corpTables {
		specs = append(specs, graph.TableSpec{
			Table:        t,
			FilterColumn: "corp_num",
			From:         []graph.KeyRef{seed, {Table: "corp_party", Column: "corp_num"}},
		})
	}
	specs = append(specs,
		graph.TableSpec{Table: "filing", FilterColumn: "event_id", From: []graph.KeyRef{{Table: "event", Column: "event_id"}}},
		graph.TableSpec{Table: "address", FilterColumn: "addr_id", From: []graph.KeyRef{
			{Table: "corp_party", Column: "mailing_addr_id"},
			{Table: "corp_party", Column: "delivery_addr_id"},
			{Table: "office", Column: "mailing_addr_id"},
			{Table: "office", Column: "delivery_addr_id"},
		}},
	)
	for _, t := range CodeTables {
		specs = append(specs, graph.TableSpec{Table: t})
	}
	return specs
}

// BuildDefaultPlan builds the default snapshot graph.
func BuildDefaultPlan() (*graph.Graph, error) {
	return graph.NewBuilder(SeedTable, "corp_num", DefaultPlan()).Build()
}

// SnapshotStats summarises one snapshot.
type SnapshotStats struct {
	Tables       int
	Rows         int64
	Queries      int
	Duration     time.Duration
	RowsPerTable map[string]int64
}

// Snapshot holds the rows copied for a corp set, by table.
type Snapshot struct {
	Corps []string
	Order []string
	Rows  map[string][]*types.Record
	Stats *SnapshotStats
}

// Snapshotter copies every row a corp set touches from the source into the
// stage, following the plan's dependency order.
type Snapshotter struct {
	src       *source.Client
	store     *Store
	plan      *graph.Graph
	batchSize int
	logger    *logger.Logger
}

// NewSnapshotter creates a snapshotter. batchSize bounds the ids bound per
// query; zero or less binds each key set in one query.
func NewSnapshotter(src *source.Client, store *Store, plan *graph.Graph, batchSize int, log *logger.Logger) (*Snapshotter, error) {
	if src == nil {
		return nil, fmt.Errorf("source client is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("stage store is nil")
	}
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Snapshotter{src: src, store: store, plan: plan, batchSize: batchSize, logger: log}, nil
}

// Snapshot copies the plan's tables for corpNums into the stage.
func (s *Snapshotter) Snapshot(ctx context.Context, corpNums []string) (*Snapshot, error) {
	start := time.Now()

	order, err := s.plan.CopyOrder()
	if err != nil {
		return nil, fmt.Errorf("failed to get copy order: %w", err)
	}

	seed := make([]*types.Record, len(corpNums))
	for i, c := range corpNums {
		seed[i] = types.NewRecord().Set(s.plan.RootKey, types.TextValue(c))
	}

	snap := &Snapshot{
		Corps: corpNums,
		Order: order,
		Rows:  map[string][]*types.Record{s.plan.Root: seed},
		Stats: &SnapshotStats{RowsPerTable: make(map[string]int64)},
	}

	for _, table := range order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("snapshot interrupted: %w", err)
		}

		cols, rows, queries, err := s.fetchTable(ctx, table, snap.Rows)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
		}
		if err := s.store.Load(ctx, table, cols, rows); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", table, err)
		}

		snap.Rows[table] = rows
		snap.Stats.Tables++
		snap.Stats.Queries += queries
		snap.Stats.Rows += int64(len(rows))
		snap.Stats.RowsPerTable[table] = int64(len(rows))
		s.logger.WithTable(table).Debugf("Snapshot copied %d rows", len(rows))
	}

	delete(snap.Rows, s.plan.Root)
	snap.Stats.Duration = time.Since(start)
	s.logger.Infof("Snapshot complete: %d tables, %d rows, %d queries, duration: %s",
		snap.Stats.Tables, snap.Stats.Rows, snap.Stats.Queries, snap.Stats.Duration)
	return snap, nil
}

// fetchTable reads one table, restricted to the keys its parents collected.
func (s *Snapshotter) fetchTable(ctx context.Context, table string, collected map[string][]*types.Record) ([]types.ColumnDescriptor, []*types.Record, int, error) {
	node := s.plan.GetNode(table)
	base := "SELECT * FROM " + s.src.Table(table)

	if node.FilterColumn == "" {
		cols, rows, err := s.src.Query(ctx, base)
		return cols, rows, 1, err
	}

	keys := CollectKeys(s.plan, table, collected)
	filter, err := s.src.Dialect().QuoteSafe(node.FilterColumn)
	if err != nil {
		return nil, nil, 0, err
	}

	chunks := sqlutil.Chunk(keys, s.batchSize)
	if len(chunks) == 0 {
		// still query so the table is created with its real columns
		chunks = [][]interface{}{nil}
	}

	var cols []types.ColumnDescriptor
	var all []*types.Record
	for _, chunk := range chunks {
		args := s.src.NewArgs()
		query := base + " WHERE " + args.In(filter, chunk)
		c, rows, err := s.src.Query(ctx, query, args.Values()...)
		if err != nil {
			return nil, nil, 0, err
		}
		cols = c
		all = append(all, rows...)
	}
	return cols, all, len(chunks), nil
}

// CollectKeys gathers the distinct non-null values every parent contributes
// to table's filter, in first-seen order.
func CollectKeys(plan *graph.Graph, table string, collected map[string][]*types.Record) []interface{} {
	seen := make(map[string]bool)
	var keys []interface{}
	for _, parent := range plan.GetParents(table) {
		meta := plan.GetEdgeMeta(parent, table)
		for _, rec := range collected[parent] {
			for _, col := range meta.SourceColumns {
				v := rec.Get(col)
				if v.IsNull() || seen[v.String()] {
					continue
				}
				seen[v.String()] = true
				keys = append(keys, v.KeyArg())
			}
		}
	}
	return keys
}

// Collected returns the snapshot's rows with the seed corporations restored
// under the plan root, the shape CollectKeys expects.
func (s *Snapshot) Collected(plan *graph.Graph) map[string][]*types.Record {
	collected := make(map[string][]*types.Record, len(s.Rows)+1)
	for t, rows := range s.Rows {
		collected[t] = rows
	}
	seed := make([]*types.Record, len(s.Corps))
	for i, c := range s.Corps {
		seed[i] = types.NewRecord().Set(plan.RootKey, types.TextValue(c))
	}
	collected[plan.Root] = seed
	return collected
}
