package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/regstage/internal/checkpoint"
	"github.com/dbsmedya/regstage/internal/config"
	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/graph"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/tracker"
)

var planEstimate bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the snapshot plan and estimate the next run",
	Long: `Plan shows the order in which a snapshot copies registry tables and
the key columns each table is filtered by.

With --estimate it also connects to the source and the checkpoint store
and reports how many events, corporations and batches the next run
would process.

Example:
  regstage plan --config regstage.yaml --estimate`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planEstimate, "estimate", false,
		"Connect and estimate the next run's window")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := stage.BuildDefaultPlan()
	if err != nil {
		return fmt.Errorf("failed to build snapshot plan: %w", err)
	}
	if err := printPlan(g, cfg); err != nil {
		return err
	}

	if !planEstimate {
		return nil
	}
	return printEstimate(cmd.Context(), cfg)
}

func printPlan(g *graph.Graph, cfg *config.Config) error {
	order, err := g.CopyOrder()
	if err != nil {
		return fmt.Errorf("failed to generate copy order: %w", err)
	}

	printHeader("Snapshot Plan")
	fmt.Fprintln(outputWriter)
	printSection("Copy Order (parent tables first)")
	rows := make([][]string, 0, len(order))
	for i, table := range order {
		rows = append(rows, []string{strconv.Itoa(i + 1), table, describeFilter(g, table)})
	}
	printTable([]string{"#", "Table", "Filtered by"}, rows)

	fmt.Fprintln(outputWriter)
	printSection("Processing")
	maxCorps := "unlimited"
	if cfg.Processing.MaxCorps > 0 {
		maxCorps = strconv.Itoa(cfg.Processing.MaxCorps)
	}
	printKV([][2]string{
		{"System type", cfg.Checkpoint.SystemType},
		{"Corp types", strings.Join(cfg.Processing.CorpTypes, ", ")},
		{"Batch size", strconv.Itoa(cfg.Processing.BatchSize)},
		{"Max corps", maxCorps},
		{"Snapshot", mark(cfg.Stage.Snapshot)},
		{"Snapshot IN list", strconv.Itoa(cfg.Stage.BatchSize)},
		{"Verify", cfg.Stage.Verify},
	})
	return nil
}

// describeFilter renders "column ∈ parent.col, ..." for a plan table.
func describeFilter(g *graph.Graph, table string) string {
	node := g.GetNode(table)
	if node == nil || node.FilterColumn == "" {
		return "(whole table)"
	}
	var sources []string
	for _, parent := range g.GetParents(table) {
		meta := g.GetEdgeMeta(parent, table)
		if meta == nil {
			continue
		}
		for _, col := range meta.SourceColumns {
			if parent == g.Root {
				sources = append(sources, "corps")
				continue
			}
			sources = append(sources, parent+"."+col)
		}
	}
	return node.FilterColumn + " ∈ " + strings.Join(sources, ", ")
}

func printEstimate(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dbManager := database.NewManager(cfg)
	if err := dbManager.ConnectSource(ctx); err != nil {
		return err
	}
	defer func() { _ = dbManager.Close() }()

	var err error
	dbManager.Checkpoint, err = database.OpenSQLiteFile(ctx, cfg.Checkpoint.Path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	checkpoints, err := checkpoint.NewStore(dbManager.Checkpoint, nil)
	if err != nil {
		return err
	}
	if err := checkpoints.InitializeTables(ctx); err != nil {
		return err
	}
	last, err := checkpoints.LastEventID(ctx, cfg.Checkpoint.SystemType)
	if err != nil {
		return err
	}

	src, err := source.NewClient(dbManager.Source, dbManager.Dialect, cfg.Source.Schema, nil)
	if err != nil {
		return err
	}
	tr, err := tracker.NewTracker(src, cfg.Processing.CorpTypes, nil)
	if err != nil {
		return err
	}
	maxID, err := tr.MaxEventID(ctx)
	if err != nil {
		return err
	}
	max := last
	if maxID != nil {
		max = *maxID
	}
	est, err := tr.Estimate(ctx, last, max, cfg.Processing.BatchSize, cfg.Processing.MaxCorps)
	if err != nil {
		return err
	}

	fmt.Fprintln(outputWriter)
	printSection("Next Run Estimate")
	printKV([][2]string{
		{"Window", fmt.Sprintf("(%d, %d]", est.LastEventID, est.MaxEventID)},
		{"Events", strconv.FormatInt(est.Events, 10)},
		{"Corporations", strconv.Itoa(est.Corps)},
		{"Batches", strconv.Itoa(est.Batches)},
	})
	return nil
}
