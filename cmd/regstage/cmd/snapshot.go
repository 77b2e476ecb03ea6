package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/verifier"
)

var (
	snapshotCorps  []string
	snapshotSave   string
	snapshotVerify string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Stage every registry row a set of corporations touches",
	Long: `Snapshot copies the rows of the given corporations, the corporations
named by their business-as parties, and the code tables into the
in-memory stage, then reports what was copied.

Use --verify to re-read the source and compare it with the stage, and
--save to write the stage to a SQLite file for inspection.

Example:
  regstage snapshot --corp BC0000001 --verify sha256 --save bc0000001.db`,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringSliceVar(&snapshotCorps, "corp", nil,
		"Corporation numbers to snapshot (required)")
	_ = snapshotCmd.MarkFlagRequired("corp")
	snapshotCmd.Flags().StringVar(&snapshotSave, "save", "",
		"Write the stage to this SQLite file")
	snapshotCmd.Flags().StringVar(&snapshotVerify, "verify", "",
		"Compare the stage with the source: count, sha256 or skip (overrides stage.verify)")

	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if snapshotVerify != "" {
		cfg.Stage.Verify = snapshotVerify
	}
	method, err := verifier.ParseMethod(cfg.Stage.Verify)
	if err != nil {
		return err
	}

	ctx := database.SetupSignalHandlerWithCallback(func(sig os.Signal) {
		log.Warnw("Received shutdown signal", "signal", sig.String())
	})

	dbManager := database.NewManager(cfg)
	if err := dbManager.ConnectSource(ctx); err != nil {
		return err
	}
	defer func() { _ = dbManager.Close() }()

	dbManager.Stage, err = database.OpenStage(ctx, cfg.Stage.Name)
	if err != nil {
		return fmt.Errorf("failed to open stage database: %w", err)
	}

	src, err := source.NewClient(dbManager.Source, dbManager.Dialect, cfg.Source.Schema, log)
	if err != nil {
		return err
	}
	store, err := stage.NewStore(dbManager.Stage, log)
	if err != nil {
		return err
	}
	plan, err := stage.BuildDefaultPlan()
	if err != nil {
		return err
	}
	snapper, err := stage.NewSnapshotter(src, store, plan, cfg.Stage.BatchSize, log)
	if err != nil {
		return err
	}

	snap, err := snapper.Snapshot(ctx, snapshotCorps)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	printHeader("Snapshot: %d corporations", len(snapshotCorps))
	fmt.Fprintln(outputWriter)
	rows := make([][]string, 0, len(snap.Order))
	for i, table := range snap.Order {
		filter := "(whole table)"
		if n := plan.GetNode(table); n != nil && n.FilterColumn != "" {
			filter = n.FilterColumn
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			table,
			filter,
			strconv.FormatInt(snap.Stats.RowsPerTable[table], 10),
		})
	}
	printTable([]string{"#", "Table", "Filter", "Rows"}, rows)
	fmt.Fprintln(outputWriter)
	printKV([][2]string{
		{"Tables", strconv.Itoa(snap.Stats.Tables)},
		{"Rows", strconv.FormatInt(snap.Stats.Rows, 10)},
		{"Queries", strconv.Itoa(snap.Stats.Queries)},
		{"Duration", snap.Stats.Duration.String()},
	})

	if method != verifier.MethodSkip {
		v, err := verifier.NewVerifier(src, store, plan, method, log)
		if err != nil {
			return err
		}
		v.SetChunkSize(cfg.Stage.BatchSize)
		stats, verr := v.Verify(ctx, snap)
		if stats != nil {
			printVerifyStats(stats)
		}
		if verr != nil {
			return verr
		}
	}

	if snapshotSave != "" {
		if err := store.SaveTo(ctx, snapshotSave); err != nil {
			return err
		}
		fmt.Fprintf(outputWriter, "\nStage saved to %s\n", snapshotSave)
	}
	return nil
}

func printVerifyStats(stats *verifier.VerifyStats) {
	fmt.Fprintln(outputWriter)
	printSection(fmt.Sprintf("Verification (%s)", stats.Method))
	rows := make([][]string, 0, len(stats.Results))
	for _, r := range stats.Results {
		detail := ""
		if !r.Match {
			detail = r.ErrorMessage
		}
		rows = append(rows, []string{
			mark(r.Match),
			r.Table,
			strconv.FormatInt(r.SourceCount, 10),
			strconv.FormatInt(r.StageCount, 10),
			detail,
		})
	}
	printTable([]string{"", "Table", "Source", "Stage", ""}, rows)
}
