package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/preflight"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/stage"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and check the registry source",
	Long: `Validate checks the configuration file, connects to every configured
database and confirms that each registry table the run reads exists.

Checks performed:
  - Configuration syntax and required fields
  - Source, stage and checkpoint connectivity
  - Presence of every registry and code table
  - Presence of every column a run reads
  - Indexes on the columns snapshots filter by

Example:
  regstage validate --config regstage.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		fmt.Fprintf(outputWriter, "%s Configuration: %v\n", mark(false), err)
		return err
	}
	defer func() { _ = log.Sync() }()
	fmt.Fprintf(outputWriter, "%s Configuration %s\n", mark(true), cfgFile)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dbManager := database.NewManager(cfg)
	if err := dbManager.Connect(ctx); err != nil {
		fmt.Fprintf(outputWriter, "%s Connections: %v\n", mark(false), err)
		return err
	}
	defer func() { _ = dbManager.Close() }()
	if err := dbManager.Ping(ctx); err != nil {
		fmt.Fprintf(outputWriter, "%s Connections: %v\n", mark(false), err)
		return err
	}
	fmt.Fprintf(outputWriter, "%s Connections (source %s)\n", mark(true), cfg.Source.Driver)

	src, err := source.NewClient(dbManager.Source, dbManager.Dialect, cfg.Source.Schema, log)
	if err != nil {
		return err
	}
	plan, err := stage.BuildDefaultPlan()
	if err != nil {
		return err
	}
	checker, err := preflight.NewChecker(src, plan, log)
	if err != nil {
		return err
	}
	reports, err := checker.Inspect(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(outputWriter)
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		index := "-"
		if r.FilterColumn != "" {
			index = r.FilterColumn
			if !r.Indexed {
				index += " (no index)"
			}
		}
		missing := strings.Join(r.MissingColumns, ", ")
		if !r.Exists {
			missing = "table not found"
		}
		rows = append(rows, []string{mark(r.Exists && len(r.MissingColumns) == 0), src.Table(r.Table), index, missing})
	}
	printTable([]string{"", "Table", "Filter index", "Missing"}, rows)

	if err := preflight.ValidateTablesExist(reports); err != nil {
		return err
	}
	if err := preflight.ValidateColumns(reports); err != nil {
		return err
	}
	fmt.Fprintln(outputWriter)
	fmt.Fprintf(outputWriter, "%s Validation complete\n", mark(true))
	return nil
}
