package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/regstage/internal/checkpoint"
	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/lock"
	"github.com/dbsmedya/regstage/internal/output"
	"github.com/dbsmedya/regstage/internal/pipeline"
	"github.com/dbsmedya/regstage/internal/preflight"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/verifier"
)

var (
	runCorps  []string
	runStaged bool
	runForce  bool
	runNoPre  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process corporations with events since the last checkpoint",
	Long: `Run reads the checkpoint for the configured system type, finds every
tracked corporation with events up to the current maximum event id, and
writes each assembled corporation as one JSON line.

The run proceeds in batches:
  1. Clear the record cache (and, with --snapshot, stage the batch's rows)
  2. Assemble each corporation and its business-as parties
  3. Write the JSON lines and flush
The checkpoint only advances once every corporation succeeded.

Example:
  regstage run --config regstage.yaml
  regstage run --corp BC0000001 --corp FM0000002 -o corps.jsonl`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runCorps, "corp", nil,
		"Reprocess only these corporation numbers (checkpoint is not moved)")
	runCmd.Flags().BoolVar(&runStaged, "snapshot", false,
		"Stage each batch's registry rows before assembling (overrides stage.snapshot)")
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"Run even if the advisory lock cannot be acquired (use with caution)")
	runCmd.Flags().BoolVar(&runNoPre, "skip-preflight", false,
		"Skip the source table and column checks")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if runStaged {
		cfg.Stage.Snapshot = true
	}

	ctx := database.SetupSignalHandlerWithCallback(func(sig os.Signal) {
		log.Warnw("Received shutdown signal - stopping after current corporation", "signal", sig.String())
	})

	dbManager := database.NewManager(cfg)
	if err := dbManager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to databases: %w", err)
	}
	defer func() { _ = dbManager.Close() }()

	if !runForce {
		runLock := lock.NewRunLock(dbManager.Source, dbManager.Dialect, cfg.Checkpoint.SystemType)
		if err := runLock.AcquireOrFail(ctx); err != nil {
			if errors.Is(err, lock.ErrLockTimeout) {
				return fmt.Errorf("a run for %q is already in progress (use --force to override)", cfg.Checkpoint.SystemType)
			}
			return fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer func() { _, _ = runLock.ReleaseLock(context.Background()) }()
		log.Infow("Acquired advisory lock", "lock", runLock.LockName())
	} else {
		log.Warnw("Skipping advisory lock acquisition (--force flag used)")
	}

	src, err := source.NewClient(dbManager.Source, dbManager.Dialect, cfg.Source.Schema, log)
	if err != nil {
		return err
	}
	if !runNoPre {
		plan, err := stage.BuildDefaultPlan()
		if err != nil {
			return err
		}
		checker, err := preflight.NewChecker(src, plan, log)
		if err != nil {
			return err
		}
		if err := checker.RunAllChecks(ctx); err != nil {
			return fmt.Errorf("preflight failed: %w", err)
		}
	}

	checkpoints, err := checkpoint.NewStore(dbManager.Checkpoint, log)
	if err != nil {
		return err
	}
	out, err := output.Open(cfg.Output.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warnw("Failed to close output", "error", err)
		}
	}()

	comps := pipeline.Components{Source: src, Checkpoints: checkpoints, Output: out}
	if cfg.Stage.Snapshot {
		comps.Stage, err = stage.NewStore(dbManager.Stage, log)
		if err != nil {
			return err
		}
	}

	method, err := verifier.ParseMethod(cfg.Stage.Verify)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		SystemType:    cfg.Checkpoint.SystemType,
		BatchSize:     cfg.Processing.BatchSize,
		MaxCorps:      cfg.Processing.MaxCorps,
		CorpTypes:     cfg.Processing.CorpTypes,
		CorpNums:      runCorps,
		Snapshot:      cfg.Stage.Snapshot,
		SnapshotBatch: cfg.Stage.BatchSize,
		Verify:        method,
	}, comps, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	result, runErr := p.Run(ctx)
	if result != nil {
		printRunSummary(result)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Run cancelled; checkpoint not advanced")
			return nil
		}
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func printRunSummary(r *pipeline.Result) {
	// keep stdout clean for JSON lines
	if outputWriter == os.Stdout && (outputPath == "" || outputPath == "stdout") {
		setOutputWriter(os.Stderr)
		defer resetOutputWriter()
	}
	fmt.Fprintln(outputWriter)
	printHeader("Run Complete")
	printKV([][2]string{
		{"Run", r.RunID},
		{"System type", r.SystemType},
		{"Window", fmt.Sprintf("(%d, %d]", r.LastEventID, r.MaxEventID)},
		{"Corporations", strconv.Itoa(r.Corps)},
		{"Written", strconv.Itoa(r.Written)},
		{"Failed", strconv.Itoa(r.Failed)},
		{"Batches", strconv.Itoa(r.Batches)},
		{"Snapshot rows", strconv.FormatInt(r.SnapshotRows, 10)},
		{"Tables verified", strconv.Itoa(r.Verified)},
		{"Cache hits/misses", fmt.Sprintf("%d/%d", r.Cache.Hits, r.Cache.Misses)},
		{"Checkpoint advanced", mark(r.Advanced)},
		{"Duration", r.Duration.String()},
	})
	if r.Truncated {
		fmt.Fprintln(outputWriter, "  Stopped at max_corps; rerun to continue the window.")
	}
}
