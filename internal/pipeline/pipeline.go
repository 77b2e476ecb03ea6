// Package pipeline runs one incremental pass over the registry event
// sequence: it finds the corporations with new events, assembles each one's
// graph and writes it out, then moves the checkpoint forward.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/regstage/internal/cache"
	"github.com/dbsmedya/regstage/internal/checkpoint"
	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/output"
	"github.com/dbsmedya/regstage/internal/registry"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/tracker"
	"github.com/dbsmedya/regstage/internal/types"
	"github.com/dbsmedya/regstage/internal/verifier"
)

// ErrCorpsFailed is returned when at least one corporation could not be
// assembled. The checkpoint stays put so the next run repeats the window.
var ErrCorpsFailed = errors.New("corporations failed")

// Options controls a run.
type Options struct {
	SystemType    string                      // checkpoint key
	BatchSize     int                         // corporations per cache generation
	MaxCorps      int                         // 0 means no limit
	CorpTypes     []string                    // tracked corporation types
	CorpNums      []string                    // reprocess only these; the checkpoint is not moved
	Snapshot      bool                        // stage raw rows per batch and prime the cache from them
	SnapshotBatch int                         // ids per IN list when snapshotting
	Verify        verifier.VerificationMethod // check each snapshot against the source
}

// Components are the collaborators a run needs.
type Components struct {
	Source      *source.Client
	Checkpoints *checkpoint.Store
	Output      *output.Writer
	Stage       *stage.Store // required when Options.Snapshot is set
}

// Result describes a finished run.
type Result struct {
	RunID        string
	SystemType   string
	LastEventID  int64
	MaxEventID   int64
	Corps        int
	Written      int
	Failed       int
	Batches      int
	Truncated    bool
	Advanced     bool
	SnapshotRows int64
	Verified     int // staged tables checked against the source
	Cache        cache.Stats
	StartedAt    time.Time
	Duration     time.Duration
}

// Pipeline coordinates the tracker, fetcher, stage and checkpoint store.
type Pipeline struct {
	opts        Options
	comps       Components
	tracker     *tracker.Tracker
	fetcher     *registry.Fetcher
	snapshotter *stage.Snapshotter
	verifier    *verifier.Verifier
	logger      *logger.Logger
}

// New validates opts and wires the run's components.
func New(opts Options, comps Components, log *logger.Logger) (*Pipeline, error) {
	if comps.Source == nil {
		return nil, fmt.Errorf("source client is nil")
	}
	if comps.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is nil")
	}
	if comps.Output == nil {
		return nil, fmt.Errorf("output writer is nil")
	}
	if opts.SystemType == "" {
		return nil, fmt.Errorf("system type is empty")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if log == nil {
		log = logger.NewNop()
	}

	tr, err := tracker.NewTracker(comps.Source, opts.CorpTypes, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	fetcher, err := registry.NewFetcher(comps.Source, cache.New(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	p := &Pipeline{opts: opts, comps: comps, tracker: tr, fetcher: fetcher, logger: log}

	if opts.Snapshot {
		if comps.Stage == nil {
			return nil, fmt.Errorf("snapshot enabled but no stage store")
		}
		plan, err := stage.BuildDefaultPlan()
		if err != nil {
			return nil, fmt.Errorf("failed to build snapshot plan: %w", err)
		}
		p.snapshotter, err = stage.NewSnapshotter(comps.Source, comps.Stage, plan, opts.SnapshotBatch, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create snapshotter: %w", err)
		}
		if opts.Verify != "" && opts.Verify != verifier.MethodSkip {
			p.verifier, err = verifier.NewVerifier(comps.Source, comps.Stage, plan, opts.Verify, log)
			if err != nil {
				return nil, fmt.Errorf("failed to create verifier: %w", err)
			}
			if opts.SnapshotBatch > 0 {
				p.verifier.SetChunkSize(opts.SnapshotBatch)
			}
		}
	}
	return p, nil
}

// Run processes the window (checkpoint, max event id].
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is nil")
	}

	runID := checkpoint.NewRunID()
	log := p.logger.WithRun(runID)
	result := &Result{RunID: runID, SystemType: p.opts.SystemType, StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		result.Cache = p.fetcher.Cache().Stats()
	}()

	if err := p.comps.Checkpoints.InitializeTables(ctx); err != nil {
		return nil, err
	}
	last, err := p.comps.Checkpoints.LastEventID(ctx, p.opts.SystemType)
	if err != nil {
		return nil, err
	}
	result.LastEventID = last

	maxID, err := p.tracker.MaxEventID(ctx)
	if err != nil {
		return nil, err
	}
	if maxID == nil {
		log.Info("Source has no events - nothing to do")
		return result, nil
	}
	result.MaxEventID = *maxID

	// named corporations are reprocessed wherever the checkpoint stands
	specific := len(p.opts.CorpNums) > 0
	if !specific && *maxID <= last {
		log.Infow("No new events", "last_event_id", last, "max_event_id", *maxID)
		return result, nil
	}
	var corps []string
	if specific {
		corps, err = p.tracker.SpecificCorps(ctx, p.opts.CorpNums)
	} else {
		corps, err = p.tracker.UnprocessedCorps(ctx, last, *maxID)
	}
	if err != nil {
		return nil, err
	}
	result.Truncated = p.opts.MaxCorps > 0 && len(corps) > p.opts.MaxCorps

	windows, err := p.tracker.EventWindows(ctx, corps, last, *maxID, p.opts.MaxCorps)
	if err != nil {
		return nil, err
	}
	result.Corps = len(windows)

	log.Infow("Starting run",
		"system_type", p.opts.SystemType,
		"last_event_id", last,
		"max_event_id", *maxID,
		"corps", len(windows),
		"batch_size", p.opts.BatchSize,
		"snapshot", p.opts.Snapshot,
		"verify", p.verifier != nil,
		"specific", specific,
	)

	if !specific {
		if err := p.comps.Checkpoints.BeginRun(ctx, p.opts.SystemType, runID); err != nil {
			return nil, err
		}
	}
	if err := p.comps.Checkpoints.LogPending(ctx, runID, p.opts.SystemType, entries(windows)); err != nil {
		return nil, p.fail(result, specific, err)
	}

	for start := 0; start < len(windows); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(windows) {
			end = len(windows)
		}
		result.Batches++
		if err := p.runBatch(ctx, log.WithBatch(result.Batches), runID, windows[start:end], *maxID, result); err != nil {
			return result, p.fail(result, specific, err)
		}
	}

	if result.Failed > 0 {
		return result, p.fail(result, specific, fmt.Errorf("%w: %d of %d", ErrCorpsFailed, result.Failed, result.Corps))
	}

	if !specific {
		// a truncated run leaves later corporations of the window unprocessed
		target := *maxID
		if result.Truncated {
			target = last
			log.Warnw("Run stopped at max_corps; checkpoint not advanced", "max_corps", p.opts.MaxCorps)
		}
		if err := p.comps.Checkpoints.Advance(ctx, p.opts.SystemType, target); err != nil {
			return result, err
		}
		result.Advanced = target > last
	}

	log.Infow("Run completed",
		"written", result.Written,
		"batches", result.Batches,
		"advanced", result.Advanced,
		"duration", time.Since(result.StartedAt),
	)
	return result, nil
}

// runBatch assembles one batch of corporations against a fresh cache.
func (p *Pipeline) runBatch(ctx context.Context, log *logger.Logger, runID string, windows []tracker.EventWindow, maxID int64, result *Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}

	p.fetcher.Cache().Clear()
	corpNums := make([]string, len(windows))
	for i, w := range windows {
		corpNums[i] = w.CorpNum
	}

	if p.snapshotter != nil {
		if err := p.comps.Stage.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset stage: %w", err)
		}
		snap, err := p.snapshotter.Snapshot(ctx, corpNums)
		if err != nil {
			return err
		}
		if p.verifier != nil {
			vs, err := p.verifier.Verify(ctx, snap)
			if err != nil {
				return err
			}
			result.Verified += vs.TablesVerified
		}
		p.fetcher.Prime(snap.Rows, corpNums)
		result.SnapshotRows += snap.Stats.Rows
	}

	log.Infof("Processing %d corporations", len(windows))
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}

		eventID := maxID
		if w.LastEventID != nil {
			eventID = *w.LastEventID
		}
		corp, err := p.fetcher.CorpInfo(ctx, w.CorpNum, eventID)
		if err != nil {
			if errors.Is(err, types.ErrConnectionFailure) {
				return err
			}
			result.Failed++
			if merr := p.comps.Checkpoints.MarkFailed(ctx, runID, w.CorpNum, err.Error()); merr != nil {
				return merr
			}
			continue
		}

		if err := p.comps.Output.Write(output.Entry{
			CorpNum:     w.CorpNum,
			PrevEventID: w.PrevEventID,
			LastEventID: w.LastEventID,
			CorpInfo:    corp,
		}); err != nil {
			return fmt.Errorf("failed to write %s: %w", w.CorpNum, err)
		}
		result.Written++
		if err := p.comps.Checkpoints.MarkCompleted(ctx, runID, w.CorpNum); err != nil {
			return err
		}
	}

	if err := p.comps.Output.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	stats := p.fetcher.Cache().Stats()
	log.Debugw("Batch done", "cache_hits", stats.Hits, "cache_misses", stats.Misses, "cache_entries", stats.Entries)
	return nil
}

// fail records a failed run and returns err. Specific-corp runs never
// touched the checkpoint, so there is nothing to mark.
func (p *Pipeline) fail(result *Result, specific bool, err error) error {
	p.logger.WithRun(result.RunID).Errorw("Run failed", "error", err, "written", result.Written, "failed", result.Failed)
	if specific {
		return err
	}
	// ctx may be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := p.comps.Checkpoints.Fail(ctx, p.opts.SystemType); ferr != nil {
		p.logger.Warnw("Failed to mark run failed", "error", ferr)
	}
	return err
}

func entries(windows []tracker.EventWindow) []checkpoint.Entry {
	out := make([]checkpoint.Entry, len(windows))
	for i, w := range windows {
		out[i] = checkpoint.Entry{CorpNum: w.CorpNum, PrevEventID: w.PrevEventID, LastEventID: w.LastEventID}
	}
	return out
}
