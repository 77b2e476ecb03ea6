package tracker

import (
	"context"
	"fmt"
)

// Estimate sizes the work a run would do over (LastEventID, MaxEventID].
type Estimate struct {
	LastEventID int64
	MaxEventID  int64
	Events      int64 // events of any corporation in the window
	Corps       int   // tracked corporations with events in the window
	Batches     int
	BatchSize   int
	MaxCorps    int // 0 means unlimited
}

// Estimate counts the events and corporations in (last, max] and the
// batches a run of batchSize corporations would take, capped at maxCorps.
func (t *Tracker) Estimate(ctx context.Context, last, max int64, batchSize, maxCorps int) (*Estimate, error) {
	est := &Estimate{LastEventID: last, MaxEventID: max, BatchSize: batchSize, MaxCorps: maxCorps}
	if max <= last {
		return est, nil
	}

	args := t.src.NewArgs()
	q := "SELECT COUNT(*) AS events FROM " + t.src.Table("event") +
		" WHERE event_id > " + args.Add(last) + " AND event_id <= " + args.Add(max)
	events, err := t.countRows(ctx, q, args.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	est.Events = events

	corps, err := t.UnprocessedCorps(ctx, last, max)
	if err != nil {
		return nil, err
	}
	est.Corps = len(corps)

	n := est.Corps
	if maxCorps > 0 && maxCorps < n {
		n = maxCorps
	}
	if n > 0 && batchSize > 0 {
		est.Batches = (n + batchSize - 1) / batchSize
	}
	return est, nil
}
