// Package tracker finds the corporations with events in an event-id window.
//
// A run reads max(event_id) once and treats (last, max] as its window. The
// next run starts from this run's max, so consecutive runs partition the
// event sequence without gaps or overlap.
package tracker

import (
	"context"
	"fmt"

	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/source"
)

// DefaultCorpTypes are the registrable legal-entity types.
var DefaultCorpTypes = []string{"A", "LLC", "BC", "C", "CUL", "ULC"}

// EventWindow is the span of events a corporation has in a run's window.
// LastEventID is nil when the corporation has no event in the window.
type EventWindow struct {
	CorpNum     string
	PrevEventID int64
	LastEventID *int64
}

// Tracker queries the source event sequence.
type Tracker struct {
	src       *source.Client
	corpTypes []string
	logger    *logger.Logger
}

// NewTracker creates a tracker restricted to corpTypes. An empty list means
// DefaultCorpTypes.
func NewTracker(src *source.Client, corpTypes []string, log *logger.Logger) (*Tracker, error) {
	if src == nil {
		return nil, fmt.Errorf("source client is nil")
	}
	if len(corpTypes) == 0 {
		corpTypes = DefaultCorpTypes
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{src: src, corpTypes: corpTypes, logger: log}, nil
}

// MaxEventID returns the highest event id in the source, or nil when there
// are no events.
func (t *Tracker) MaxEventID(ctx context.Context) (*int64, error) {
	id, err := t.src.QueryID(ctx, "SELECT max(event_id) AS max_event_id FROM "+t.src.Table("event"))
	if err != nil {
		return nil, fmt.Errorf("failed to read max event id: %w", err)
	}
	return id, nil
}

// UnprocessedCorps returns, ordered by corp_num, the corporations of the
// tracked types with at least one event in (last, max].
func (t *Tracker) UnprocessedCorps(ctx context.Context, last, max int64) ([]string, error) {
	args := t.src.NewArgs()
	q := "SELECT DISTINCT corp_num FROM " + t.src.Table("event") +
		" WHERE event_id > " + args.Add(last) + " AND event_id <= " + args.Add(max) +
		" AND corp_num IN (SELECT corp_num FROM " + t.src.Table("corporation") +
		" WHERE " + args.In("corp_typ_cd", stringArgs(t.corpTypes)) + ")" +
		" ORDER BY corp_num"
	corps, err := t.corpNums(ctx, q, args.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed corporations: %w", err)
	}
	t.logger.Debugf("Found %d corporations with events in (%d, %d]", len(corps), last, max)
	return corps, nil
}

// SpecificCorps returns, ordered by corp_num, those of corpNums that have
// any event at all.
func (t *Tracker) SpecificCorps(ctx context.Context, corpNums []string) ([]string, error) {
	if len(corpNums) == 0 {
		return []string{}, nil
	}
	args := t.src.NewArgs()
	q := "SELECT DISTINCT corp_num FROM " + t.src.Table("event") +
		" WHERE " + args.In("corp_num", stringArgs(corpNums)) + " ORDER BY corp_num"
	corps, err := t.corpNums(ctx, q, args.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to look up corporations: %w", err)
	}
	return corps, nil
}

// EventWindow returns the last event of corpNum in (last, max].
func (t *Tracker) EventWindow(ctx context.Context, corpNum string, last, max int64) (EventWindow, error) {
	args := t.src.NewArgs()
	q := "SELECT max(event_id) AS last_event_id FROM " + t.src.Table("event") +
		" WHERE corp_num = " + args.Add(corpNum) +
		" AND event_id > " + args.Add(last) + " AND event_id <= " + args.Add(max)
	id, err := t.src.QueryID(ctx, q, args.Values()...)
	if err != nil {
		return EventWindow{}, fmt.Errorf("failed to read event window for %s: %w", corpNum, err)
	}
	return EventWindow{CorpNum: corpNum, PrevEventID: last, LastEventID: id}, nil
}

// EventWindows returns the window of each corporation in order. A positive
// limit stops after that many corporations.
func (t *Tracker) EventWindows(ctx context.Context, corpNums []string, last, max int64, limit int) ([]EventWindow, error) {
	n := len(corpNums)
	if limit > 0 && limit < n {
		n = limit
	}
	windows := make([]EventWindow, 0, n)
	for _, corp := range corpNums[:n] {
		w, err := t.EventWindow(ctx, corp, last, max)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func (t *Tracker) corpNums(ctx context.Context, q string, args []interface{}) ([]string, error) {
	rows, err := t.src.QueryRecords(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	corps := make([]string, 0, len(rows))
	for _, r := range rows {
		corps = append(corps, r.Get("corp_num").String())
	}
	return corps, nil
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// countRows runs a COUNT query.
func (t *Tracker) countRows(ctx context.Context, q string, args []interface{}) (int64, error) {
	n, err := t.src.QueryID(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}
