package registry

import (
	"context"
	"errors"
	"sort"

	"github.com/dbsmedya/regstage/internal/types"
)

// Operating state codes.
const (
	opStateActive     = "ACT"
	opStateHistorical = "HIS"
	stateActive       = "ACT"
)

func (f *Fetcher) stateQuery(corpNum string, openOnly bool) (string, []interface{}) {
	args := f.src.NewArgs()
	q := `SELECT s.corp_num AS corp_num, s.start_event_id AS start_event_id, s.end_event_id AS end_event_id,
		s.state_typ_cd AS state_typ_cd, s.dd_corp_num AS dd_corp_num,
		o.op_state_typ_cd AS op_state_typ_cd, o.short_desc AS short_desc, o.full_desc AS full_desc
		FROM ` + f.src.Table("corp_state") + ` s
		JOIN ` + f.src.Table("corp_op_state") + ` o ON o.state_typ_cd = s.state_typ_cd
		WHERE s.corp_num = ` + args.Add(corpNum)
	if openOnly {
		q += " AND s.end_event_id IS NULL"
	} else {
		// states sharing an effective date keep the later start first
		q += " ORDER BY s.start_event_id DESC"
	}
	return q, args.Values()
}

// currentState returns the open state with its operating state, start event
// and start filing, or an empty record when the corporation has none.
func (f *Fetcher) currentState(ctx context.Context, corpNum string) (*types.Record, error) {
	q, args := f.stateQuery(corpNum, true)
	state, err := f.src.QueryOne(ctx, q, args...)
	if err != nil || state.IsEmpty() {
		return state, err
	}
	if err := f.attachStart(ctx, corpNum, state); err != nil {
		return nil, err
	}
	return state, nil
}

// stateDate is the date the corporation entered its current state.
//
// Without a current state it is the recognition date. A historical state, or
// the plain active state, dates from its start. Any other active-family state
// (a pending dissolution, say) dates from when the corporation last became
// active: see activeDate.
func (f *Fetcher) stateDate(ctx context.Context, corp, state *types.Record) (types.Value, error) {
	if state.IsEmpty() {
		return corp.Get("recognition_dts"), nil
	}
	if state.Text("op_state_typ_cd") == opStateHistorical || state.Text("state_typ_cd") == stateActive {
		return effectiveDate(state), nil
	}
	return f.activeDate(ctx, corp.Text("corp_num"))
}

// activeDate walks every state of the corporation, latest first, through the
// unbroken run of active states. The answer is the start of the earliest state
// in that run. The walk stops at the first non-active state; if it never
// meets one the earliest active date seen is returned, Null when there is
// none.
func (f *Fetcher) activeDate(ctx context.Context, corpNum string) (types.Value, error) {
	q, args := f.stateQuery(corpNum, false)
	states, err := f.src.QueryRecords(ctx, q, args...)
	if err != nil {
		return types.Null, err
	}

	type datedState struct {
		opState string
		date    types.Value
	}
	dated := make([]datedState, 0, len(states))
	for _, s := range states {
		if err := f.attachStart(ctx, corpNum, s); err != nil {
			return types.Null, err
		}
		dated = append(dated, datedState{opState: s.Text("op_state_typ_cd"), date: effectiveDate(s)})
	}

	sort.SliceStable(dated, func(i, j int) bool {
		return laterThan(dated[i].date, dated[j].date)
	})

	active := types.Null
	for _, s := range dated {
		if s.opState != opStateActive {
			return active, nil
		}
		active = s.date
	}
	return active, nil
}

// effectiveDate is the effective date of the filing that started rec, or the
// timestamp of its start event when there is no dated filing.
func effectiveDate(rec *types.Record) types.Value {
	if filing := rec.Nested("start_filing_event"); filing != nil {
		if v := filing.Get("effective_dt"); !v.IsNull() {
			return v
		}
	}
	if event := rec.Nested("start_event"); event != nil {
		return event.Get("event_timestmp")
	}
	return types.Null
}

// laterThan orders timestamps newest first; undated values sort last.
func laterThan(a, b types.Value) bool {
	at, aok := a.Timestamp()
	bt, bok := b.Timestamp()
	switch {
	case aok && bok:
		return at.After(bt)
	default:
		return aok && !bok
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
