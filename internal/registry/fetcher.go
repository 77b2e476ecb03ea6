// Package registry assembles the denormalized record graph of a corporation
// from the registry source: its names, offices, state, jurisdiction and type,
// and the firms registered as doing business under it.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbsmedya/regstage/internal/cache"
	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/types"
)

// maxRelatedDepth bounds how far party corporations are expanded. A party's
// corporation is assembled without its own parties.
const maxRelatedDepth = 1

// Name type groups, in output order.
var (
	legalNameTypes      = []string{"CO", "NB"}
	assumedNameTypes    = []string{"AS"}
	translatedNameTypes = []string{"TR", "NO"}

	allNameTypes = []string{"CO", "NB", "AS", "TR", "NO"}
)

// officeTypes are the registered, head and records offices.
var officeTypes = []string{"RG", "HD", "FO"}

// partyType is the firm-business-owner relation: the party's corporation is
// a firm doing business as the corporation being assembled.
const partyType = "FBO"

var basicColumns = []string{
	"corp_num", "corp_typ_cd", "recognition_dts", "last_ar_filed_dt",
	"bn_9", "bn_15", "admin_email", "last_ledger_dt",
}

var partyColumns = []string{
	"corp_num", "corp_party_id", "mailing_addr_id", "delivery_addr_id", "party_typ_cd",
	"start_event_id", "end_event_id", "cessation_dt", "last_nme", "middle_nme", "first_nme",
	"business_nme", "bus_company_num", "email_address", "corp_party_seq_num",
	"office_notification_dt", "phone", "reason_typ_cd",
}

// Fetcher assembles corporations. Repeated event, filing, address, type and
// name reads are served from its cache.
type Fetcher struct {
	src    *source.Client
	cache  *cache.Cache
	logger *logger.Logger
}

// NewFetcher creates a fetcher over a source client and a run's cache.
func NewFetcher(src *source.Client, c *cache.Cache, log *logger.Logger) (*Fetcher, error) {
	if src == nil {
		return nil, fmt.Errorf("source client is nil")
	}
	if c == nil {
		return nil, fmt.Errorf("cache is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Fetcher{src: src, cache: c, logger: log}, nil
}

// Cache returns the fetcher's record cache.
func (f *Fetcher) Cache() *cache.Cache {
	return f.cache
}

// CorpInfo assembles a corporation with its open FBO parties. Each party
// carries the basic information of its own corporation. eventID is the last
// event of the corporation's processing window.
//
// A corporation with no base row fails with ErrNotFound. Any source failure
// aborts the whole corporation.
func (f *Fetcher) CorpInfo(ctx context.Context, corpNum string, eventID int64) (*types.Record, error) {
	return f.corpInfo(ctx, corpNum, eventID, 0)
}

// BasicCorpInfo assembles a corporation without its parties.
func (f *Fetcher) BasicCorpInfo(ctx context.Context, corpNum string, eventID int64) (*types.Record, error) {
	return f.corpInfo(ctx, corpNum, eventID, maxRelatedDepth)
}

func (f *Fetcher) corpInfo(ctx context.Context, corpNum string, eventID int64, depth int) (*types.Record, error) {
	log := f.logger.WithCorp(corpNum)

	corp, err := f.basicCorpInfo(ctx, corpNum)
	if err != nil {
		if isNotFound(err) {
			log.Warnw("corporation has no base row", "event_id", eventID, "depth", depth)
		} else {
			log.Errorw("failed to assemble corporation", "event_id", eventID, "depth", depth, "error", err)
		}
		return nil, err
	}
	if depth >= maxRelatedDepth {
		return corp, nil
	}

	parties, err := f.parties(ctx, corpNum, eventID, depth)
	if err != nil {
		log.Errorw("failed to assemble parties", "event_id", eventID, "error", err)
		return nil, err
	}
	corp.Set("parties", types.ListValue(parties))

	log.Debugf("Assembled corporation with %d parties", len(parties))
	return corp, nil
}

func (f *Fetcher) basicCorpInfo(ctx context.Context, corpNum string) (*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConnectionFailure, err)
	}

	args := f.src.NewArgs()
	q := "SELECT " + strings.Join(basicColumns, ", ") + " FROM " + f.src.Table("corporation") +
		" WHERE corp_num = " + args.Add(corpNum)
	row, err := f.src.QueryOne(ctx, q, args.Values()...)
	if err != nil {
		return nil, err
	}
	if row.IsEmpty() {
		return nil, fmt.Errorf("%w: corporation %s", types.ErrNotFound, corpNum)
	}

	jurisdiction, err := f.jurisdiction(ctx, corpNum)
	if err != nil {
		return nil, err
	}
	corpType, err := f.corpType(ctx, row.Get("corp_typ_cd"))
	if err != nil {
		return nil, err
	}

	corp := types.NewRecord().
		Set("corp_num", row.Get("corp_num")).
		Set("jurisdiction", types.RecordValue(jurisdiction)).
		Set("corp_typ_cd", row.Get("corp_typ_cd")).
		Set("corp_type", types.RecordValue(corpType))
	for _, col := range basicColumns[2:] {
		corp.Set(col, row.Get(col))
	}

	for _, group := range []struct {
		key   string
		types []string
	}{
		{"org_names", legalNameTypes},
		{"org_name_assumed", assumedNameTypes},
		{"org_name_trans", translatedNameTypes},
	} {
		names, err := f.names(ctx, corpNum, group.types)
		if err != nil {
			return nil, err
		}
		corp.Set(group.key, types.ListValue(names))
	}

	offices, err := f.offices(ctx, corpNum)
	if err != nil {
		return nil, err
	}
	corp.Set("office", types.ListValue(offices))

	state, err := f.currentState(ctx, corpNum)
	if err != nil {
		return nil, err
	}
	corp.Set("corp_state", types.RecordValue(state))

	stateDate, err := f.stateDate(ctx, corp, state)
	if err != nil {
		return nil, err
	}
	corp.Set("corp_state_dt", stateDate)

	tilma, err := f.tilmaInvolved(ctx, corpNum)
	if err != nil {
		return nil, err
	}
	corp.Set("tilma_involved", types.RecordValue(tilma))

	return corp, nil
}

// offices returns the open registered, head and records offices, each with
// its delivery address, its mailing address when that is a different
// address, and its start event and filing.
func (f *Fetcher) offices(ctx context.Context, corpNum string) ([]*types.Record, error) {
	args := f.src.NewArgs()
	q := "SELECT * FROM " + f.src.Table("office") +
		" WHERE corp_num = " + args.Add(corpNum) + " AND " + args.In("office_typ_cd", toArgs(officeTypes)) +
		" AND end_event_id IS NULL ORDER BY start_event_id, office_typ_cd"
	rows, err := f.src.QueryRecords(ctx, q, args.Values()...)
	if err != nil {
		return nil, err
	}

	offices := make([]*types.Record, 0, len(rows))
	for _, office := range rows {
		deliveryID := office.Get("delivery_addr_id")
		delivery, err := f.address(ctx, deliveryID)
		if err != nil {
			return nil, err
		}
		office.Set("delivery_addr", types.RecordValue(delivery))

		if mailingID, ok := office.Lookup("mailing_addr_id"); ok && !sameID(mailingID, deliveryID) {
			mailing, err := f.address(ctx, mailingID)
			if err != nil {
				return nil, err
			}
			office.Set("mailing_addr", types.RecordValue(mailing))
		}

		if err := f.attachStart(ctx, corpNum, office); err != nil {
			return nil, err
		}
		offices = append(offices, office)
	}
	return offices, nil
}

// attachStart appends start_event and start_filing_event to rec.
func (f *Fetcher) attachStart(ctx context.Context, corpNum string, rec *types.Record) error {
	startID := rec.Get("start_event_id")
	event, err := f.event(ctx, corpNum, startID)
	if err != nil {
		return err
	}
	filing, err := f.filing(ctx, startID)
	if err != nil {
		return err
	}
	rec.Set("start_event", types.RecordValue(event))
	rec.Set("start_filing_event", types.RecordValue(filing))
	return nil
}

// parties returns the open FBO parties naming corpNum as their business
// company. Each party's own corporation is assembled one level down.
func (f *Fetcher) parties(ctx context.Context, corpNum string, eventID int64, depth int) ([]*types.Record, error) {
	args := f.src.NewArgs()
	q := "SELECT " + strings.Join(partyColumns, ", ") + " FROM " + f.src.Table("corp_party") +
		" WHERE bus_company_num = " + args.Add(corpNum) + " AND party_typ_cd = " + args.Add(partyType) +
		" AND end_event_id IS NULL ORDER BY corp_party_id"
	rows, err := f.src.QueryRecords(ctx, q, args.Values()...)
	if err != nil {
		return nil, err
	}

	parties := make([]*types.Record, 0, len(rows))
	for _, row := range rows {
		partyCorp := row.Text("corp_num")

		mailing, err := f.address(ctx, row.Get("mailing_addr_id"))
		if err != nil {
			return nil, err
		}
		delivery, err := f.address(ctx, row.Get("delivery_addr_id"))
		if err != nil {
			return nil, err
		}
		started, err := f.withStart(ctx, partyCorp, row)
		if err != nil {
			return nil, err
		}

		party := types.NewRecord()
		started.Each(func(name string, v types.Value) {
			party.Set(name, v)
			switch name {
			case "mailing_addr_id":
				party.Set("mailing_addr", types.RecordValue(mailing))
			case "delivery_addr_id":
				party.Set("delivery_addr", types.RecordValue(delivery))
			}
		})

		info, err := f.corpInfo(ctx, partyCorp, eventID, depth+1)
		switch {
		case err == nil:
		case isNotFound(err):
			info = types.NewRecord()
		default:
			return nil, err
		}
		party.Set("corp_info", types.RecordValue(info))

		parties = append(parties, party)
	}
	return parties, nil
}

// sameID compares two id columns by number when both are numeric.
func sameID(a, b types.Value) bool {
	if a.Equal(b) {
		return true
	}
	ai, aok := a.Int64()
	bi, bok := b.Int64()
	return aok && bok && ai == bi
}
