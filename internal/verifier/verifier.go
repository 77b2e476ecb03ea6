// Package verifier checks that a staged snapshot still matches the source.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dbsmedya/regstage/internal/graph"
	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/sqlutil"
	"github.com/dbsmedya/regstage/internal/stage"
	"github.com/dbsmedya/regstage/internal/types"
)

// ErrMismatch is returned when a staged table differs from the source.
var ErrMismatch = errors.New("stage does not match source")

// VerificationMethod defines how a staged table is compared with the source.
type VerificationMethod string

const (
	// MethodCount compares row counts
	MethodCount VerificationMethod = "count"
	// MethodSHA256 compares a hash over every row's values
	MethodSHA256 VerificationMethod = "sha256"
	// MethodSkip skips verification entirely
	MethodSkip VerificationMethod = "skip"
)

// ParseMethod maps a config value to a method. Empty means skip.
func ParseMethod(s string) (VerificationMethod, error) {
	switch m := VerificationMethod(strings.ToLower(s)); m {
	case "":
		return MethodSkip, nil
	case MethodCount, MethodSHA256, MethodSkip:
		return m, nil
	default:
		return "", fmt.Errorf("unknown verification method %q (use count, sha256 or skip)", s)
	}
}

// VerifyResult holds the comparison for one table.
type VerifyResult struct {
	Table        string
	Method       VerificationMethod
	SourceCount  int64
	StageCount   int64
	SourceHash   string
	StageHash    string
	Match        bool
	ErrorMessage string
}

// VerifyStats summarises a verification.
type VerifyStats struct {
	TablesVerified int
	TablesPassed   int
	TablesFailed   int
	TotalRows      int64
	Method         VerificationMethod
	Duration       time.Duration
	Results        []*VerifyResult
}

// Verifier re-reads the source rows a snapshot selected and compares them
// with what the stage holds.
type Verifier struct {
	src       *source.Client
	store     *stage.Store
	plan      *graph.Graph
	method    VerificationMethod
	chunkSize int
	logger    *logger.Logger
}

// NewVerifier creates a verifier. An empty method means MethodCount.
func NewVerifier(src *source.Client, store *stage.Store, plan *graph.Graph, method VerificationMethod, log *logger.Logger) (*Verifier, error) {
	if src == nil {
		return nil, fmt.Errorf("source client is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("stage store is nil")
	}
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if method == "" {
		method = MethodCount
	}

	return &Verifier{
		src:       src,
		store:     store,
		plan:      plan,
		method:    method,
		chunkSize: 1000,
		logger:    log,
	}, nil
}

// Verify compares every table of snap. The first mismatching table stops
// verification with an error wrapping ErrMismatch.
func (v *Verifier) Verify(ctx context.Context, snap *stage.Snapshot) (*VerifyStats, error) {
	if v.method == MethodSkip {
		v.logger.Debug("Verification skipped (method=skip)")
		return &VerifyStats{Method: MethodSkip}, nil
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot is nil")
	}

	start := time.Now()
	stats := &VerifyStats{Method: v.method}
	collected := snap.Collected(v.plan)

	for _, table := range snap.Order {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("verification interrupted: %w", err)
		}

		var result *VerifyResult
		var err error
		switch v.method {
		case MethodCount:
			result, err = v.verifyByCount(ctx, table, collected)
		case MethodSHA256:
			result, err = v.verifyBySHA256(ctx, table, collected)
		default:
			return stats, fmt.Errorf("unsupported verification method: %s", v.method)
		}
		if err != nil {
			return stats, fmt.Errorf("verification failed for table %s: %w", table, err)
		}

		stats.TablesVerified++
		stats.TotalRows += result.SourceCount
		stats.Results = append(stats.Results, result)

		if !result.Match {
			stats.TablesFailed++
			stats.Duration = time.Since(start)
			v.logger.WithTable(table).Errorf("Verification FAILED: %s", result.ErrorMessage)
			return stats, fmt.Errorf("%w: %s: %s", ErrMismatch, table, result.ErrorMessage)
		}
		stats.TablesPassed++
		v.logger.WithTable(table).Debugf("Verification passed (%d rows)", result.SourceCount)
	}

	stats.Duration = time.Since(start)
	v.logger.Infof("Verification complete (method=%s): %d tables, %d rows, duration: %s",
		v.method, stats.TablesVerified, stats.TotalRows, stats.Duration)
	return stats, nil
}

// verifyByCount compares the source row count under the snapshot's keys with
// the staged row count.
func (v *Verifier) verifyByCount(ctx context.Context, table string, collected map[string][]*types.Record) (*VerifyResult, error) {
	result := &VerifyResult{Table: table, Method: MethodCount}

	var err error
	result.SourceCount, err = v.sourceCount(ctx, table, collected)
	if err != nil {
		return nil, fmt.Errorf("failed to count source: %w", err)
	}
	result.StageCount, err = v.store.Count(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to count stage: %w", err)
	}

	result.Match = result.SourceCount == result.StageCount
	if !result.Match {
		result.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, stage=%d", result.SourceCount, result.StageCount)
	}
	return result, nil
}

// verifyBySHA256 hashes the source rows and the staged rows.
func (v *Verifier) verifyBySHA256(ctx context.Context, table string, collected map[string][]*types.Record) (*VerifyResult, error) {
	result := &VerifyResult{Table: table, Method: MethodSHA256}

	srcRows, err := v.sourceRows(ctx, table, collected)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	stageRows, err := v.store.Rows(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage: %w", err)
	}

	result.SourceCount = int64(len(srcRows))
	result.StageCount = int64(len(stageRows))
	result.SourceHash = HashRecords(srcRows)
	result.StageHash = HashRecords(stageRows)

	result.Match = result.SourceCount == result.StageCount && result.SourceHash == result.StageHash
	if !result.Match {
		if result.SourceCount != result.StageCount {
			result.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, stage=%d", result.SourceCount, result.StageCount)
		} else {
			result.ErrorMessage = fmt.Sprintf("hash mismatch: source=%s, stage=%s", result.SourceHash[:16], result.StageHash[:16])
		}
	}
	return result, nil
}

// sourceCount counts the source rows the plan selects for table.
func (v *Verifier) sourceCount(ctx context.Context, table string, collected map[string][]*types.Record) (int64, error) {
	var total int64
	err := v.eachChunk(table, collected, func(where string, args []interface{}) error {
		n, err := v.src.QueryID(ctx, "SELECT COUNT(*) AS n FROM "+v.src.Table(table)+where, args...)
		if err != nil {
			return err
		}
		if n != nil {
			total += *n
		}
		return nil
	})
	return total, err
}

// sourceRows reads the source rows the plan selects for table.
func (v *Verifier) sourceRows(ctx context.Context, table string, collected map[string][]*types.Record) ([]*types.Record, error) {
	var all []*types.Record
	err := v.eachChunk(table, collected, func(where string, args []interface{}) error {
		rows, err := v.src.QueryRecords(ctx, "SELECT * FROM "+v.src.Table(table)+where, args...)
		if err != nil {
			return err
		}
		all = append(all, rows...)
		return nil
	})
	return all, err
}

// eachChunk calls fn with a WHERE clause per chunk of the table's filter
// keys, or once with no clause for a whole table. A filtered table with no
// keys selects nothing and fn is not called.
func (v *Verifier) eachChunk(table string, collected map[string][]*types.Record, fn func(where string, args []interface{}) error) error {
	node := v.plan.GetNode(table)
	if node == nil {
		return fmt.Errorf("%w: table %s is not in the plan", types.ErrNotFound, table)
	}
	if node.FilterColumn == "" {
		return fn("", nil)
	}

	filter, err := v.src.Dialect().QuoteSafe(node.FilterColumn)
	if err != nil {
		return err
	}
	for _, chunk := range sqlutil.Chunk(stage.CollectKeys(v.plan, table, collected), v.chunkSize) {
		args := v.src.NewArgs()
		where := " WHERE " + args.In(filter, chunk)
		if err := fn(where, args.Values()); err != nil {
			return err
		}
	}
	return nil
}

// HashRecords hashes records independent of row order and of how each side
// typed its numbers and timestamps.
func HashRecords(records []*types.Record) string {
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = serializeRecord(rec)
	}
	sort.Strings(lines)

	hasher := sha256.New()
	for _, line := range lines {
		hasher.Write([]byte(line))
		hasher.Write([]byte("\n"))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// serializeRecord renders col1=val1\x00col2=val2 with columns sorted.
func serializeRecord(rec *types.Record) string {
	cols := rec.Columns()
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + "=" + canonical(rec.Get(col))
	}
	return strings.Join(parts, "\x00")
}

// canonical tags each value with its class so text "6" and the number 6
// hash differently while integer and decimal 6 hash alike.
func canonical(v types.Value) string {
	switch v.Kind() {
	case types.KindNull:
		return "N"
	case types.KindInteger:
		i, _ := v.Integer()
		return "n:" + decimal.NewFromInt(i).String()
	case types.KindDecimal:
		d, _ := v.Decimal()
		return "n:" + d.String()
	case types.KindTimestamp:
		ts, _ := v.Timestamp()
		return "t:" + ts.UTC().Format(time.RFC3339Nano)
	default:
		return "s:" + v.String()
	}
}

// SetChunkSize sets how many keys one source query binds.
func (v *Verifier) SetChunkSize(size int) {
	if size > 0 {
		v.chunkSize = size
	}
}

// GetChunkSize returns the current chunk size.
func (v *Verifier) GetChunkSize() int {
	return v.chunkSize
}

// GetMethod returns the configured verification method.
func (v *Verifier) GetMethod() VerificationMethod {
	return v.method
}
