// Package executor implements C7: the safe-read executor. Every query that
// reaches a backend does so through here — a read-only transaction with a
// clamped row cap and statement timeout, mandatory rollback on every exit
// path, and post-truncation of the result set to the applied cap.
package executor

import (
	"context"
	"database/sql"
	"time"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/telemetry"
)

const (
	minRowCap     = 1
	maxRowCap     = 1000
	defaultRowCap = 100

	minTimeoutMs     = 1000
	maxTimeoutMs     = 60000
	defaultTimeoutMs = 30000
)

// ClampRowCap enforces spec.md §4.7 step 1's row-cap bound.
func ClampRowCap(requested int) int {
	if requested == 0 {
		return defaultRowCap
	}
	if requested < minRowCap {
		return minRowCap
	}
	if requested > maxRowCap {
		return maxRowCap
	}
	return requested
}

// ClampTimeoutMs enforces spec.md §4.7 step 1's timeout bound.
func ClampTimeoutMs(requestedMs int) int {
	if requestedMs <= 0 {
		return defaultTimeoutMs
	}
	if requestedMs < minTimeoutMs {
		return minTimeoutMs
	}
	if requestedMs > maxTimeoutMs {
		return maxTimeoutMs
	}
	return requestedMs
}

// Field describes one result column.
type Field struct {
	Name string
	Type string
}

// Request is one safe-read invocation.
type Request struct {
	Query          string
	Params         []any
	RequestedLimit int
	RequestedMs    int
}

// Result is what the executor hands back to its caller (the adapter), which
// in turn shapes the tool-level response.
type Result struct {
	Rows            [][]any
	Fields          []Field
	RowCount        int
	ExecutionTimeMs int
	Truncated       bool
	AppliedLimit    int
}

// Executor runs validated, already-rewritten-eligible queries against a
// bounded connection pool. It owns the row-cap rewrite, the read-only
// transaction, and the statement timeout; it never validates or authorizes —
// by the time a Request reaches here, C2-C6 have already run.
type Executor struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already-configured *sql.DB (pool sizing, WAL mode, and
// busy_timeout are the adapter's concern at construction time).
func New(db *sql.DB, dialect Dialect) *Executor {
	return &Executor{db: db, dialect: dialect}
}

// Execute runs req per spec.md §4.7 steps 1-7.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	appliedLimit := ClampRowCap(req.RequestedLimit)
	timeoutMs := ClampTimeoutMs(req.RequestedMs)

	// The rewrite asks for one row beyond the cap so the loop below can
	// tell a result that exactly fills the cap from one the cap truncated.
	rewritten, err := RewriteRowCap(req.Query, e.dialect, appliedLimit+1)
	if err != nil {
		return Result{}, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	tx, err := e.db.BeginTx(timeoutCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, dberrors.Wrap(err, dberrors.ErrConnectionFailed, "could not start read-only transaction")
	}
	// The transaction never commits, even on success: it performed no
	// writes, so rollback is always the correct terminal action (§4.7 step
	// 6-7), and it must run on every exit path including this deferred call.
	defer tx.Rollback()

	start := time.Now()
	rows, err := tx.QueryContext(timeoutCtx, rewritten, req.Params...)
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return Result{}, dberrors.Wrap(err, dberrors.ErrTimeout, "statement timeout exceeded")
		}
		return Result{}, mapDriverError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "could not read result columns")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return Result{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "could not read column types")
	}

	fields := make([]Field, len(cols))
	for i, c := range cols {
		typeName := ""
		if i < len(types) {
			typeName = types[i].DatabaseTypeName()
		}
		fields[i] = Field{Name: c, Type: typeName}
	}

	var result [][]any
	truncated := false
	for rows.Next() {
		if len(result) >= appliedLimit {
			truncated = true
			break
		}
		scanTargets := make([]any, len(cols))
		scanPtrs := make([]any, len(cols))
		for i := range scanTargets {
			scanPtrs[i] = &scanTargets[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return Result{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "row scan failed")
		}
		result = append(result, scanTargets)
	}
	if err := rows.Err(); err != nil {
		return Result{}, mapDriverError(err)
	}
	// Drain any remaining row to confirm the driver actually had more than
	// the cap, rather than inferring truncation from an off-by-one read.
	if !truncated && rows.Next() {
		truncated = true
	}

	elapsed := time.Since(start)
	roundedMs := int((elapsed.Milliseconds() + 5) / 10 * 10)
	telemetry.ObserveExecutorLatency(roundedMs)

	return Result{
		Rows:            result,
		Fields:          fields,
		RowCount:        len(result),
		ExecutionTimeMs: roundedMs,
		Truncated:       truncated,
		AppliedLimit:    appliedLimit,
	}, nil
}

func mapDriverError(err error) error {
	// Drivers vary in how they surface syntax/object errors; without a
	// concrete error-code table per driver this maps conservatively to the
	// generic execution-error code rather than guessing at SYNTAX_ERROR or
	// OBJECT_NOT_FOUND from a raw message (which would risk leaking driver
	// text into a user-visible field).
	return dberrors.Wrap(err, dberrors.ErrExecutionError, "query execution failed")
}
