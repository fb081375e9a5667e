// SQLite adapter: the reference Adapter Contract implementation, grounded on
// buckley's pkg/storage/sqlite.go connection setup (WAL mode, busy_timeout,
// bounded pool) via the pure-Go modernc.org/sqlite driver — no cgo.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/odvcencio/dbgate/pkg/allowlist"
	"github.com/odvcencio/dbgate/pkg/audit"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/executor"
	"github.com/odvcencio/dbgate/pkg/permissions"
	"github.com/odvcencio/dbgate/pkg/session"
	"github.com/odvcencio/dbgate/pkg/sqlvalidate"
)

const adapterName = "sqlite"

// SQLite is the reference Adapter Contract implementation.
type SQLite struct {
	db           *sql.DB
	allowlist    *allowlist.Allowlist
	orderByAllow map[string]struct{}
	exec         *executor.Executor
	auditLogger  *audit.Logger
}

// Config configures the SQLite adapter's construction-time dependencies.
type Config struct {
	DSN          string
	Allowlist    *allowlist.Allowlist
	OrderByAllow map[string]struct{}
	AuditLogger  *audit.Logger
}

// NewSQLite opens the database and configures the pool the way buckley's
// storage layer does: WAL mode for concurrent readers, a bounded pool, and a
// busy timeout so lock contention waits rather than immediately failing.
func NewSQLite(cfg Config) (*SQLite, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, dberrors.Wrap(err, dberrors.ErrConnectionFailed, "could not open sqlite database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, dberrors.Wrap(err, dberrors.ErrConnectionFailed, fmt.Sprintf("could not apply %q", pragma))
		}
	}

	return &SQLite{
		db:           db,
		allowlist:    cfg.Allowlist,
		orderByAllow: cfg.OrderByAllow,
		exec:         executor.New(db, executor.DialectLimit),
		auditLogger:  cfg.AuditLogger,
	}, nil
}

// Connect is a no-op beyond a health check: sql.Open is lazy, the pool is
// already live from NewSQLite.
func (s *SQLite) Connect(ctx context.Context) error {
	return s.Health(ctx)
}

// Disconnect closes the underlying pool.
func (s *SQLite) Disconnect(ctx context.Context) error {
	return s.db.Close()
}

// Health pings the pool.
func (s *SQLite) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return dberrors.Wrap(err, dberrors.ErrConnectionFailed, "sqlite health check failed")
	}
	return nil
}

// Exec runs an administrative statement (schema migration, fixture setup)
// directly against the pool, bypassing C5/C6 entirely. It is not part of the
// Adapter contract and must never be reachable from a tool handler — callers
// outside this package use it only for startup migrations and test fixtures.
func (s *SQLite) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return dberrors.Wrap(err, dberrors.ErrExecutionError, "administrative statement failed")
	}
	return nil
}

func checkBrand(sess *session.Context) error {
	if sess == nil || !sess.IsBranded() || !sess.IsBound() {
		return dberrors.New(dberrors.ErrSessionContextInvalid, "session context is unbound or unbranded")
	}
	return nil
}

// ListTables implements the adapter's schema introspection tool. This is
// not user-supplied SQL, so it bypasses C5/C6 and is gated on the allowlist
// directly.
func (s *SQLite) ListTables(ctx context.Context, sess *session.Context, schema string) (ListTablesResult, error) {
	if err := checkBrand(sess); err != nil {
		return ListTablesResult{}, err
	}
	if schema != "" && !s.allowlist.IsSchemaAllowed(schema) {
		return ListTablesResult{}, dberrors.New(dberrors.ErrUnauthorizedTable, "schema not in allowlist")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return ListTablesResult{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "could not list tables")
	}
	defer rows.Close()

	const defaultSchema = "main"
	targetSchema := schema
	if targetSchema == "" {
		targetSchema = defaultSchema
	}

	var tables []TableRef
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return ListTablesResult{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "could not scan table name")
		}
		if !s.allowlist.IsTableAllowed(targetSchema, name) {
			continue
		}
		tables = append(tables, TableRef{Schema: targetSchema, Name: name})
	}
	return ListTablesResult{Tables: tables, Count: len(tables)}, nil
}

// DescribeTable implements the adapter's column-introspection tool.
func (s *SQLite) DescribeTable(ctx context.Context, sess *session.Context, schema, table string) (DescribeTableResult, error) {
	if err := checkBrand(sess); err != nil {
		return DescribeTableResult{}, err
	}
	if err := s.allowlist.EnforceTable(schema, table); err != nil {
		return DescribeTableResult{}, err
	}

	// table_info is a pragma, not a user-suppliable query; table has
	// already passed allowlist enforcement above so this identifier is
	// safe to interpolate into the pragma call (sqlite's PRAGMA syntax
	// does not support parameter binding for the table name).
	quoted := strings.ReplaceAll(table, `"`, `""`)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, quoted))
	if err != nil {
		return DescribeTableResult{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "could not describe table")
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultVal, &pk); err != nil {
			return DescribeTableResult{}, dberrors.Wrap(err, dberrors.ErrExecutionError, "could not scan column info")
		}
		cols = append(cols, Column{
			Name:         name,
			Type:         ctype,
			Nullable:     notNull == 0,
			Default:      defaultVal.String,
			IsPrimaryKey: pk > 0,
		})
	}
	if len(cols) == 0 {
		return DescribeTableResult{}, dberrors.New(dberrors.ErrObjectNotFound, "table not found")
	}

	return DescribeTableResult{Schema: schema, Table: table, Columns: cols, ColumnCount: len(cols)}, nil
}

// ExecuteQuery threads a caller-supplied SELECT through C5 -> C6 -> C7 -> C8
// in that order, per spec.md §4.11.
func (s *SQLite) ExecuteQuery(ctx context.Context, sess *session.Context, params QueryParams) (QueryResult, error) {
	if err := checkBrand(sess); err != nil {
		return QueryResult{}, err
	}

	validated, err := sqlvalidate.Validate(params.Query, s.orderByAllow)
	if err != nil {
		fp := s.auditLogger.ComputeFingerprint(params.Query)
		_ = s.auditLogger.LogQueryEvent(adapterName, fp, audit.ResultRejected, nil)
		return QueryResult{}, err
	}

	if err := permissions.Enforce(s.allowlist, validated.Tables); err != nil {
		fp := s.auditLogger.ComputeFingerprint(params.Query)
		_ = s.auditLogger.LogQueryEvent(adapterName, fp, audit.ResultRejected, nil)
		return QueryResult{}, err
	}

	fingerprint := s.auditLogger.ComputeFingerprint(params.Query)
	if err := s.auditLogger.LogQueryEvent(adapterName, fingerprint, audit.ResultValidated, nil); err != nil {
		return QueryResult{}, err
	}

	execResult, err := s.exec.Execute(ctx, executor.Request{
		Query:          params.Query,
		Params:         params.Params,
		RequestedLimit: params.RequestedLimit,
		RequestedMs:    params.RequestedMs,
	})
	if err != nil {
		// A failure here follows validation succeeding, so exactly one
		// execution_error event is emitted — never a second rejected event.
		_ = s.auditLogger.LogQueryEvent(adapterName, fingerprint, audit.ResultExecutionError, nil)
		return QueryResult{}, err
	}

	if err := s.auditLogger.LogQueryEvent(adapterName, fingerprint, audit.ResultSuccess, &execResult.ExecutionTimeMs); err != nil {
		// Fail-closed: the database succeeded but the success audit event
		// could not be emitted, so the result payload must not be delivered.
		return QueryResult{}, err
	}

	return QueryResult{
		Rows:     rowsToMaps(execResult.Fields, execResult.Rows),
		RowCount: execResult.RowCount,
		Fields:   toFields(execResult.Fields),
		Metadata: QueryMetadata{
			ExecutionTimeMs: execResult.ExecutionTimeMs,
			Truncated:       execResult.Truncated,
			AppliedLimit:    execResult.AppliedLimit,
			RequestedLimit:  params.RequestedLimit,
		},
	}, nil
}

func toFields(fields []executor.Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Type: f.Type}
	}
	return out
}

func rowsToMaps(fields []executor.Field, rows [][]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(fields))
		for j, f := range fields {
			if j < len(row) {
				m[f.Name] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

// sqliteFilePath extracts an on-disk path from a sqlite DSN, grounded on
// buckley's sqliteFilePathFromDSN helper. No code in dbgate calls it.
func sqliteFilePath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := strings.TrimSpace(u.Path)
		if path == "" || path == ":memory:" {
			return "", false
		}
		return path, true
	}
	return dsn, true
}
