// Package adapter defines C11: the per-database Adapter Contract. Each
// adapter realizes listTables/describeTable/executeQuery against one
// backend, and is responsible for defensively re-checking the session
// context (bound + branded) at entry — defense in depth against a spoofed
// or stale context reaching this far, even though C9 already checked it.
package adapter

import (
	"context"

	"github.com/odvcencio/dbgate/pkg/session"
)

// TableRef identifies one table for listTables.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Column describes one column for describeTable.
type Column struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
}

// ListTablesResult is the listTables response shape from spec.md §6.
type ListTablesResult struct {
	Tables []TableRef `json:"tables"`
	Count  int        `json:"count"`
}

// DescribeTableResult is the describeTable response shape from spec.md §6.
type DescribeTableResult struct {
	Schema      string   `json:"schema"`
	Table       string   `json:"table"`
	Columns     []Column `json:"columns"`
	ColumnCount int      `json:"columnCount"`
}

// Field is one result column descriptor for query_read.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryMetadata is query_read's metadata block from spec.md §6.
type QueryMetadata struct {
	ExecutionTimeMs int  `json:"executionTimeMs"`
	Truncated       bool `json:"truncated"`
	AppliedLimit    int  `json:"appliedLimit"`
	RequestedLimit  int  `json:"requestedLimit"`
}

// QueryResult is the full query_read response shape from spec.md §6.
type QueryResult struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
	Fields   []Field          `json:"fields"`
	Metadata QueryMetadata    `json:"metadata"`
}

// QueryParams is what the query_read tool handler passes to the adapter.
type QueryParams struct {
	Query          string
	Params         []any
	RequestedLimit int
	RequestedMs    int
}

// Adapter is the per-database realization of the Adapter Contract.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Health(ctx context.Context) error

	ListTables(ctx context.Context, sess *session.Context, schema string) (ListTablesResult, error)
	DescribeTable(ctx context.Context, sess *session.Context, schema, table string) (DescribeTableResult, error)
	ExecuteQuery(ctx context.Context, sess *session.Context, params QueryParams) (QueryResult, error)
}
