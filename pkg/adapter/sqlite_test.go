package adapter

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/dbgate/pkg/allowlist"
	"github.com/odvcencio/dbgate/pkg/audit"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/session"
)

func testLogger(t *testing.T) (*audit.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := audit.NewLogger([]byte(strings.Repeat("k", 32)), &buf)
	require.NoError(t, err)
	return logger, &buf
}

func newTestAdapter(t *testing.T, schemas, tables []string) *SQLite {
	t.Helper()
	logger, _ := testLogger(t)
	a, err := NewSQLite(Config{
		DSN:         ":memory:",
		Allowlist:   allowlist.New(schemas, tables),
		AuditLogger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Disconnect(context.Background()) })

	_, err = a.db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = a.db.Exec(`CREATE TABLE secrets (id INTEGER PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)
	_, err = a.db.Exec(`INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')`)
	require.NoError(t, err)
	return a
}

func boundSession(t *testing.T) *session.Context {
	t.Helper()
	sess, err := session.Bind("alice", "acme", "")
	require.NoError(t, err)
	return sess
}

// TestExecuteQueryHappyPath is spec.md S1.
func TestExecuteQueryHappyPath(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, nil)
	sess := boundSession(t)

	res, err := a.ExecuteQuery(context.Background(), sess, QueryParams{
		Query:          "SELECT id, name FROM main.users WHERE id = ?",
		Params:         []any{1},
		RequestedLimit: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 10, res.Metadata.AppliedLimit)
	require.False(t, res.Metadata.Truncated)
	require.Len(t, res.Rows, 1)
}

// TestExecuteQueryRejectsMultiStatement is spec.md S2.
func TestExecuteQueryRejectsMultiStatement(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, nil)
	sess := boundSession(t)

	_, err := a.ExecuteQuery(context.Background(), sess, QueryParams{
		Query: "SELECT 1; DROP TABLE main.users",
	})
	require.True(t, dberrors.IsCode(err, dberrors.ErrQueryRejected))
}

// TestExecuteQueryUnauthorizedTable is spec.md S3.
func TestExecuteQueryUnauthorizedTable(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, []string{"main.users"})
	sess := boundSession(t)

	_, err := a.ExecuteQuery(context.Background(), sess, QueryParams{
		Query: "SELECT * FROM main.secrets",
	})
	require.True(t, dberrors.IsCode(err, dberrors.ErrUnauthorizedTable))
}

// TestExecuteQueryRejectsOffset is spec.md S6.
func TestExecuteQueryRejectsOffset(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, nil)
	sess := boundSession(t)

	_, err := a.ExecuteQuery(context.Background(), sess, QueryParams{
		Query: "SELECT * FROM main.users LIMIT 10 OFFSET 1000000",
	})
	require.True(t, dberrors.IsCode(err, dberrors.ErrQueryRejected))
}

func TestExecuteQueryRejectsUnboundSession(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, nil)
	_, err := a.ExecuteQuery(context.Background(), &session.Context{}, QueryParams{Query: "SELECT * FROM main.users"})
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))
}

func TestListTablesFiltersByAllowlist(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, []string{"main.users"})
	sess := boundSession(t)

	res, err := a.ListTables(context.Background(), sess, "main")
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	require.Equal(t, "users", res.Tables[0].Name)
}

func TestDescribeTableReturnsColumns(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, []string{"main.users"})
	sess := boundSession(t)

	res, err := a.DescribeTable(context.Background(), sess, "main", "users")
	require.NoError(t, err)
	require.Equal(t, 2, res.ColumnCount)
}

func TestDescribeTableEnforcesAllowlist(t *testing.T) {
	a := newTestAdapter(t, []string{"main"}, []string{"main.users"})
	sess := boundSession(t)

	_, err := a.DescribeTable(context.Background(), sess, "main", "secrets")
	require.True(t, dberrors.IsCode(err, dberrors.ErrUnauthorizedTable))
}

func TestAuditFailureSuppressesResultPayload(t *testing.T) {
	logger, err := audit.NewLogger([]byte(strings.Repeat("k", 32)), audit.FailingSink(nil))
	require.NoError(t, err)
	a, err := NewSQLite(Config{DSN: ":memory:", Allowlist: allowlist.New([]string{"main"}, nil), AuditLogger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { a.Disconnect(context.Background()) })
	_, err = a.db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	sess := boundSession(t)
	_, err = a.ExecuteQuery(context.Background(), sess, QueryParams{Query: "SELECT id FROM main.users"})
	require.True(t, dberrors.IsCode(err, dberrors.ErrAuditFailure))
}
