package executor

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := db.Exec(`INSERT INTO users (id, name) VALUES (?, ?)`, i, "user")
		require.NoError(t, err)
	}
	return db
}

func TestExecuteAppliesRowCapAndTruncates(t *testing.T) {
	db := setupTestDB(t)
	ex := New(db, DialectLimit)

	res, err := ex.Execute(context.Background(), Request{
		Query:          "SELECT id, name FROM users",
		RequestedLimit: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.AppliedLimit)
	require.Equal(t, 2, res.RowCount)
	require.True(t, res.Truncated)
}

func TestExecuteNoTruncationWhenUnderCap(t *testing.T) {
	db := setupTestDB(t)
	ex := New(db, DialectLimit)

	res, err := ex.Execute(context.Background(), Request{
		Query:          "SELECT id, name FROM users",
		RequestedLimit: 100,
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.RowCount)
	require.False(t, res.Truncated)
}

func TestExecuteNeverCommits(t *testing.T) {
	db := setupTestDB(t)
	ex := New(db, DialectLimit)

	_, err := ex.Execute(context.Background(), Request{Query: "SELECT id FROM users", RequestedLimit: 10})
	require.NoError(t, err)

	// The connection must be usable afterward with no lingering transaction
	// state — proof the mandatory rollback always ran.
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	require.Equal(t, 5, count)
}

func TestExecuteSurfacesExecutionError(t *testing.T) {
	db := setupTestDB(t)
	ex := New(db, DialectLimit)

	_, err := ex.Execute(context.Background(), Request{Query: "SELECT id FROM no_such_table", RequestedLimit: 10})
	require.Error(t, err)
}
