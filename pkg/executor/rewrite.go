package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

// Dialect selects how a validated query is rewritten to carry a
// server-enforced row cap (spec.md §4.7 step 2).
type Dialect int

const (
	// DialectLimit rewrites a trailing LIMIT clause (SQLite, Postgres, MySQL).
	DialectLimit Dialect = iota
	// DialectTop injects a leading TOP clause (SQL Server). No live driver
	// for this dialect ships in this repo, but the rewrite function itself
	// is exercised and tested here.
	DialectTop
)

var (
	trailingLimit = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\s*$`)
	leadingSelect = regexp.MustCompile(`(?i)^(\s*SELECT\s+)(DISTINCT\s+)?`)
	existingTop   = regexp.MustCompile(`(?i)^(\s*SELECT\s+)(DISTINCT\s+)?TOP\s+(\d+)\s+`)
)

// RewriteRowCap appends or clamps a server-enforced row cap onto an
// already-validated query. It must never alter any other token in the
// query — only the LIMIT/TOP clause itself is touched.
func RewriteRowCap(query string, dialect Dialect, cap int) (string, error) {
	switch dialect {
	case DialectLimit:
		return rewriteLimit(query, cap), nil
	case DialectTop:
		return rewriteTop(query, cap), nil
	default:
		return "", dberrors.New(dberrors.ErrInternal, "unknown row-cap dialect")
	}
}

func rewriteLimit(query string, cap int) string {
	if m := trailingLimit.FindStringSubmatchIndex(query); m != nil {
		existing, err := strconv.Atoi(query[m[2]:m[3]])
		if err == nil {
			n := existing
			if cap < n {
				n = cap
			}
			return query[:m[2]] + strconv.Itoa(n) + query[m[3]:]
		}
	}
	return strings.TrimRight(query, " \t\r\n") + fmt.Sprintf(" LIMIT %d", cap)
}

func rewriteTop(query string, cap int) string {
	if m := existingTop.FindStringSubmatchIndex(query); m != nil {
		existing, err := strconv.Atoi(query[m[6]:m[7]])
		if err == nil {
			n := existing
			if cap < n {
				n = cap
			}
			return query[:m[6]] + strconv.Itoa(n) + query[m[7]:]
		}
	}
	loc := leadingSelect.FindStringSubmatchIndex(query)
	if loc == nil {
		return query
	}
	insertAt := loc[1]
	return query[:insertAt] + fmt.Sprintf("TOP %d ", cap) + query[insertAt:]
}
