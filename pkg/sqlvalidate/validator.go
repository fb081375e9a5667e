// Package sqlvalidate implements C5: a strict, regex-only, reject-by-default
// SELECT dialect validator. There is no AST here by design (spec.md §9) —
// upgrading to a real parser is a later decision; this package instead
// documents its rejection set as a table of named patterns, in the style of
// buckley's pkg/security input-validation pattern table, so that any
// accepted-but-dangerous form discovered later has an obvious place to add a
// new rule.
package sqlvalidate

import (
	"regexp"
	"strings"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

var (
	selectPrefix = regexp.MustCompile(`(?i)^select\s+`)

	// forbiddenKeywords rejects any statement that reaches beyond a single
	// read-only SELECT: CTEs, set operations, pagination that enables
	// blind enumeration, and every write/DDL/DCL verb.
	forbiddenKeywords = regexp.MustCompile(`(?i)\b(WITH|UNION|EXCEPT|INTERSECT|OFFSET|INTO|EXEC|EXECUTE|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|COPY)\b`)
	forUpdateOrShare  = regexp.MustCompile(`(?i)\bFOR\s+(UPDATE|SHARE)\b`)

	controlChar = regexp.MustCompile(`[\x00-\x1F]`)

	fromJoinKeyword = regexp.MustCompile(`(?i)\b(FROM|JOIN)\b`)
	qualifiedTable  = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)(?:\s+(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*))?`)

	orderByKeyword = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	limitKeyword   = regexp.MustCompile(`(?i)\bLIMIT\b`)

	// sortKey matches exactly qualifier.column or schema.table.column with
	// an optional ASC/DESC — nothing else. Numeric positions, bare
	// columns, expressions, parentheses, collations, and NULLS
	// FIRST/LAST all fail to match this pattern and are rejected for free.
	sortKey = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)(?:\.([A-Za-z_][A-Za-z0-9_]*))?(?:\s+(ASC|DESC))?$`)
)

// rejectedToken is one entry of the §4.5 step 3 literal-token denylist.
var rejectedTokens = []string{";", "--", "/*", "*/", "#"}

// Table is one extracted, schema-qualified table reference.
type Table struct {
	Schema string
	Name   string
}

// Qualified returns "schema.table".
func (t Table) Qualified() string { return t.Schema + "." + t.Name }

// Result is the outcome of Validate on an accepted query.
type Result struct {
	Tables []Table
}

// Validate runs the spec.md §4.5 rejection pipeline against q. orderByAllow
// is the closed set of fully-qualified "schema.table.column" references the
// caller permits in an ORDER BY clause; a nil/empty set makes any ORDER BY
// an automatic rejection, per spec.md §4.5 step 7.
func Validate(q string, orderByAllow map[string]struct{}) (Result, error) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return Result{}, dberrors.New(dberrors.ErrQueryRejected, "empty query")
	}

	if !selectPrefix.MatchString(trimmed) {
		return Result{}, dberrors.New(dberrors.ErrQueryRejected, "query must begin with SELECT")
	}

	for _, tok := range rejectedTokens {
		if strings.Contains(trimmed, tok) {
			return Result{}, dberrors.New(dberrors.ErrQueryRejected, "query contains a disallowed token")
		}
	}
	if controlChar.MatchString(trimmed) {
		return Result{}, dberrors.New(dberrors.ErrQueryRejected, "query contains a control character")
	}

	if forbiddenKeywords.MatchString(trimmed) {
		return Result{}, dberrors.New(dberrors.ErrQueryRejected, "query contains a disallowed keyword")
	}
	if forUpdateOrShare.MatchString(trimmed) {
		return Result{}, dberrors.New(dberrors.ErrQueryRejected, "query contains a disallowed locking clause")
	}

	tables, aliasMap, err := extractTables(trimmed)
	if err != nil {
		return Result{}, err
	}
	if len(tables) == 0 {
		return Result{}, dberrors.New(dberrors.ErrInvalidQuery, "no tables could be extracted from the query")
	}

	if err := validateOrderBy(trimmed, aliasMap, orderByAllow); err != nil {
		return Result{}, err
	}

	return Result{Tables: tables}, nil
}

// extractTables walks every FROM/JOIN occurrence, requiring a schema-
// qualified reference immediately after the keyword and rejecting an
// implicit cross join (a bare comma immediately following the reference).
func extractTables(q string) ([]Table, map[string]Table, error) {
	locs := fromJoinKeyword.FindAllStringIndex(q, -1)
	tables := make([]Table, 0, len(locs))
	aliasMap := make(map[string]Table, len(locs))

	for _, loc := range locs {
		rest := q[loc[1]:]
		trimmedRest := strings.TrimLeft(rest, " \t\r\n")

		m := qualifiedTable.FindStringSubmatchIndex(trimmedRest)
		if m == nil {
			return nil, nil, dberrors.New(dberrors.ErrQueryRejected, "unqualified table reference")
		}
		schema := trimmedRest[m[2]:m[3]]
		name := trimmedRest[m[4]:m[5]]
		var alias string
		end := m[1]
		if m[6] != -1 {
			alias = trimmedRest[m[6]:m[7]]
			// A clause keyword directly after the table is not an alias.
			switch strings.ToUpper(alias) {
			case "WHERE", "ORDER", "GROUP", "HAVING", "LIMIT", "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "CROSS", "NATURAL", "ON", "USING":
				alias = ""
				end = m[5]
			}
		}

		tbl := Table{Schema: schema, Name: name}
		tables = append(tables, tbl)
		if alias != "" {
			aliasMap[strings.ToLower(alias)] = tbl
		} else {
			// Bare table name is also a valid ORDER BY qualifier when no
			// alias was given, as long as it stays unambiguous.
			key := strings.ToLower(name)
			if existing, ok := aliasMap[key]; ok && existing != tbl {
				delete(aliasMap, key) // ambiguous: two tables share this bare name
			} else {
				aliasMap[key] = tbl
			}
		}

		after := trimmedRest[end:]
		if strings.HasPrefix(strings.TrimLeft(after, " \t\r\n"), ",") {
			return nil, nil, dberrors.New(dberrors.ErrQueryRejected, "implicit cross join via comma is not permitted")
		}
	}

	return tables, aliasMap, nil
}

func validateOrderBy(q string, aliasMap map[string]Table, allow map[string]struct{}) error {
	matches := orderByKeyword.FindAllStringIndex(q, -1)
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		return dberrors.New(dberrors.ErrQueryRejected, "more than one ORDER BY clause")
	}
	if len(allow) == 0 {
		return dberrors.New(dberrors.ErrQueryRejected, "ORDER BY is not permitted without an allowlist")
	}

	clauseStart := matches[0][1]
	clause := q[clauseStart:]
	if lm := limitKeyword.FindStringIndex(clause); lm != nil {
		clause = clause[:lm[0]]
	}
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return dberrors.New(dberrors.ErrQueryRejected, "empty ORDER BY clause")
	}

	keys := strings.Split(clause, ",")
	if len(keys) > 2 {
		return dberrors.New(dberrors.ErrQueryRejected, "ORDER BY permits at most two sort keys")
	}

	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		m := sortKey.FindStringSubmatch(key)
		if m == nil {
			return dberrors.New(dberrors.ErrQueryRejected, "malformed ORDER BY sort key")
		}

		var qualified string
		if m[3] != "" {
			// schema.table.column form: qualifier must name an extracted table.
			schema, table, column := m[1], m[2], m[3]
			found := false
			for _, t := range aliasMap {
				if t.Schema == schema && t.Name == table {
					found = true
					break
				}
			}
			if !found {
				return dberrors.New(dberrors.ErrQueryRejected, "ORDER BY references a table not present in FROM/JOIN")
			}
			qualified = schema + "." + table + "." + column
		} else {
			// qualifier.column form: resolve qualifier via the alias map.
			qualifier, column := strings.ToLower(m[1]), m[2]
			tbl, ok := aliasMap[qualifier]
			if !ok {
				return dberrors.New(dberrors.ErrQueryRejected, "ORDER BY qualifier does not resolve unambiguously")
			}
			qualified = tbl.Schema + "." + tbl.Name + "." + column
		}

		if _, ok := allow[qualified]; !ok {
			return dberrors.New(dberrors.ErrQueryRejected, "ORDER BY column is not in the allowlist")
		}
	}

	return nil
}
