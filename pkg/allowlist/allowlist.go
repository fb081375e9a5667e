// Package allowlist implements C4: the schema/table access list loaded once
// at startup and immutable thereafter.
package allowlist

import (
	"fmt"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

// Allowlist holds the allowed schema and schema.table sets.
type Allowlist struct {
	schemas map[string]struct{}
	tables  map[string]struct{} // key is "schema.table"
}

// New constructs an Allowlist from configuration-loaded slices. An empty
// schemas slice means default-deny: no schema, and therefore no table, is
// permitted.
func New(schemas, tables []string) *Allowlist {
	a := &Allowlist{
		schemas: make(map[string]struct{}, len(schemas)),
		tables:  make(map[string]struct{}, len(tables)),
	}
	for _, s := range schemas {
		a.schemas[s] = struct{}{}
	}
	for _, t := range tables {
		a.tables[t] = struct{}{}
	}
	return a
}

// IsSchemaAllowed reports whether schema is in the allowlist.
func (a *Allowlist) IsSchemaAllowed(schema string) bool {
	_, ok := a.schemas[schema]
	return ok
}

// IsTableAllowed reports whether schema.table may be accessed. When the
// table allowlist is empty, any table in an allowed schema is accepted
// (permit-by-schema, spec.md §9 Open Question (a)); when non-empty, an
// explicit schema.table entry is required.
func (a *Allowlist) IsTableAllowed(schema, table string) bool {
	if !a.IsSchemaAllowed(schema) {
		return false
	}
	if len(a.tables) == 0 {
		return true
	}
	_, ok := a.tables[qualify(schema, table)]
	return ok
}

// EnforceTable returns UNAUTHORIZED_TABLE when the table is not permitted.
func (a *Allowlist) EnforceTable(schema, table string) error {
	if !a.IsTableAllowed(schema, table) {
		return dberrors.New(dberrors.ErrUnauthorizedTable, "table not in allowlist").
			WithContext("qualified", qualify(schema, table))
	}
	return nil
}

func qualify(schema, table string) string {
	return fmt.Sprintf("%s.%s", schema, table)
}
