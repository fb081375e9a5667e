// Package permissions implements C6: the glue between the SQL validator's
// extracted table set and the schema/table allowlist.
package permissions

import (
	"github.com/odvcencio/dbgate/pkg/allowlist"
	"github.com/odvcencio/dbgate/pkg/sqlvalidate"
)

// Enforce checks every table the validator extracted against the allowlist,
// returning the first unauthorized reference's error (from
// allowlist.EnforceTable, already tagged UNAUTHORIZED_TABLE) or nil if every
// table is permitted.
func Enforce(list *allowlist.Allowlist, tables []sqlvalidate.Table) error {
	for _, t := range tables {
		if err := list.EnforceTable(t.Schema, t.Name); err != nil {
			return err
		}
	}
	return nil
}
