package tool

import (
	"context"
	"fmt"

	"github.com/odvcencio/dbgate/pkg/adapter"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/session"
)

func nonEmptyString(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected a string")
	}
	if s == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func optionalPositiveInt(value any) error {
	switch v := value.(type) {
	case int, int32, int64, float64:
		_ = v
		return nil
	default:
		return fmt.Errorf("expected a number")
	}
}

func asString(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func asInt(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func asAnySlice(input map[string]any, key string) []any {
	if v, ok := input[key].([]any); ok {
		return v
	}
	return nil
}

// RegisterBuiltins registers the three read-oriented database tools from
// spec.md §6 against reg.
func RegisterBuiltins(reg *Registry) error {
	if err := reg.Register(Descriptor{
		Name:        "list_tables",
		Description: "List tables visible under an allowed schema.",
		InputSchema: InputSchema{
			Validators: map[string]Validator{"schema": nonEmptyString},
		},
		Handler: func(ctx context.Context, sess *session.Context, db adapter.Adapter, input map[string]any) (any, error) {
			return db.ListTables(ctx, sess, asString(input, "schema"))
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Descriptor{
		Name:        "describe_table",
		Description: "Describe a table's columns.",
		InputSchema: InputSchema{
			Required:   []string{"schema", "table"},
			Validators: map[string]Validator{"schema": nonEmptyString, "table": nonEmptyString},
		},
		Handler: func(ctx context.Context, sess *session.Context, db adapter.Adapter, input map[string]any) (any, error) {
			return db.DescribeTable(ctx, sess, asString(input, "schema"), asString(input, "table"))
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Descriptor{
		Name:        "query_read",
		Description: "Execute a read-only SELECT against the database.",
		InputSchema: InputSchema{
			Required: []string{"query"},
			Validators: map[string]Validator{
				"query":   nonEmptyString,
				"limit":   optionalPositiveInt,
				"timeout": optionalPositiveInt,
			},
		},
		Handler: func(ctx context.Context, sess *session.Context, db adapter.Adapter, input map[string]any) (any, error) {
			return db.ExecuteQuery(ctx, sess, adapter.QueryParams{
				Query:          asString(input, "query"),
				Params:         asAnySlice(input, "params"),
				RequestedLimit: asInt(input, "limit"),
				RequestedMs:    asInt(input, "timeout"),
			})
		},
	}); err != nil {
		return err
	}

	return nil
}

// NotImplementedMutationHandler is a placeholder handler for registered
// mutating tools: it always denies, because write-path DDL/DML execution is
// an explicit Non-goal of the core. Registering a mutating descriptor with
// this handler still exercises the full extension point — the read-only
// gate at boundary step 3 and the pkg/policy risk gate both run before this
// handler is ever reached.
func NotImplementedMutationHandler(ctx context.Context, sess *session.Context, db adapter.Adapter, input map[string]any) (any, error) {
	return nil, dberrors.New(dberrors.ErrInternal, "mutation execution is not implemented by the core")
}
