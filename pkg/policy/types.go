// Package policy implements the mutation risk extension point spec.md §1
// gestures at and SPEC_FULL.md §4.2 designs: a second, independent gate
// consulted only for tools registered with Mutating == true. It never
// relaxes a capability or quota denial, only adds approval friction on
// top of an allow. Adapted from buckley's pkg/policy risk-scoring Engine,
// retargeted from file/shell categories to row-mutation categories.
package policy

import "time"

// Action is the decision a category rule or risk rule can produce.
type Action string

const (
	ActionApprove Action = "approve"
	ActionAuto    Action = "auto"
	ActionReject  Action = "reject"
)

// Category classifies a mutating tool call the way buckley classified
// file/shell calls, but over row-level DB mutations.
type Category string

const (
	CategoryRowInsert Category = "row_insert"
	CategoryRowUpdate Category = "row_update"
	CategoryRowDelete Category = "row_delete"
	CategoryUnknown   Category = "unknown"
)

// Condition is a named risk heuristic evaluated against a Call.
type Condition string

const (
	// ConditionTouchesPII fires when the call's target columns intersect
	// the policy's configured PII column set.
	ConditionTouchesPII Condition = "touches_pii_columns"
	// ConditionUnboundedPredicate fires when a row_update/row_delete call
	// reports no bounding predicate (would affect every row).
	ConditionUnboundedPredicate Condition = "unbounded_predicate"
	// ConditionOffHours fires outside the policy's configured active window.
	ConditionOffHours Condition = "off_hours"
	// ConditionBulkVolume fires when EstimatedRowCount exceeds the policy's
	// configured bulk threshold.
	ConditionBulkVolume Condition = "bulk_volume"
)

// CategoryRule is the base decision for a mutation category, absent any
// risk-rule override.
type CategoryRule struct {
	Action Action
}

// RiskRule scores a Condition and optionally forces approval outright.
type RiskRule struct {
	Condition Condition
	Score     int
	Action    Action
}

// TimeWindow gives the risk-score threshold in effect during Hours (a
// "HH:MM-HH:MM" range) or on the named Days, mirroring buckley's
// TimeWindow shape.
type TimeWindow struct {
	Hours     string
	Days      []string
	Timezone  string
	Threshold int
}

// Defaults are applied when no category or risk rule otherwise decides.
type Defaults struct {
	Action         Action
	ApprovalExpiry time.Duration
}

// Config is the full policy configuration.
type Config struct {
	Categories  map[Category]CategoryRule
	RiskRules   []RiskRule
	TimeWindows map[string]TimeWindow
	PIIColumns  map[string]struct{}
	BulkRowMax  int
	Defaults    Defaults
}

// Policy wraps a Config with identity, mirroring buckley's Policy record.
type Policy struct {
	Name   string
	Config Config
}

// Call is a single mutating tool invocation submitted for risk scoring.
type Call struct {
	ToolName          string
	Category          Category
	Columns           []string
	PredicateBounded  bool
	EstimatedRowCount int
	At                time.Time
}

// EvaluationResult is the outcome of scoring a Call.
type EvaluationResult struct {
	RequiresApproval bool
	RiskScore        int
	RiskReasons      []Condition
	MatchedRule      string
	Decision         Action
	ExpiresAt        time.Time
}
