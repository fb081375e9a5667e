package policy

import (
	"sort"
	"strings"
	"time"
)

// Engine evaluates mutating tool calls against the active policy. It is
// consulted by the gateway only for tool.Descriptor entries with
// Mutating == true, and its ActionReject/ActionApprove decisions never
// override a prior C2/C3 denial — they only add friction on top of an
// allow already granted by capability and quota checks.
type Engine struct {
	policy *Policy
}

// NewEngine constructs an Engine bound to policy. A nil policy falls back
// to DefaultPolicy at Evaluate time.
func NewEngine(policy *Policy) *Engine {
	return &Engine{policy: policy}
}

// Evaluate scores call against the active policy's category rule and risk
// rules, then resolves a Decision under the current time window's
// threshold.
func (e *Engine) Evaluate(call Call) EvaluationResult {
	policy := e.policy
	if policy == nil {
		policy = DefaultPolicy()
	}

	result := EvaluationResult{
		RiskReasons: []Condition{},
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}

	if call.Category == "" {
		call.Category = CategoryUnknown
	}

	categoryDecision := ActionAuto
	categoryMatched := false

	if catRule, ok := policy.Config.Categories[call.Category]; ok {
		categoryMatched = true
		categoryDecision = catRule.Action
		result.MatchedRule = "category:" + string(call.Category)

		if categoryDecision == ActionReject {
			result.Decision = ActionReject
			return result
		}
	}

	riskScore := 0
	for _, rule := range policy.Config.RiskRules {
		if matchesCondition(call, policy, rule.Condition) {
			riskScore += rule.Score
			result.RiskReasons = append(result.RiskReasons, rule.Condition)

			if rule.Action == ActionApprove {
				result.RequiresApproval = true
				result.MatchedRule = "risk_rule:" + string(rule.Condition)
			}
		}
	}
	result.RiskScore = riskScore

	threshold := thresholdForTime(policy.Config.TimeWindows, call.At)

	switch {
	case result.RequiresApproval:
		result.Decision = ActionApprove
	case threshold > 0 && riskScore >= threshold:
		result.RequiresApproval = true
		result.Decision = ActionApprove
		if result.MatchedRule == "" || strings.HasPrefix(result.MatchedRule, "category") {
			result.MatchedRule = "risk_threshold"
		}
	case categoryMatched && categoryDecision == ActionApprove:
		result.RequiresApproval = true
		result.Decision = ActionApprove
	default:
		result.Decision = ActionAuto
		if result.MatchedRule == "" {
			result.MatchedRule = "under_threshold"
		}
	}

	if policy.Config.Defaults.ApprovalExpiry > 0 {
		result.ExpiresAt = time.Now().Add(policy.Config.Defaults.ApprovalExpiry)
	}

	return result
}

// matchesCondition evaluates one named risk heuristic against call.
func matchesCondition(call Call, policy *Policy, condition Condition) bool {
	switch condition {
	case ConditionTouchesPII:
		for _, col := range call.Columns {
			if _, ok := policy.Config.PIIColumns[strings.ToLower(col)]; ok {
				return true
			}
		}
		return false

	case ConditionUnboundedPredicate:
		return (call.Category == CategoryRowUpdate || call.Category == CategoryRowDelete) && !call.PredicateBounded

	case ConditionOffHours:
		at := call.At
		if at.IsZero() {
			at = time.Now()
		}
		return !inActiveWindow(policy.Config.TimeWindows, at)

	case ConditionBulkVolume:
		return policy.Config.BulkRowMax > 0 && call.EstimatedRowCount > policy.Config.BulkRowMax
	}
	return false
}

// thresholdForTime returns the risk-score threshold in effect at at,
// checking day-of-week windows before hour-range windows, matching
// buckley's getThresholdForTime precedence.
func thresholdForTime(windows map[string]TimeWindow, at time.Time) int {
	if at.IsZero() {
		at = time.Now()
	}
	if len(windows) == 0 {
		return 50
	}

	names := make([]string, 0, len(windows))
	for name := range windows {
		names = append(names, name)
	}
	sort.Strings(names)

	dayName := strings.ToLower(at.Weekday().String())
	for _, name := range names {
		window := windows[name]
		for _, d := range window.Days {
			if strings.ToLower(d) == dayName {
				return window.Threshold
			}
		}
	}

	for _, name := range names {
		window := windows[name]
		if window.Hours == "" {
			continue
		}
		loc := time.Local
		if window.Timezone != "" {
			if l, err := time.LoadLocation(window.Timezone); err == nil {
				loc = l
			}
		}
		if inTimeRange(at.In(loc), window.Hours) {
			return window.Threshold
		}
	}

	return 50
}

// inActiveWindow reports whether at falls inside the window named "active".
// With no such window, or one with empty Hours, every time counts as active.
func inActiveWindow(windows map[string]TimeWindow, at time.Time) bool {
	window, ok := windows["active"]
	if !ok || window.Hours == "" {
		return true
	}
	loc := time.Local
	if window.Timezone != "" {
		if l, err := time.LoadLocation(window.Timezone); err == nil {
			loc = l
		}
	}
	return inTimeRange(at.In(loc), window.Hours)
}

// inTimeRange checks whether t falls within an "HH:MM-HH:MM" range,
// handling overnight ranges where start > end.
func inTimeRange(t time.Time, rangeStr string) bool {
	parts := strings.Split(rangeStr, "-")
	if len(parts) != 2 {
		return false
	}

	startHour, startMin, ok1 := parseHHMM(strings.TrimSpace(parts[0]))
	endHour, endMin, ok2 := parseHHMM(strings.TrimSpace(parts[1]))
	if !ok1 || !ok2 {
		return false
	}

	current := t.Hour()*60 + t.Minute()
	start := startHour*60 + startMin
	end := endHour*60 + endMin

	if start > end {
		return current >= start || current < end
	}
	return current >= start && current < end
}

func parseHHMM(s string) (hour, min int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return 0, 0, false
		}
		hour = hour*10 + int(c-'0')
	}
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return 0, 0, false
		}
		min = min*10 + int(c-'0')
	}
	return hour, min, true
}

// DefaultPolicy is the conservative default: inserts auto-approve,
// updates/deletes require approval, PII columns and unbounded predicates
// are scored heavily, and off-hours mutation activity is flagged.
func DefaultPolicy() *Policy {
	return &Policy{
		Name: "default",
		Config: Config{
			Categories: map[Category]CategoryRule{
				CategoryRowInsert: {Action: ActionAuto},
				CategoryRowUpdate: {Action: ActionApprove},
				CategoryRowDelete: {Action: ActionApprove},
			},
			RiskRules: []RiskRule{
				{Condition: ConditionTouchesPII, Score: 100, Action: ActionApprove},
				{Condition: ConditionUnboundedPredicate, Score: 100, Action: ActionApprove},
				{Condition: ConditionBulkVolume, Score: 40},
				{Condition: ConditionOffHours, Score: 30},
			},
			TimeWindows: map[string]TimeWindow{
				"active": {
					Hours:     "09:00-18:00",
					Threshold: 50,
				},
			},
			PIIColumns: map[string]struct{}{
				"ssn": {}, "email": {}, "phone": {}, "dob": {}, "password": {},
			},
			BulkRowMax: 1000,
			Defaults: Defaults{
				Action:         ActionAuto,
				ApprovalExpiry: 5 * time.Minute,
			},
		},
	}
}
