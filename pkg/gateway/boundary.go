// Package gateway implements C9: the Execution Boundary, the single
// pipeline every tool invocation must traverse (spec.md §4.9). It orders
// C1-C8 into eight strictly sequential steps; any early failure
// short-circuits with no adapter call and no handler invocation.
package gateway

import (
	"context"
	"time"

	"github.com/odvcencio/dbgate/pkg/adapter"
	"github.com/odvcencio/dbgate/pkg/capability"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/policy"
	"github.com/odvcencio/dbgate/pkg/quota"
	"github.com/odvcencio/dbgate/pkg/session"
	"github.com/odvcencio/dbgate/pkg/telemetry"
	"github.com/odvcencio/dbgate/pkg/tool"
)

// Request is the boundary's sole entry shape: {toolName, input,
// sessionContext, mode, meta} from spec.md §1.
type Request struct {
	ToolName string
	Input    map[string]any
	Session  *session.Context
	ReadOnly bool
}

// Response is the boundary's sole exit shape: {ok, value|error}.
type Response struct {
	OK    bool
	Value any
	Err   error
}

// Boundary wires the registry, capability evaluator, quota engine, mutation
// risk policy, and adapter into the canonical pipeline. Steps 1-5 touch
// none of these except the registry lookup and the in-memory capability and
// quota state — no adapter call and no handler invocation happens before
// step 7.
type Boundary struct {
	registry *tool.Registry
	quota    *quota.Engine
	policy   *policy.Engine
	db       adapter.Adapter
}

// New constructs a Boundary. policyEngine may be nil, in which case
// mutating tools are never gated by risk scoring (every mutating call is
// auto-approved once it clears authorization and quota); whether the write
// then happens is up to the tool's handler, and NotImplementedMutationHandler
// denies it.
func New(registry *tool.Registry, quotaEngine *quota.Engine, policyEngine *policy.Engine, db adapter.Adapter) *Boundary {
	return &Boundary{registry: registry, quota: quotaEngine, policy: policyEngine, db: db}
}

// Handle runs req through all eight steps of spec.md §4.9 in order.
func (b *Boundary) Handle(ctx context.Context, req Request) Response {
	// Step 1: session bound and branded.
	if !req.Session.IsBound() || !req.Session.IsBranded() {
		return b.fail(req.ToolName, dberrors.New(dberrors.ErrSessionContextInvalid, "session context is not bound and branded"))
	}

	// Step 2: tool lookup.
	descriptor, err := b.registry.Lookup(req.ToolName)
	if err != nil {
		return b.fail(req.ToolName, err)
	}

	// Step 3: read-only mode vs mutating tool.
	if req.ReadOnly && descriptor.Mutating {
		return b.fail(req.ToolName, dberrors.New(dberrors.ErrReadOnly, "mutating tool rejected under read-only mode").WithContext("tool", req.ToolName))
	}

	// Step 4: authorization. A session that never had capabilities attached
	// reaches the decision table with caps == nil rather than failing the
	// step outright: spec.md §4.2's row for "capabilities is null" is a
	// DENIED_NO_CAPABILITY authorization outcome, not a session-validity
	// failure (step 1 already confirmed the session itself is bound and
	// branded above).
	var caps *capability.Set
	if capsIface, err := req.Session.Capabilities(); err == nil {
		caps, _ = capsIface.(*capability.Set)
	}
	decision := capability.Evaluate(caps, capability.ActionToolInvoke, req.ToolName)
	if !decision.Allowed {
		return b.fail(req.ToolName, dberrors.New(dberrors.ErrUnauthorized, "tool invocation not authorized").
			WithContext("tool", req.ToolName).WithContext("reason", string(decision.Reason)))
	}

	// Step 5: quota.
	identity, err := req.Session.Identity()
	if err != nil {
		return b.fail(req.ToolName, err)
	}
	tenant, err := req.Session.Tenant()
	if err != nil {
		return b.fail(req.ToolName, err)
	}
	capSetID := ""
	if caps != nil {
		capSetID = caps.CapSetID()
	}

	result, err := b.quota.CheckAndReserve(quota.Request{
		Tenant:   tenant,
		Identity: identity,
		CapSetID: capSetID,
		Tool:     req.ToolName,
	})
	if err != nil {
		return b.fail(req.ToolName, err)
	}
	if !result.Allowed {
		return b.fail(req.ToolName, dberrors.New(dberrors.ErrRateLimited, "quota denied").
			WithContext("tool", req.ToolName).WithContext("reason", string(result.Reason)))
	}
	telemetry.SetInFlight(result.SemaphoreKey, b.quota.InFlight(result.SemaphoreKey))
	defer func() {
		// Step 8: always release any reserved semaphore slot, regardless
		// of how steps 6-7 conclude.
		b.quota.Release(result.SemaphoreKey)
		telemetry.SetInFlight(result.SemaphoreKey, b.quota.InFlight(result.SemaphoreKey))
	}()

	// Mutation risk gate: independent of, and additive to, step 4/5 — it
	// never relaxes a prior denial, it only adds friction on top of an
	// allow already granted above. Only consulted for Mutating tools.
	if descriptor.Mutating && b.policy != nil {
		if pErr := b.evaluateMutationRisk(descriptor, req); pErr != nil {
			return b.fail(req.ToolName, pErr)
		}
	}

	// Step 6: input validation.
	if err := descriptor.InputSchema.Validate(req.Input); err != nil {
		return b.fail(req.ToolName, err)
	}

	// Step 7: invoke the tool handler.
	value, err := descriptor.Handler(ctx, req.Session, b.db, req.Input)
	if err != nil {
		return b.fail(req.ToolName, err)
	}
	telemetry.RecordToolInvocation(req.ToolName, "success")
	return Response{OK: true, Value: value}
}

// evaluateMutationRisk scores a mutating call's Input against the policy
// engine. RequiresApproval is treated as a conservative denial because this
// build ships no approval queue; ActionReject and ActionApprove both deny,
// ActionAuto allows the pipeline to proceed to input validation.
func (b *Boundary) evaluateMutationRisk(descriptor tool.Descriptor, req Request) error {
	call := policy.Call{
		ToolName:          req.ToolName,
		Category:          descriptor.MutationCategory,
		Columns:           stringsFromInput(req.Input, "columns"),
		PredicateBounded:  boolFromInput(req.Input, "predicateBounded"),
		EstimatedRowCount: intFromInput(req.Input, "estimatedRowCount"),
		At:                time.Now(),
	}
	result := b.policy.Evaluate(call)
	if result.Decision == policy.ActionAuto && !result.RequiresApproval {
		return nil
	}
	return dberrors.New(dberrors.ErrUnauthorized, "mutating tool requires approval").
		WithContext("tool", req.ToolName).
		WithContext("riskScore", result.RiskScore).
		WithContext("matchedRule", result.MatchedRule)
}

// fail records the denial's wire error code and per-tool outcome to
// telemetry before returning the boundary's {ok:false, error} response.
func (b *Boundary) fail(toolName string, err error) Response {
	code := dberrors.GetCode(err)
	telemetry.RecordDenial(code)
	telemetry.RecordToolInvocation(toolName, string(code))
	return Response{OK: false, Err: err}
}

func stringsFromInput(input map[string]any, key string) []string {
	raw, ok := input[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolFromInput(input map[string]any, key string) bool {
	b, _ := input[key].(bool)
	return b
}

func intFromInput(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
