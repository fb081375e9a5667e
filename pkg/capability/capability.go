// Package capability implements C2: the immutable capability grant list and
// the decision-table authorization evaluator.
package capability

import (
	"time"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

// Action is one of the closed set of capability actions.
type Action string

const (
	ActionToolInvoke    Action = "tool.invoke"
	ActionToolList      Action = "tool.list"
	ActionResourceRead  Action = "resource.read"
	ActionResourceList  Action = "resource.list"
	wildcardTarget             = "*"
)

func validAction(a Action) bool {
	switch a {
	case ActionToolInvoke, ActionToolList, ActionResourceRead, ActionResourceList:
		return true
	default:
		return false
	}
}

// Grant is a single (action, target) permission.
type Grant struct {
	Action Action
	Target string
}

// Set is an immutable capability grant list with an expiry, matching
// spec.md §3's CapabilitySet record. Construct via New, never by struct
// literal outside this package, so grants can be deep-frozen at construction.
type Set struct {
	capSetID  string
	issuedAt  time.Time
	expiresAt time.Time
	issuer    string
	trusted   bool
	grants    []Grant
}

// maxClockSkew is the tolerance spec.md §3 allows for issuedAt being
// slightly in the future relative to this process's clock.
const maxClockSkew = 60 * time.Second

// New constructs a deep-frozen Set, validating the invariants from spec.md
// §3: issuedAt within clock-skew tolerance of now, expiresAt strictly after
// issuedAt, and (if trusted is false) no grant may target the wildcard.
func New(capSetID, issuer string, trusted bool, issuedAt, expiresAt time.Time, grants []Grant) (*Set, error) {
	if issuedAt.After(time.Now().Add(maxClockSkew)) {
		return nil, dberrors.New(dberrors.ErrInternal, "capability set issuedAt too far in the future")
	}
	if !expiresAt.After(issuedAt) {
		return nil, dberrors.New(dberrors.ErrInternal, "capability set expiresAt must be after issuedAt")
	}
	frozen := make([]Grant, len(grants))
	for i, g := range grants {
		if g.Target == wildcardTarget && !trusted {
			return nil, dberrors.New(dberrors.ErrInternal, "wildcard grant target requires a trusted issuer")
		}
		frozen[i] = g
	}
	return &Set{
		capSetID:  capSetID,
		issuedAt:  issuedAt,
		expiresAt: expiresAt,
		issuer:    issuer,
		trusted:   trusted,
		grants:    frozen,
	}, nil
}

// CapSetID returns the capability set's identifier.
func (s *Set) CapSetID() string { return s.capSetID }

// ExpiresAt returns the expiry; it satisfies pkg/session.CapabilitySet.
func (s *Set) ExpiresAt() time.Time { return s.expiresAt }

// IsExpired reports whether the set has expired as of now.
func (s *Set) IsExpired() bool { return !time.Now().Before(s.expiresAt) }

// Reason is the closed set of authorization decision reasons.
type Reason string

const (
	ReasonAllowed             Reason = "ALLOWED"
	ReasonUnknownAction       Reason = "DENIED_UNKNOWN_ACTION"
	ReasonNoCapability        Reason = "DENIED_NO_CAPABILITY"
	ReasonExpired             Reason = "DENIED_EXPIRED"
	ReasonNoGrant             Reason = "DENIED_NO_GRANT"
)

// Decision is the result of evaluating one authorization request.
type Decision struct {
	Allowed bool
	Reason  Reason
	Grant   *Grant
}

// Evaluate runs the spec.md §4.2 decision table top to bottom; the first
// matching row wins. caps may be nil (no capabilities attached).
func Evaluate(caps *Set, action Action, target string) Decision {
	if !validAction(action) {
		return Decision{Allowed: false, Reason: ReasonUnknownAction}
	}
	if caps == nil {
		return Decision{Allowed: false, Reason: ReasonNoCapability}
	}
	if caps.IsExpired() {
		return Decision{Allowed: false, Reason: ReasonExpired}
	}
	for i, g := range caps.grants {
		if g.Action != action {
			continue
		}
		if g.Target == target || (g.Target == wildcardTarget && caps.trusted) {
			grant := caps.grants[i]
			return Decision{Allowed: true, Reason: ReasonAllowed, Grant: &grant}
		}
	}
	return Decision{Allowed: false, Reason: ReasonNoGrant}
}
