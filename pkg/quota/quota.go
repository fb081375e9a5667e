// Package quota implements C3: the in-memory QuotaEngine — token-bucket
// rate limiting, a concurrency semaphore, and a cost bucket, all keyed by a
// scope string derived strictly from the matched policy's granularity.
//
// The scope-key derivation is the load-bearing invariant from spec.md §9: if
// a policy doesn't select on identity or capSetId, those fields must not
// appear in the key, or an attacker could defeat the quota by rotating
// credentials between requests while the policy intended a shared limit.
package quota

import (
	"fmt"
	"sync"
	"time"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

// Dimension is one of the closed quota dimensions.
type Dimension string

const (
	DimRatePerMinute    Dimension = "rate.per_minute"
	DimRatePer10Seconds Dimension = "rate.per_10_seconds"
	DimConcurrencyMax   Dimension = "concurrency.max"
	DimCostPerMinute    Dimension = "cost.per_minute"
)

// dimensionOrder is the fixed check order spec.md §4.3 mandates.
var dimensionOrder = []Dimension{DimRatePerMinute, DimRatePer10Seconds, DimCostPerMinute, DimConcurrencyMax}

// Policy mirrors spec.md §3's QuotaPolicy record. Identity and CapSetID are
// pointers so nil means "not selected by this policy" — the distinction
// Applies and the scope key both depend on.
type Policy struct {
	Tenant   string
	Identity *string
	CapSetID *string
	Limits   map[Dimension]int
}

// Request is what the boundary asks the quota engine to admit.
type Request struct {
	Tenant   string
	Identity string
	CapSetID string
	Tool     string
}

// Applies reports whether p selects the given request: tenant must match
// exactly, and each non-nil selector on the policy must match the request.
func (p Policy) Applies(req Request) bool {
	if p.Tenant != req.Tenant {
		return false
	}
	if p.Identity != nil && *p.Identity != req.Identity {
		return false
	}
	if p.CapSetID != nil && *p.CapSetID != req.CapSetID {
		return false
	}
	return true
}

// ScopeKey derives the bucket/semaphore key from the policy's own
// granularity, never from the request directly. This is the function
// spec.md §9 calls out for independent unit testing against
// credential-rotation attacks.
func ScopeKey(p Policy) string {
	key := "tenant:" + p.Tenant
	if p.Identity != nil {
		key += "|identity:" + *p.Identity
	}
	if p.CapSetID != nil {
		key += "|cap:" + *p.CapSetID
	}
	return key
}

// defaultToolCost is the static cost table from spec.md §4.3.
var defaultToolCost = map[string]int{
	"list_tables":   1,
	"describe_table": 2,
	"query_read":    5,
}

// CostOf returns the static cost for a tool, defaulting to 1.
func CostOf(tool string) int {
	if c, ok := defaultToolCost[tool]; ok {
		return c
	}
	return 1
}

const (
	defaultMaxKeys = 10000
	evictionTTL    = time.Hour
)

type tokenBucket struct {
	capacity   int
	refillRate int // tokens per window
	window     time.Duration
	tokens     float64
	lastRefill time.Time
}

func (b *tokenBucket) refill(now time.Time) error {
	if now.Before(b.lastRefill) {
		return dberrors.New(dberrors.ErrInternal, "clock moved backwards")
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		added := float64(b.refillRate) * (elapsed.Seconds() / b.window.Seconds())
		b.tokens += added
		if b.tokens > float64(b.capacity) {
			b.tokens = float64(b.capacity)
		}
		b.lastRefill = now
	}
	return nil
}

func (b *tokenBucket) tryConsume(now time.Time, n int) (bool, error) {
	if err := b.refill(now); err != nil {
		return false, err
	}
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true, nil
	}
	return false, nil
}

type semaphore struct {
	max     int
	current int
}

func (s *semaphore) tryAcquire() bool {
	// An unconfigured (<=0) concurrency.max means the dimension is absent
	// from the policy, not "admit nothing" — mirrors bucketFor's treatment
	// of an absent rate/cost limit as unlimited.
	if s.max <= 0 {
		s.current++
		return true
	}
	if s.current >= s.max {
		return false
	}
	s.current++
	return true
}

func (s *semaphore) release() {
	if s.current > 0 {
		s.current--
	}
}

type scopeState struct {
	minuteBucket *tokenBucket
	tenSecBucket *tokenBucket
	costBucket   *tokenBucket
	sem          *semaphore
	lastAccess   time.Time
}

// Reason is the closed set of quota denial reasons.
type Reason string

const (
	ReasonAllowed         Reason = "ALLOWED"
	ReasonPolicyMissing   Reason = "POLICY_MISSING"
	ReasonPolicyAmbiguous Reason = "POLICY_AMBIGUOUS"
	ReasonRateLimited     Reason = "RATE_LIMITED"
	ReasonCounterError    Reason = "COUNTER_ERROR"
)

// Result is the outcome of checkAndReserve.
type Result struct {
	Allowed     bool
	Reason      Reason
	SemaphoreKey string
}

// Engine is the process-wide quota state: one map from scope key to that
// scope's buckets, semaphore and last-access time, bounded by maxKeys with
// TTL eviction.
type Engine struct {
	mu       sync.Mutex
	policies []Policy
	maxKeys  int
	states   map[string]*scopeState
	name     string
}

// New constructs an Engine over a fixed, startup-loaded policy set.
func New(name string, policies []Policy) *Engine {
	return &Engine{
		name:     name,
		policies: policies,
		maxKeys:  defaultMaxKeys,
		states:   make(map[string]*scopeState),
	}
}

// Name satisfies pkg/session.QuotaEngine.
func (e *Engine) Name() string { return e.name }

func (e *Engine) matchPolicy(req Request) (Policy, Reason) {
	var matched []Policy
	for _, p := range e.policies {
		if p.Applies(req) {
			matched = append(matched, p)
		}
	}
	switch len(matched) {
	case 0:
		return Policy{}, ReasonPolicyMissing
	case 1:
		return matched[0], ""
	default:
		return Policy{}, ReasonPolicyAmbiguous
	}
}

func (e *Engine) evictLocked(now time.Time) {
	if len(e.states) < e.maxKeys {
		return
	}
	for k, st := range e.states {
		if now.Sub(st.lastAccess) >= evictionTTL {
			delete(e.states, k)
		}
	}
}

func (e *Engine) stateFor(key string, policy Policy, now time.Time) (*scopeState, error) {
	if st, ok := e.states[key]; ok {
		st.lastAccess = now
		return st, nil
	}
	e.evictLocked(now)
	if len(e.states) >= e.maxKeys {
		return nil, dberrors.New(dberrors.ErrRateLimited, "quota state exhausted").WithContext("reason", ReasonCounterError)
	}
	st := &scopeState{
		minuteBucket: bucketFor(policy.Limits[DimRatePerMinute], time.Minute, now),
		tenSecBucket: bucketFor(policy.Limits[DimRatePer10Seconds], 10*time.Second, now),
		costBucket:   bucketFor(policy.Limits[DimCostPerMinute], time.Minute, now),
		sem:          &semaphore{max: policy.Limits[DimConcurrencyMax]},
		lastAccess:   now,
	}
	e.states[key] = st
	return st, nil
}

func bucketFor(limit int, window time.Duration, now time.Time) *tokenBucket {
	if limit <= 0 {
		// A zero/absent limit for a dimension means "unconfigured" — treat
		// as unlimited by giving it a very large capacity rather than
		// special-casing every call site.
		limit = 1 << 30
	}
	return &tokenBucket{capacity: limit, refillRate: limit, window: window, tokens: float64(limit), lastRefill: now}
}

// CheckAndReserve evaluates a request against the single matching policy in
// the fixed dimension order, consuming on success and denying on the first
// miss. The returned semaphore key, when reserve succeeded and the policy
// configures concurrency, must be passed to Release in a finally-style scope.
func (e *Engine) CheckAndReserve(req Request) (Result, error) {
	policy, denyReason := e.matchPolicy(req)
	if denyReason != "" {
		return Result{Allowed: false, Reason: denyReason}, nil
	}

	key := ScopeKey(policy)
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.stateFor(key, policy, now)
	if err != nil {
		return Result{Allowed: false, Reason: ReasonCounterError}, err
	}

	ok, err := st.minuteBucket.tryConsume(now, 1)
	if err != nil {
		return Result{Allowed: false, Reason: ReasonCounterError}, err
	}
	if !ok {
		return Result{Allowed: false, Reason: ReasonRateLimited}, nil
	}

	ok, err = st.tenSecBucket.tryConsume(now, 1)
	if err != nil {
		return Result{Allowed: false, Reason: ReasonCounterError}, err
	}
	if !ok {
		return Result{Allowed: false, Reason: ReasonRateLimited}, nil
	}

	cost := CostOf(req.Tool)
	ok, err = st.costBucket.tryConsume(now, cost)
	if err != nil {
		return Result{Allowed: false, Reason: ReasonCounterError}, err
	}
	if !ok {
		return Result{Allowed: false, Reason: ReasonRateLimited}, nil
	}

	if !st.sem.tryAcquire() {
		return Result{Allowed: false, Reason: ReasonRateLimited}, nil
	}

	return Result{Allowed: true, Reason: ReasonAllowed, SemaphoreKey: key}, nil
}

// Release returns a held concurrency slot. Safe to call even if the
// semaphore key's state has since been evicted (a no-op in that case).
func (e *Engine) Release(semaphoreKey string) {
	if semaphoreKey == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[semaphoreKey]; ok {
		st.sem.release()
	}
}

// InFlight reports the current concurrency semaphore count for a scope key,
// for telemetry observation only — callers must never use this for
// admission decisions, which belong solely to CheckAndReserve.
func (e *Engine) InFlight(semaphoreKey string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[semaphoreKey]; ok {
		return st.sem.current
	}
	return 0
}

// String aids debugging/log output; never includes bucket contents.
func (e *Engine) String() string {
	return fmt.Sprintf("quota.Engine(%s)", e.name)
}
