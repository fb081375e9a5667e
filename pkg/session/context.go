// Package session implements C1: the one-shot SessionContext binding model.
//
// A Context moves UNBOUND -> BOUND exactly once, then optionally gains a
// CapabilitySet and a QuotaEngine, each exactly once. Later states extend,
// never mutate, earlier ones (Bound -> BoundWithCaps -> BoundWithCapsAndQuotas
// in spec terms) — here that's modeled as monotonic one-shot fields guarded
// by a mutex and set-once flags rather than a literal type hierarchy, since
// Go has no sealed variant types to lean on.
package session

import (
	cryptorand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

var entropy = ulid.Monotonic(cryptorand.Reader, 0)

// NewSessionID generates a fresh, lexicographically sortable session ID from
// a CSPRNG-seeded monotonic ULID source, the same construction buckley uses
// for its session identifiers.
func NewSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CapabilitySet is the narrow view pkg/session needs; pkg/capability defines
// the concrete type. Kept as an interface here to avoid an import cycle.
type CapabilitySet interface {
	ExpiresAt() time.Time
	CapSetID() string
}

// QuotaEngine is the narrow view pkg/session needs; pkg/quota defines the
// concrete type.
type QuotaEngine interface {
	Name() string
}

// token is an unexported marker type. Because every Context field is
// unexported, code outside this package can build at most a zero-value
// &Context{}, which is neither bound nor branded; only Bind below produces a
// bound Context — the portable form of the spec's "branded instance" check.
type token struct{}

// Context is the bound session. The zero value is UNBOUND; callers must use
// Bind to obtain a usable instance. All fields are write-once.
type Context struct {
	brand token

	mu        sync.Mutex
	bound     bool
	identity  string
	tenant    string
	sessionID string
	boundAt   time.Time

	caps    CapabilitySet
	capsSet bool

	quota    QuotaEngine
	quotaSet bool
}

// Bind mints a new Context that is already BOUND. Each call returns a
// separate Context; no operation rebinds an existing one, so a live
// session's identity, tenant and session ID never change.
func Bind(identity, tenant, sessionID string) (*Context, error) {
	if identity == "" || tenant == "" {
		return nil, dberrors.New(dberrors.ErrSessionContextInvalid, "identity and tenant must be non-empty")
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return &Context{
		bound:     true,
		identity:  identity,
		tenant:    tenant,
		sessionID: sessionID,
		boundAt:   time.Now(),
	}, nil
}

// IsBound reports whether the context completed Bind. A nil or zero-value
// Context is always unbound.
func (c *Context) IsBound() bool {
	return c != nil && c.bound
}

// IsBranded reports whether c was minted by this package's Bind, defense in
// depth against a caller constructing a look-alike &Context{} literal and
// setting bound=true some other way (impossible outside this package, since
// the fields are unexported, but adapters re-check this explicitly per
// spec.md §4.11).
func (c *Context) IsBranded() bool {
	// bound is unexported and set only by Bind, so it doubles as the brand.
	return c != nil && c.bound
}

func (c *Context) checkBound() error {
	if !c.IsBound() {
		return dberrors.New(dberrors.ErrSessionContextInvalid, "session context is unbound")
	}
	return nil
}

// Identity returns the bound identity string.
func (c *Context) Identity() (string, error) {
	if err := c.checkBound(); err != nil {
		return "", err
	}
	return c.identity, nil
}

// Tenant returns the bound tenant string.
func (c *Context) Tenant() (string, error) {
	if err := c.checkBound(); err != nil {
		return "", err
	}
	return c.tenant, nil
}

// SessionID returns the bound session identifier.
func (c *Context) SessionID() (string, error) {
	if err := c.checkBound(); err != nil {
		return "", err
	}
	return c.sessionID, nil
}

// BoundAt returns when Bind completed.
func (c *Context) BoundAt() (time.Time, error) {
	if err := c.checkBound(); err != nil {
		return time.Time{}, err
	}
	return c.boundAt, nil
}

// AttachCapabilities sets the session's CapabilitySet exactly once. A second
// call fails; this mirrors Bind's one-shot discipline for post-bind
// attachments.
func (c *Context) AttachCapabilities(caps CapabilitySet) error {
	if err := c.checkBound(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capsSet {
		return dberrors.New(dberrors.ErrSessionContextInvalid, "capabilities already attached")
	}
	c.caps = caps
	c.capsSet = true
	return nil
}

// Capabilities returns the attached CapabilitySet, failing if none was
// attached.
func (c *Context) Capabilities() (CapabilitySet, error) {
	if err := c.checkBound(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.capsSet {
		return nil, dberrors.New(dberrors.ErrSessionContextInvalid, "capabilities not attached")
	}
	return c.caps, nil
}

// AttachQuotaEngine sets the session's QuotaEngine exactly once.
func (c *Context) AttachQuotaEngine(engine QuotaEngine) error {
	if err := c.checkBound(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quotaSet {
		return dberrors.New(dberrors.ErrSessionContextInvalid, "quota engine already attached")
	}
	c.quota = engine
	c.quotaSet = true
	return nil
}

// QuotaEngineRef returns the attached QuotaEngine, failing if none was attached.
func (c *Context) QuotaEngineRef() (QuotaEngine, error) {
	if err := c.checkBound(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.quotaSet {
		return nil, dberrors.New(dberrors.ErrSessionContextInvalid, "quota engine not attached")
	}
	return c.quota, nil
}
