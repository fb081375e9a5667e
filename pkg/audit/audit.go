// Package audit implements C8: privacy-preserving audit logging. Every
// SQL-touching tool invocation emits exactly the narrow event schema from
// spec.md §3 — never raw SQL, parameters, identifiers, row data, or schema
// names. Emission is fail-closed: a write failure must be treated by the
// caller as the operation having failed.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/telemetry"
)

const minSecretLen = 32

// ResultType is the closed set of audit outcomes.
type ResultType string

const (
	ResultValidated      ResultType = "validated"
	ResultRejected       ResultType = "rejected"
	ResultSuccess        ResultType = "success"
	ResultExecutionError ResultType = "execution_error"
)

// Event is the complete, closed audit record — spec.md §3 permits no other
// fields.
type Event struct {
	Timestamp       time.Time  `json:"timestamp"`
	Adapter         string     `json:"adapter"`
	ResultType      ResultType `json:"resultType"`
	QueryFingerprint string    `json:"queryFingerprint"`
	ExecutionTimeMs *int       `json:"executionTimeMs,omitempty"`
}

// Logger computes query fingerprints and emits audit events to a sink.
type Logger struct {
	secret []byte
	mu     sync.Mutex
	sink   io.Writer
}

// NewLogger validates the HMAC secret per spec.md §4.8 (must be present and
// at least 32 bytes) and binds it to sink. A secret that fails validation
// aborts startup — this constructor is meant to be called once, early.
func NewLogger(secret []byte, sink io.Writer) (*Logger, error) {
	if len(secret) < minSecretLen {
		return nil, dberrors.New(dberrors.ErrInternal, "audit HMAC secret must be at least 32 bytes")
	}
	return &Logger{secret: secret, sink: sink}, nil
}

var (
	whitespace = regexp.MustCompile(`\s+`)

	// keywordVocabulary is the closed set of SQL tokens the fingerprint
	// shape preserves verbatim; everything else that looks like an
	// identifier is collapsed to ID.
	keywordVocabulary = map[string]struct{}{
		"SELECT": {}, "FROM": {}, "JOIN": {}, "WHERE": {}, "AND": {}, "OR": {},
		"ORDER": {}, "BY": {}, "ASC": {}, "DESC": {}, "AS": {}, "ON": {}, "NOT": {},
		"IN": {}, "IS": {}, "NULL": {}, "LIMIT": {}, "TOP": {}, "DISTINCT": {},
	}

	// shapeToken matches a string literal, a numeric literal, or an
	// identifier/keyword, in that alternation order, so a single pass
	// classifies each token exactly once: a numeric literal inside a
	// string never gets mistaken for a number, and an S/N replacement
	// never gets re-collapsed to ID by a later identifier pass.
	shapeToken = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|\b\d+(?:\.\d+)?\b|[A-Za-z_][A-Za-z0-9_]*`)
)

// shape normalizes q to a structural fingerprint input: collapse whitespace,
// replace string literals with S, numeric literals with N, and replace
// every identifier that isn't in the closed keyword vocabulary with ID —
// all in a single token-classifying pass, so the S/N/ID markers are never
// themselves re-matched and collapsed by a later pass. This is a deliberate
// downgrade from SQL semantics — it must be deterministic and pure.
func shape(q string) string {
	s := shapeToken.ReplaceAllStringFunc(q, func(tok string) string {
		switch {
		case strings.HasPrefix(tok, "'"):
			return "S"
		case tok[0] >= '0' && tok[0] <= '9':
			return "N"
		default:
			if _, ok := keywordVocabulary[strings.ToUpper(tok)]; ok {
				return strings.ToUpper(tok)
			}
			return "ID"
		}
	})
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ComputeFingerprint returns the hex-encoded HMAC-SHA256 of q's structural
// shape. Two queries differing only in literals, whitespace, or identifier
// case fingerprint identically; structurally different queries do not.
func (l *Logger) ComputeFingerprint(q string) string {
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(shape(q)))
	return hex.EncodeToString(mac.Sum(nil))
}

func roundToNearest10Ms(ms int) int {
	return (ms + 5) / 10 * 10
}

// LogQueryEvent emits exactly one event. A write failure is returned to the
// caller, who must treat the whole operation as failed (spec.md §7).
func (l *Logger) LogQueryEvent(adapter, fingerprint string, resultType ResultType, executionTimeMs *int) error {
	ev := Event{
		Timestamp:        time.Now(),
		Adapter:          adapter,
		ResultType:       resultType,
		QueryFingerprint: fingerprint,
	}
	if executionTimeMs != nil {
		rounded := roundToNearest10Ms(*executionTimeMs)
		ev.ExecutionTimeMs = &rounded
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return dberrors.Wrap(err, dberrors.ErrAuditFailure, "could not marshal audit event")
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.sink.Write(data); err != nil {
		telemetry.RecordAuditFailure()
		return dberrors.Wrap(err, dberrors.ErrAuditFailure, "could not write audit event")
	}
	return nil
}

// failingSink is a sink that always errors, useful to callers constructing
// fail-closed test scenarios without a real file handle.
type failingSink struct{ err error }

func (f failingSink) Write(p []byte) (int, error) { return 0, f.err }

// FailingSink returns an io.Writer whose every Write fails with err, for
// exercising spec.md §8 property 8 (audit-failure closure).
func FailingSink(err error) io.Writer {
	if err == nil {
		err = fmt.Errorf("audit sink unavailable")
	}
	return failingSink{err: err}
}
