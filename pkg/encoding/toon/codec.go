package toon

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/alpkeskin/gotoon"
)

// Codec wraps gotoon serialization with JSON fallback.
type Codec struct {
	useToon bool
}

// New creates a codec that prefers TOON for compact serialization.
func New(useToon bool) *Codec {
	return &Codec{useToon: useToon}
}

// Marshal encodes v into TOON (or JSON when disabled). Used to render
// query_read's row set compactly before it goes out over the stdio
// envelope.
func (c *Codec) Marshal(v any) ([]byte, error) {
	if !c.useToon || v == nil {
		return json.Marshal(v)
	}
	encoded, err := gotoon.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("toon encode: %w", err)
	}
	return []byte(encoded), nil
}

// Unmarshal decodes JSON payloads back into Go values. TOON is designed for
// one-way transmission to the calling model, so we always fall back to
// standard JSON parsing when we need to recover data.
func (c *Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// TOON format patterns:
// - Header: name[count]{field1,field2,...}:
// - Data rows: value1,value2,...
// - Nested: name{field1,field2}:
var (
	// Matches TOON array headers like: rows[3]{id,name,email}:
	toonArrayHeaderPattern = regexp.MustCompile(`\b\w+\[\d+\]\{[^}]+\}:`)
	// Matches TOON object headers like: metadata{executionTimeMs,truncated}:
	toonObjectHeaderPattern = regexp.MustCompile(`\b\w+\{[^}]+\}:`)
	// Matches lines that look like TOON data rows (comma-separated, indented)
	toonDataRowPattern = regexp.MustCompile(`^\s+[^,\s][^,]*(?:,[^,]+)+\s*$`)
)

// ContainsTOON checks if text contains TOON-encoded data fragments. Used to
// detect a query_read row fragment leaking into a place it must never
// reach: a user-visible error message.
func ContainsTOON(text string) bool {
	if text == "" {
		return false
	}
	// Check for TOON header patterns
	if toonArrayHeaderPattern.MatchString(text) {
		return true
	}
	if toonObjectHeaderPattern.MatchString(text) {
		return true
	}
	return false
}

// SanitizeOutput strips TOON fragments out of a string while preserving any
// surrounding text. The execution boundary's error envelope runs every
// message through this before it reaches the caller, so a driver error that
// happens to echo row-shaped content can never surface raw row data.
func SanitizeOutput(text string) string {
	if text == "" || !ContainsTOON(text) {
		return text
	}

	lines := strings.Split(text, "\n")
	var result []string
	inToonBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		// Detect start of TOON block
		if toonArrayHeaderPattern.MatchString(trimmed) || toonObjectHeaderPattern.MatchString(trimmed) {
			inToonBlock = true
			continue
		}

		// Skip TOON data rows (indented comma-separated values)
		if inToonBlock {
			if toonDataRowPattern.MatchString(line) {
				continue
			}
			// Empty line or non-TOON content ends the block
			if trimmed == "" || !strings.HasPrefix(line, "  ") {
				inToonBlock = false
			}
		}

		if !inToonBlock {
			result = append(result, line)
		}
	}

	// Clean up multiple consecutive empty lines
	output := strings.Join(result, "\n")
	for strings.Contains(output, "\n\n\n") {
		output = strings.ReplaceAll(output, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(output)
}
