// Package sanitize implements the C2 Sanitizer & Validators contract:
// pure functions for input bounds-checking, HTML/JSON scrubbing,
// identifier regexes, and canonical error envelope shaping. Struct-tag
// bounds on the larger MCP request DTOs are layered on top with
// go-playground/validator/v10, the way jrschumacher-dis.quest wires it
// for its request bodies.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	maxTextLen        = 10000
	truncationMarker  = "... [truncated]"
	maxJSONListLen    = 20
	maxJSONMapEntries = 10
	maxJSONKeyLen     = 100
)

var (
	sessionIDPattern = regexp.MustCompile(`^session_[0-9a-f]{16}$`)
	agentIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_\-.]{1,128}$`)
	memoryKeyExclude = regexp.MustCompile(`[/\\:*?"<>|]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)

	// Validate is the shared validator instance used for struct-tag
	// bounds checks on MCP tool request DTOs.
	Validate = validator.New()
)

// SanitizeText HTML-escapes s, collapses runs of whitespace, trims, and
// truncates to 10,000 characters with an explicit marker.
func SanitizeText(s string) string {
	s = html.EscapeString(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxTextLen {
		cut := maxTextLen - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		s = s[:cut] + truncationMarker
	}
	return s
}

// SanitizeJSON accepts only strings/ints/floats/bools/null and bounded
// lists (<=20)/maps (<=10 entries, key length <=100); strings are run
// through SanitizeText. Deeper or oversized structures are dropped
// silently.
func SanitizeJSON(v any) any {
	switch val := v.(type) {
	case nil, bool, int, int64, float64:
		return val
	case string:
		return SanitizeText(val)
	case []any:
		if len(val) > maxJSONListLen {
			val = val[:maxJSONListLen]
		}
		out := make([]any, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case map[string]any, []any:
				continue // deeper structures are dropped silently
			default:
				out = append(out, SanitizeJSON(item))
			}
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		count := 0
		for k, item := range val {
			if count >= maxJSONMapEntries {
				break
			}
			if len(k) > maxJSONKeyLen {
				continue
			}
			switch item.(type) {
			case map[string]any, []any:
				continue
			default:
				out[k] = SanitizeJSON(item)
				count++
			}
		}
		return out
	default:
		return nil
	}
}

// ValidateSessionID reports whether id matches session_[16 lowercase hex].
func ValidateSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ValidateAgentID reports whether id is a well-formed agent identifier.
func ValidateAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}

// ValidateMemoryKey enforces the AgentMemory.key invariant: length
// 1-255, excluding / \ : * ? " < > |.
func ValidateMemoryKey(key string) bool {
	if len(key) < 1 || len(key) > 255 {
		return false
	}
	return !memoryKeyExclude.MatchString(key)
}

// Severity is the error envelope's "severity" field.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Envelope is the canonical error response shape returned to callers.
type Envelope struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// BuildError constructs the canonical error envelope.
func BuildError(msg, code string, severity Severity, details map[string]any) Envelope {
	return Envelope{
		Success:   false,
		Error:     msg,
		Code:      code,
		Severity:  severity,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ValidateStruct runs go-playground/validator's struct-tag bounds checks
// and collapses the result into a single human-readable message suitable
// for a VALIDATION_ERROR envelope.
func ValidateStruct(v any) error {
	if err := Validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}
