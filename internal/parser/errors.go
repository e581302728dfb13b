package parser

import (
	"errors"
	"fmt"

	"parlayscout/internal/research"
)

// previewLimit caps the diagnostic excerpt carried by parse errors so
// user-facing messages never include the full raw model output.
const previewLimit = 300

// ErrEmptyResponse indicates the model returned no text at all.
var ErrEmptyResponse = errors.New("empty response from the research model")

// MalformedJSONError indicates no parseable JSON could be recovered from
// the model output, even after repair attempts.
type MalformedJSONError struct {
	Preview string
	Err     error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("model did not return valid JSON (preview: %s)", e.Preview)
}

func (e *MalformedJSONError) Unwrap() error { return e.Err }

// SchemaError indicates the output parsed as JSON but failed strict
// validation. Salvaged carries the best-effort partial result so callers
// can decide whether to show it.
type SchemaError struct {
	Reason   string
	Preview  string
	Salvaged *research.Result
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("model output failed validation: %s", e.Reason)
}

// preview returns at most previewLimit characters of s, marking truncation.
func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + " …"
}
