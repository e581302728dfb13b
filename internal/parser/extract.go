// Package parser turns semi-structured model text into a validated
// research.Result. Extraction tolerates code fences, surrounding prose,
// trailing commas, and single-quoted pseudo-JSON; validation is strict,
// with a leg-by-leg salvage path when it fails.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe        = regexp.MustCompile("(?is)```(?:json)?\\s*(.+?)\\s*```")
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	unescapedQuote = regexp.MustCompile(`(\\?)'`)
)

// Extract isolates a JSON value from raw model text and repairs common
// malformations. The returned candidate is always a top-level object:
// a top-level array is wrapped into the expected result shape. Extract
// is idempotent on already-clean JSON.
func Extract(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)

	// Strip code fences ```json ... ```
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	// If there's prose, isolate the largest {...} or [...] span.
	candidate := isolateSpan(s)

	// Remove trailing commas before } or ].
	t := trailingComma.ReplaceAllString(candidate, "$1")

	// Single-quoted pseudo-JSON: best-effort conversion, but only when
	// the head of the candidate shows no double quotes at all.
	head := t
	if len(head) > 80 {
		head = head[:80]
	}
	if strings.Contains(t, "'") && !strings.Contains(head, `"`) {
		t = unescapedQuote.ReplaceAllStringFunc(t, func(m string) string {
			if strings.HasPrefix(m, `\`) {
				return m // keep escaped quotes untouched
			}
			return `"`
		})
	}

	var data any
	if err := json.Unmarshal([]byte(t), &data); err != nil {
		// Last ditch: strip stray backticks and whitespace and retry.
		t2 := strings.Trim(t, "` \n\r\t")
		if err2 := json.Unmarshal([]byte(t2), &data); err2 != nil {
			return nil, &MalformedJSONError{Preview: preview(raw), Err: err}
		}
		t = t2
	}

	// A top-level array is the legs list; wrap it into the full shape.
	if _, ok := data.([]any); ok {
		wrapped := fmt.Sprintf(`{"parlay":%s,"rationales":[],"risks":"","sources":[]}`, t)
		return json.RawMessage(wrapped), nil
	}

	return json.RawMessage(t), nil
}

// isolateSpan returns the largest object or array span, whichever opens
// first, so a top-level array of objects is not mistaken for its first
// element. Input without any span passes through unchanged.
func isolateSpan(s string) string {
	startObj, endObj := strings.Index(s, "{"), strings.LastIndex(s, "}")
	startArr, endArr := strings.Index(s, "["), strings.LastIndex(s, "]")

	objOK := startObj != -1 && endObj > startObj
	arrOK := startArr != -1 && endArr > startArr

	switch {
	case objOK && (!arrOK || startObj < startArr):
		return s[startObj : endObj+1]
	case arrOK:
		return s[startArr : endArr+1]
	}
	return s
}
