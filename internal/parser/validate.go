package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"parlayscout/internal/research"
)

// wireResult is the strict wire shape of a research result.
type wireResult struct {
	Parlay     []wireLeg `json:"parlay"`
	Rationales []string  `json:"rationales"`
	Risks      string    `json:"risks"`
	Sources    []string  `json:"sources"`
}

type wireLeg struct {
	Market       string   `json:"market"`
	Selection    string   `json:"selection"`
	BookExamples []string `json:"book_examples"`
	Confidence   string   `json:"confidence"`
}

// Validate enforces the result schema on an extracted candidate.
// Missing optional fields default to empty; a leg with an unknown market,
// empty selection, or non-normalizable confidence fails validation.
func Validate(candidate json.RawMessage) (*research.Result, error) {
	var wire wireResult
	if err := json.Unmarshal(candidate, &wire); err != nil {
		return nil, fmt.Errorf("result shape: %w", err)
	}

	out := research.NewResult()
	for i, wl := range wire.Parlay {
		leg, err := validateLeg(wl)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i+1, err)
		}
		out.Legs = append(out.Legs, leg)
	}
	if wire.Rationales != nil {
		out.Rationales = wire.Rationales
	}
	out.Risks = wire.Risks
	if wire.Sources != nil {
		out.Sources = wire.Sources
	}
	return out, nil
}

func validateLeg(wl wireLeg) (research.Leg, error) {
	market, ok := research.NormalizeMarket(wl.Market)
	if !ok {
		return research.Leg{}, fmt.Errorf("market must be one of moneyline|spread|total|player-prop, got %q", wl.Market)
	}
	selection := strings.TrimSpace(wl.Selection)
	if selection == "" {
		return research.Leg{}, fmt.Errorf("selection must be non-empty")
	}
	confidence, ok := research.NormalizeConfidence(wl.Confidence)
	if !ok {
		return research.Leg{}, fmt.Errorf("confidence must be one of low|medium|high, got %q", wl.Confidence)
	}
	books := wl.BookExamples
	if books == nil {
		books = []string{}
	}
	return research.Leg{
		Market:       market,
		Selection:    selection,
		BookExamples: books,
		Confidence:   confidence,
	}, nil
}

// Salvage rebuilds a result leg-by-leg from a candidate that failed strict
// validation, keeping only legs that individually validate and coercing
// the text fields defensively. It never fails; the result may have zero
// legs.
func Salvage(candidate json.RawMessage) *research.Result {
	out := research.NewResult()

	var loose map[string]any
	if err := json.Unmarshal(candidate, &loose); err != nil {
		return out
	}

	if legs, ok := loose["parlay"].([]any); ok {
		for _, item := range legs {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			leg, err := validateLeg(coerceLeg(m))
			if err != nil {
				continue
			}
			out.Legs = append(out.Legs, leg)
		}
	}
	if rats, ok := loose["rationales"].([]any); ok {
		for _, r := range rats {
			out.Rationales = append(out.Rationales, stringify(r))
		}
	}
	if risks, ok := loose["risks"]; ok && risks != nil {
		out.Risks = stringify(risks)
	}
	if srcs, ok := loose["sources"].([]any); ok {
		for _, s := range srcs {
			out.Sources = append(out.Sources, stringify(s))
		}
	}
	return out
}

func coerceLeg(m map[string]any) wireLeg {
	wl := wireLeg{}
	if v, ok := m["market"]; ok {
		wl.Market = stringify(v)
	}
	if v, ok := m["selection"]; ok {
		wl.Selection = stringify(v)
	}
	if v, ok := m["confidence"]; ok {
		wl.Confidence = stringify(v)
	}
	if books, ok := m["book_examples"].([]any); ok {
		for _, b := range books {
			wl.BookExamples = append(wl.BookExamples, stringify(b))
		}
	}
	return wl
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Parse runs the full pipeline on raw model text: empty check, Extract,
// then Validate, with Salvage attached to any schema failure so callers
// can show a partial result.
func Parse(raw string) (*research.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}

	candidate, err := Extract(raw)
	if err != nil {
		return nil, err
	}

	result, err := Validate(candidate)
	if err != nil {
		return nil, &SchemaError{
			Reason:   err.Error(),
			Preview:  preview(raw),
			Salvaged: Salvage(candidate),
		}
	}
	return result, nil
}
