// Package research defines the research request/result schema and the
// worker that runs one deep-research call against the model.
package research

import "strings"

// Market is the bet market of a single leg.
type Market string

const (
	MarketMoneyline  Market = "moneyline"
	MarketSpread     Market = "spread"
	MarketTotal      Market = "total"
	MarketPlayerProp Market = "player-prop"
)

// Confidence is the model's stated confidence in a leg.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// NormalizeConfidence lowercases and trims a raw confidence value and
// reports whether it is one of the three accepted levels.
func NormalizeConfidence(raw string) (Confidence, bool) {
	switch Confidence(strings.ToLower(strings.TrimSpace(raw))) {
	case ConfidenceLow:
		return ConfidenceLow, true
	case ConfidenceMedium:
		return ConfidenceMedium, true
	case ConfidenceHigh:
		return ConfidenceHigh, true
	}
	return "", false
}

// NormalizeMarket lowercases and trims a raw market value and reports
// whether it is a known market.
func NormalizeMarket(raw string) (Market, bool) {
	switch Market(strings.ToLower(strings.TrimSpace(raw))) {
	case MarketMoneyline:
		return MarketMoneyline, true
	case MarketSpread:
		return MarketSpread, true
	case MarketTotal:
		return MarketTotal, true
	case MarketPlayerProp:
		return MarketPlayerProp, true
	}
	return "", false
}

// Request describes one research job. Immutable once a job starts.
type Request struct {
	// Query is the user's exact research focus (teams, props, angles).
	Query string `json:"query"`

	// Sport is the league key, e.g. "nba", "mma".
	Sport string `json:"sport"`

	// Legs is the requested parlay size, 2..6.
	Legs int `json:"legs"`

	// Date is the target slate date, YYYY-MM-DD.
	Date string `json:"date"`

	// Region optionally scopes book availability, e.g. "NJ", "ON".
	Region string `json:"region,omitempty"`

	// Constraints optionally restricts lines, e.g. "avoid -200+ juice".
	Constraints string `json:"constraints,omitempty"`
}

// Leg is one validated parlay leg.
type Leg struct {
	Market       Market     `json:"market"`
	Selection    string     `json:"selection"`
	BookExamples []string   `json:"book_examples"`
	Confidence   Confidence `json:"confidence"`
}

// Result is the validated research output. List fields are always
// non-nil, never absent.
type Result struct {
	Legs       []Leg    `json:"parlay"`
	Rationales []string `json:"rationales"`
	Risks      string   `json:"risks"`
	Sources    []string `json:"sources"`
}

// NewResult returns an empty Result with all list fields initialized.
func NewResult() *Result {
	return &Result{
		Legs:       []Leg{},
		Rationales: []string{},
		Sources:    []string{},
	}
}
