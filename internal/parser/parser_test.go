package parser

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"parlayscout/internal/research"
)

const validBody = `{
	"parlay": [
		{"market": "moneyline", "selection": "Celtics ML", "book_examples": ["DraftKings -150"], "confidence": "high"},
		{"market": "total", "selection": "Knicks/Pacers over 221.5", "book_examples": [], "confidence": "medium"}
	],
	"rationales": ["Home favorites off a rest day.", "Pace-up spot."],
	"risks": "Back-to-back legs correlate on blowout scripts.",
	"sources": ["https://example.com/injuries"]
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		contains string
	}{
		{
			name:     "clean_object",
			input:    `{"parlay": []}`,
			contains: `"parlay"`,
		},
		{
			name:     "fenced_json",
			input:    "Here is your parlay:\n```json\n{\"parlay\": [], \"risks\": \"none\"}\n```\nGood luck!",
			contains: `"risks"`,
		},
		{
			name:     "fence_without_language",
			input:    "```\n{\"parlay\": []}\n```",
			contains: `"parlay"`,
		},
		{
			name:     "prose_around_object",
			input:    `Sure! The picks are {"parlay": [], "risks": ""} and nothing else.`,
			contains: `"parlay"`,
		},
		{
			name:     "trailing_commas",
			input:    `{"parlay": [], "sources": ["a", "b",],}`,
			contains: `"sources"`,
		},
		{
			name:     "single_quoted",
			input:    `{'parlay': [], 'risks': 'thin slate'}`,
			contains: `"risks"`,
		},
		{
			name:     "top_level_array_wrapped",
			input:    `[{"market": "total", "selection": "over 47.5", "confidence": "low"}]`,
			contains: `"parlay"`,
		},
		{
			name:    "no_json_at_all",
			input:   "I could not find any games for that date.",
			wantErr: true,
		},
		{
			name:    "unclosed_object",
			input:   `{"parlay": [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Extract(%q) = %s, want error", tt.input, got)
				}
				var malformed *MalformedJSONError
				if !errors.As(err, &malformed) {
					t.Fatalf("error type = %T, want *MalformedJSONError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) error: %v", tt.input, err)
			}
			if !json.Valid(got) {
				t.Fatalf("Extract produced invalid JSON: %s", got)
			}
			if !strings.Contains(string(got), tt.contains) {
				t.Errorf("Extract = %s, want substring %q", got, tt.contains)
			}
		})
	}
}

func TestExtractIdempotent(t *testing.T) {
	once, err := Extract(validBody)
	if err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	twice, err := Extract(string(once))
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if string(once) != string(twice) {
		t.Errorf("Extract not idempotent:\nonce:  %s\ntwice: %s", once, twice)
	}
}

func TestExtractPreviewTruncated(t *testing.T) {
	raw := "garbage " + strings.Repeat("x", 1000)
	_, err := Extract(raw)
	var malformed *MalformedJSONError
	if !errors.As(err, &malformed) {
		t.Fatalf("error type = %T, want *MalformedJSONError", err)
	}
	if !strings.HasSuffix(malformed.Preview, "…") {
		t.Error("long preview should be marked as truncated")
	}
	if len(malformed.Preview) >= len(raw) {
		t.Errorf("preview length = %d, want shorter than input (%d)", len(malformed.Preview), len(raw))
	}
}

func TestValidate(t *testing.T) {
	got, err := Validate(json.RawMessage(validBody))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := &research.Result{
		Legs: []research.Leg{
			{
				Market:       research.MarketMoneyline,
				Selection:    "Celtics ML",
				BookExamples: []string{"DraftKings -150"},
				Confidence:   research.ConfidenceHigh,
			},
			{
				Market:       research.MarketTotal,
				Selection:    "Knicks/Pacers over 221.5",
				BookExamples: []string{},
				Confidence:   research.ConfidenceMedium,
			},
		},
		Rationales: []string{"Home favorites off a rest day.", "Pace-up spot."},
		Risks:      "Back-to-back legs correlate on blowout scripts.",
		Sources:    []string{"https://example.com/injuries"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Validate mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateNormalizesCase(t *testing.T) {
	body := `{"parlay": [{"market": " Spread ", "selection": "Bills -3.5", "confidence": "HIGH"}]}`
	got, err := Validate(json.RawMessage(body))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	leg := got.Legs[0]
	if leg.Market != research.MarketSpread {
		t.Errorf("market = %q, want %q", leg.Market, research.MarketSpread)
	}
	if leg.Confidence != research.ConfidenceHigh {
		t.Errorf("confidence = %q, want %q", leg.Confidence, research.ConfidenceHigh)
	}
	if leg.BookExamples == nil {
		t.Error("book_examples should default to empty slice, got nil")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown_market",
			body: `{"parlay": [{"market": "parlay-boost", "selection": "x", "confidence": "low"}]}`,
		},
		{
			name: "empty_selection",
			body: `{"parlay": [{"market": "total", "selection": "   ", "confidence": "low"}]}`,
		},
		{
			name: "bad_confidence",
			body: `{"parlay": [{"market": "total", "selection": "over", "confidence": "certain"}]}`,
		},
		{
			name: "legs_not_a_list",
			body: `{"parlay": "over 47.5"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Validate(json.RawMessage(tt.body)); err == nil {
				t.Errorf("Validate(%s) succeeded, want error", tt.body)
			}
		})
	}
}

func TestSalvageKeepsValidLegs(t *testing.T) {
	body := `{
		"parlay": [
			{"market": "moneyline", "selection": "Celtics ML", "confidence": "high"},
			{"market": "lottery", "selection": "bad leg", "confidence": "high"},
			{"market": "total", "selection": "over 221.5", "confidence": "MEDIUM"}
		],
		"risks": 42,
		"rationales": ["solid spot", 7]
	}`
	got := Salvage(json.RawMessage(body))
	if len(got.Legs) != 2 {
		t.Fatalf("salvaged %d legs, want 2", len(got.Legs))
	}
	if got.Legs[0].Selection != "Celtics ML" || got.Legs[1].Selection != "over 221.5" {
		t.Errorf("unexpected legs kept: %+v", got.Legs)
	}
	if got.Risks != "42" {
		t.Errorf("risks = %q, want coerced %q", got.Risks, "42")
	}
	if len(got.Rationales) != 2 || got.Rationales[1] != "7" {
		t.Errorf("rationales = %v, want coerced strings", got.Rationales)
	}
}

func TestSalvageNeverNil(t *testing.T) {
	for _, body := range []string{`"just a string"`, `[]`, `{}`, `{"parlay": null}`} {
		got := Salvage(json.RawMessage(body))
		if got == nil {
			t.Fatalf("Salvage(%s) = nil", body)
		}
		if got.Legs == nil || got.Rationales == nil || got.Sources == nil {
			t.Errorf("Salvage(%s) returned nil list fields: %+v", body, got)
		}
	}
}

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := Parse("```json\n" + validBody + "\n```")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(got.Legs) != 2 {
			t.Errorf("legs = %d, want 2", len(got.Legs))
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Parse("   \n\t ")
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("error = %v, want ErrEmptyResponse", err)
		}
	})

	t.Run("schema_failure_carries_salvage", func(t *testing.T) {
		body := `{"parlay": [
			{"market": "moneyline", "selection": "Celtics ML", "confidence": "high"},
			{"market": "???", "selection": "broken", "confidence": "high"}
		]}`
		_, err := Parse(body)
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("error type = %T, want *SchemaError", err)
		}
		if schemaErr.Salvaged == nil || len(schemaErr.Salvaged.Legs) != 1 {
			t.Fatalf("salvage = %+v, want exactly the one valid leg", schemaErr.Salvaged)
		}
		if schemaErr.Salvaged.Legs[0].Selection != "Celtics ML" {
			t.Errorf("salvaged leg = %+v", schemaErr.Salvaged.Legs[0])
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse("no structured content here")
		var malformed *MalformedJSONError
		if !errors.As(err, &malformed) {
			t.Errorf("error type = %T, want *MalformedJSONError", err)
		}
	})

	t.Run("array_only_single_leg", func(t *testing.T) {
		got, err := Parse(`[{"market":"moneyline","selection":"A -3","confidence":"HIGH"}]`)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		want := &research.Result{
			Legs: []research.Leg{{
				Market:       research.MarketMoneyline,
				Selection:    "A -3",
				BookExamples: []string{},
				Confidence:   research.ConfidenceHigh,
			}},
			Rationales: []string{},
			Risks:      "",
			Sources:    []string{},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Parse mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestFencedDirtyEqualsCleanResult(t *testing.T) {
	clean := `{"parlay": [{"market": "spread", "selection": "Bills -3.5", "confidence": "low"}], "sources": ["https://x"]}`
	dirty := "Here you go:\n```json\n" +
		`{"parlay": [{"market": "spread", "selection": "Bills -3.5", "confidence": "low"},], "sources": ["https://x"],}` +
		"\n```"

	fromClean, err := Parse(clean)
	if err != nil {
		t.Fatalf("Parse(clean): %v", err)
	}
	fromDirty, err := Parse(dirty)
	if err != nil {
		t.Fatalf("Parse(dirty): %v", err)
	}
	if diff := cmp.Diff(fromClean, fromDirty); diff != "" {
		t.Errorf("fenced+trailing-comma input diverged from clean input (-clean +dirty):\n%s", diff)
	}
}
