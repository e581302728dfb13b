package research

import (
	"fmt"
	"strings"
	"time"
)

// systemRules steers the model toward cautious, cited, JSON-only output.
const systemRules = `You are a cautious, evidence-based sports research assistant.
- Use current, reputable sources (prefer last 48 hours).
- Cite sources with URLs for every factual claim (injuries, starting lineups, weather, odds movement).
- Never promise certainty or guaranteed profit; note material uncertainties (rest, travel, lineup changes).
- Optimize for expected value: identify mispricings, matchup edges, and widely available lines.
- Consider: injuries & status, projected starters, travel & rest, pace/tempo, matchup stats, weather (outdoor),
  line movement & market consensus, and book availability by region.
- Output STRICT JSON per the target shape. No extra prose.`

// SystemRules returns the system prompt for research calls.
func SystemRules() string { return systemRules }

// BuildUserPrompt assembles the user prompt for one request. The JSON
// shape contract at the end must stay in sync with the parser schema.
func BuildUserPrompt(req Request) string {
	when := req.Date
	if when == "" {
		when = time.Now().Format("2006-01-02")
	}

	regionLine := "Region: unspecified"
	if req.Region != "" {
		regionLine = "Region: " + req.Region
	}
	constraintsLine := "Constraints: none"
	if req.Constraints != "" {
		constraintsLine = "Constraints: " + req.Constraints
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: Research a %d-leg %s parlay for games on %s only.\n",
		req.Legs, strings.ToUpper(req.Sport), when)
	fmt.Fprintf(&b, "User request (exact focus): %s\n", strings.TrimSpace(req.Query))
	b.WriteString(regionLine + "\n")
	b.WriteString(constraintsLine + "\n\n")
	fmt.Fprintf(&b, `Strict requirements:
- Only include legs from games scheduled on %[1]s.
- Prefer lines that are widely available in the user's region when specified.
- Provide citations/links for lineup/injury/weather/odds information and any key matchup or market claims.
- Prioritize edges that stem from real, recent data (last 48h), including odds movement and confirmed starters.
- If data is stale or uncertain, flag it clearly.
- If no edge exists for a leg, propose a safer alternative or omit the leg and explain why.
- Use at most 4 high-quality sources; stop early if two independent sources agree.
- Do not explore unrelated games/markets; ignore generic previews without concrete data.

Return ONLY a minified JSON object with exactly the keys: parlay, rationales, risks, sources.
Shape:
{
  "parlay": [
    {
      "market": "moneyline|spread|total|player-prop",
      "selection": "e.g., BOS -3.5 or Shohei Ohtani O1.5 TB",
      "book_examples": ["DraftKings","FanDuel"],
      "confidence": "low|medium|high"
    }
  ],
  "rationales": ["why leg 1", "why leg 2", "..."],
  "risks": "key caveats & what could invalidate edge",
  "sources": ["https://...", "https://..."]
}`, when)
	return b.String()
}
