// Package sportsdata is a read-through, TTL-cached client for the
// SportsDataIO REST API. It exists to ground research prompts in real
// schedules, standings, and odds rather than model recall.
package sportsdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBaseURL = "https://api.sportsdata.io"

// Per-kind cache lifetimes, in line with how fast each feed changes.
const (
	ttlScores    = 30 * time.Second
	ttlSchedule  = 300 * time.Second
	ttlStandings = 1800 * time.Second
	ttlOdds      = 30 * time.Second
	ttlTeams     = 86400 * time.Second
)

// Sport describes how one supported sport maps onto the vendor API.
// The vendor exposes team-like rosters under different endpoint names
// depending on the sport.
type Sport struct {
	League        string
	TeamsEndpoint string
}

// SportMap routes user-facing sport keys to vendor leagues. Callers are
// expected to alias "ufc" to "mma" before lookup.
var SportMap = map[string]Sport{
	"nfl":        {League: "nfl", TeamsEndpoint: "Teams"},
	"nba":        {League: "nba", TeamsEndpoint: "Teams"},
	"mlb":        {League: "mlb", TeamsEndpoint: "Teams"},
	"nhl":        {League: "nhl", TeamsEndpoint: "Teams"},
	"ncaaf":      {League: "cfb", TeamsEndpoint: "Teams"},
	"ncaab":      {League: "cbb", TeamsEndpoint: "Teams"},
	"wnba":       {League: "wnba", TeamsEndpoint: "Teams"},
	"mls":        {League: "soccer-mls", TeamsEndpoint: "Teams"},
	"epl":        {League: "soccer-premier-league", TeamsEndpoint: "Teams"},
	"laliga":     {League: "soccer-la-liga", TeamsEndpoint: "Teams"},
	"seriea":     {League: "soccer-serie-a", TeamsEndpoint: "Teams"},
	"bundesliga": {League: "soccer-bundesliga", TeamsEndpoint: "Teams"},
	"ucl":        {League: "soccer-uefa-champions-league", TeamsEndpoint: "Teams"},
	"f1":         {League: "f1", TeamsEndpoint: "Teams"},
	"nascar":     {League: "nascar", TeamsEndpoint: "Teams"},
	"golf":       {League: "golf", TeamsEndpoint: "Teams"},
	"tennis":     {League: "tennis", TeamsEndpoint: "Competitors"},
	"mma":        {League: "mma", TeamsEndpoint: "Fighters"},
	"boxing":     {League: "boxing", TeamsEndpoint: "Fighters"},
}

// StatusError is a non-2xx vendor response.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sportsdata: %s returned %d", e.Path, e.Code)
}

// OddsUnavailableError marks an odds feed the current subscription does
// not cover. It is a recognized condition, not an outage.
type OddsUnavailableError struct {
	Status int
}

func (e *OddsUnavailableError) Error() string {
	return fmt.Sprintf("sportsdata: odds unavailable (status %d)", e.Status)
}

type cacheEntry struct {
	expires time.Time
	value   []map[string]any
}

// ttlCache is a per-client in-memory cache. Entries expire lazily on
// read.
type ttlCache struct {
	mu    sync.Mutex
	store map[string]cacheEntry
	now   func() time.Time
}

func newTTLCache(now func() time.Time) *ttlCache {
	return &ttlCache{store: make(map[string]cacheEntry), now: now}
}

func (c *ttlCache) get(key string) ([]map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.store, key)
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value []map[string]any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = cacheEntry{expires: c.now().Add(ttl), value: value}
}

// Client talks to SportsDataIO. It owns its HTTP client and cache; it
// is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cache   *ttlCache
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides the vendor host, for tests.
	BaseURL string

	// HTTPClient overrides the owned client. Default: 20s total timeout.
	HTTPClient *http.Client

	// Timezone resolves "today"/"tomorrow" date shorthand. Default
	// America/New_York.
	Timezone *time.Location

	Logger *zap.Logger
}

// NewClient creates a SportsDataIO client.
func NewClient(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sportsdata: API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.Timezone == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("sportsdata: load timezone: %w", err)
		}
		opts.Timezone = loc
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	now := time.Now
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  apiKey,
		http:    opts.HTTPClient,
		cache:   newTTLCache(now),
		loc:     opts.Timezone,
		logger:  opts.Logger,
		now:     now,
	}, nil
}

// NormalizeDate resolves "today" and common spellings of "tomorrow"
// into an ISO date in the client's timezone. Anything else passes
// through untouched.
func (c *Client) NormalizeDate(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return c.now().In(c.loc).Format("2006-01-02")
	case "tomorrow", "tmr", "tommorow", "tomorow":
		return c.now().In(c.loc).AddDate(0, 0, 1).Format("2006-01-02")
	}
	return s
}

// vendorDate converts an ISO date to the vendor's 2026-AUG-28 path
// format. Unparseable input passes through so the vendor reports the
// error.
func vendorDate(iso string) string {
	d, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	return strings.ToUpper(d.Format("2006-Jan-02"))
}

func leagueFor(sport string) (Sport, error) {
	m, ok := SportMap[strings.ToLower(strings.TrimSpace(sport))]
	if !ok {
		return Sport{}, fmt.Errorf("sportsdata: unsupported sport %q", sport)
	}
	return m, nil
}

// get performs one cached GET. The vendor rate-limits with 429; one
// short pause and retry covers the bursty case.
func (c *Client) get(ctx context.Context, path string, ttl time.Duration, key string) ([]map[string]any, error) {
	if cached, ok := c.cache.get(key); ok {
		return cached, nil
	}

	data, err := c.fetch(ctx, path)
	if err != nil {
		var se *StatusError
		if asStatus(err, &se) && se.Code == http.StatusTooManyRequests {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
			data, err = c.fetch(ctx, path)
		}
		if err != nil {
			return nil, err
		}
	}

	c.cache.set(key, data, ttl)
	return data, nil
}

func asStatus(err error, target **StatusError) bool {
	return errors.As(err, target)
}

func (c *Client) fetch(ctx context.Context, path string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("sportsdata: build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sportsdata: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Path: path}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sportsdata: read %s: %w", path, err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		// Some endpoints return a single object; wrap it so callers
		// always see a slice.
		var single map[string]any
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("sportsdata: decode %s: %w", path, err)
		}
		rows = []map[string]any{single}
	}
	return rows, nil
}

// Teams returns the roster of teams, competitors, or fighters for the
// sport, depending on how the vendor models it.
func (c *Client) Teams(ctx context.Context, sport string) ([]map[string]any, error) {
	m, err := leagueFor(sport)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v3/%s/scores/json/%s", m.League, m.TeamsEndpoint)
	return c.get(ctx, path, ttlTeams, "teams:"+m.League)
}

// GamesByDate returns the games for one ISO date. Leagues differ on
// whether the endpoint is GamesByDate or ScoresByDate, so a 404 on the
// first name falls through to the second. Both missing means no games.
func (c *Client) GamesByDate(ctx context.Context, sport, dateISO string) ([]map[string]any, error) {
	m, err := leagueFor(sport)
	if err != nil {
		return nil, err
	}
	sd := vendorDate(dateISO)

	for _, endpoint := range []string{"GamesByDate", "ScoresByDate"} {
		path := fmt.Sprintf("/v3/%s/scores/json/%s/%s", m.League, endpoint, sd)
		rows, err := c.get(ctx, path, ttlScores, fmt.Sprintf("scores:%s:%s:%s", m.League, sd, endpoint))
		if err != nil {
			var se *StatusError
			if asStatus(err, &se) && se.Code == http.StatusNotFound {
				continue
			}
			return nil, err
		}
		return rows, nil
	}
	return []map[string]any{}, nil
}

// ScheduleWindow returns all games between two ISO dates inclusive,
// clamped to 14 days. Days are fetched concurrently and returned in
// date order.
func (c *Client) ScheduleWindow(ctx context.Context, sport, startISO, endISO string) ([]map[string]any, error) {
	start, err := time.ParseInLocation("2006-01-02", startISO, c.loc)
	if err != nil {
		return nil, fmt.Errorf("sportsdata: bad start date %q: %w", startISO, err)
	}
	end, err := time.ParseInLocation("2006-01-02", endISO, c.loc)
	if err != nil {
		return nil, fmt.Errorf("sportsdata: bad end date %q: %w", endISO, err)
	}

	// Count calendar days, not elapsed hours, so DST transitions inside
	// the window cannot shave a day off.
	days := 0
	for d := start; d.Before(end) && days < 14; d = d.AddDate(0, 0, 1) {
		days++
	}

	byDay := make([][]map[string]any, days+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i <= days; i++ {
		i := i
		g.Go(func() error {
			iso := start.AddDate(0, 0, i).Format("2006-01-02")
			rows, err := c.GamesByDate(gctx, sport, iso)
			if err != nil {
				return err
			}
			byDay[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, rows := range byDay {
		out = append(out, rows...)
	}
	return out, nil
}

// Standings returns current standings. The vendor spells this endpoint
// differently per league, so a ladder of season and suffix variants is
// probed until one returns rows.
func (c *Client) Standings(ctx context.Context, sport string) ([]map[string]any, error) {
	m, err := leagueFor(sport)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v3/%s/scores/json/Standings", m.League)
	rows, err := c.get(ctx, path, ttlStandings, "stand:"+m.League+":current")
	if err == nil {
		return rows, nil
	}
	var se *StatusError
	if !asStatus(err, &se) || (se.Code != http.StatusBadRequest && se.Code != http.StatusNotFound) {
		return nil, err
	}

	year := c.now().In(c.loc).Year()
	templates := []string{
		"/v3/%s/scores/json/StandingsBySeason/%s",
		"/v3/%s/scores/json/Standings/%s",
		"/v3/%s/scores/json/StandingsBasic/%s",
	}
	for _, yr := range []int{year, year - 1} {
		for _, suffix := range []string{"", "REG", "POST", "PRE"} {
			season := fmt.Sprintf("%d%s", yr, suffix)
			for _, tmpl := range templates {
				path := fmt.Sprintf(tmpl, m.League, season)
				rows, err := c.get(ctx, path, ttlStandings, fmt.Sprintf("stand:%s:%s:%s", m.League, season, tmpl))
				if err != nil {
					if asStatus(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusNotFound) {
						continue
					}
					return nil, err
				}
				if len(rows) > 0 {
					return rows, nil
				}
			}
		}
	}
	return []map[string]any{}, nil
}

// OddsByDate returns game odds for one ISO date. A 403 or 404 means the
// subscription does not include this feed, reported as
// *OddsUnavailableError rather than a generic failure.
func (c *Client) OddsByDate(ctx context.Context, sport, dateISO string) ([]map[string]any, error) {
	m, err := leagueFor(sport)
	if err != nil {
		return nil, err
	}
	sd := vendorDate(dateISO)
	path := fmt.Sprintf("/v3/%s/odds/json/GameOddsByDate/%s", m.League, sd)

	rows, err := c.get(ctx, path, ttlOdds, fmt.Sprintf("odds:%s:%s", m.League, sd))
	if err != nil {
		var se *StatusError
		if asStatus(err, &se) && (se.Code == http.StatusForbidden || se.Code == http.StatusNotFound) {
			return nil, &OddsUnavailableError{Status: se.Code}
		}
		return nil, err
	}
	return rows, nil
}

// matchKeys lists the identity fields a roster row may carry, most
// specific first.
var matchKeys = []string{"Name", "FullName", "City", "Team", "Nickname", "Key"}

// MatchTeam finds the first roster row whose identity fields equal or
// contain the query, case-insensitively.
func MatchTeam(teams []map[string]any, query string) (map[string]any, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, false
	}
	for _, t := range teams {
		for _, k := range matchKeys {
			raw, ok := t[k]
			if !ok {
				continue
			}
			v := strings.ToLower(fmt.Sprintf("%v", raw))
			if v != "" && (q == v || strings.Contains(v, q)) {
				return t, true
			}
		}
	}
	return nil, false
}

// SupportedSports returns the sport keys in sorted order, for help text.
func SupportedSports() []string {
	keys := make([]string, 0, len(SportMap))
	for k := range SportMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
