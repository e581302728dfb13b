package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"parlayscout/internal/config"
	"parlayscout/internal/job"
	"parlayscout/internal/parser"
	"parlayscout/internal/quota"
	"parlayscout/internal/research"
	"parlayscout/internal/sportsdata"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// research flags
	userID      string
	sport       string
	legs        int
	date        string
	region      string
	constraints string

	// sports flags
	endDate string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parlayscout",
	Short: "parlayscout - deep-research sports parlay assistant",
	Long: `parlayscout runs long-lived research jobs that build a sports parlay
recommendation from live web research, with per-user daily quotas and
heartbeat status reporting while a job is in flight.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		if cfg.Logging.Format == "text" {
			zcfg = zap.NewDevelopmentConfig()
		}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// researchCmd runs one research job end to end.
var researchCmd = &cobra.Command{
	Use:   "research [query]",
	Short: "Run a deep-research parlay job",
	Long: `Runs one research job: admission against the daily quota, the model
call with live web search, and strict validation of the returned picks.

Example:
  parlayscout research "safe favorites tonight" --sport nba --legs 3 --date today`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

// quotaCmd reports remaining runs for a user.
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show remaining research runs for today",
	RunE:  runQuota,
}

// sportsCmd groups the raw sports data lookups.
var sportsCmd = &cobra.Command{
	Use:   "sports",
	Short: "Scores, schedules, standings, and odds lookups",
}

var sportsGamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List games for a date",
	RunE:  runSportsGames,
}

var sportsScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "List games in a date window (up to 14 days)",
	RunE:  runSportsSchedule,
}

var sportsStandingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Show current standings",
	RunE:  runSportsStandings,
}

var sportsOddsCmd = &cobra.Command{
	Use:   "odds",
	Short: "Show game odds for a date",
	RunE:  runSportsOdds,
}

var sportsTeamsCmd = &cobra.Command{
	Use:   "teams [name]",
	Short: "List teams, or find one by name",
	RunE:  runSportsTeams,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "parlayscout.yaml", "config file path")

	researchCmd.Flags().StringVar(&userID, "user", "", "user id the quota applies to")
	researchCmd.Flags().StringVar(&sport, "sport", "", "sport key (nba, nfl, mlb, ...)")
	researchCmd.Flags().IntVar(&legs, "legs", 3, "number of parlay legs (2-6)")
	researchCmd.Flags().StringVar(&date, "date", "today", "slate date (ISO, today, tomorrow)")
	researchCmd.Flags().StringVar(&region, "region", "", "sportsbook region hint")
	researchCmd.Flags().StringVar(&constraints, "constraints", "", "extra constraints for the research")
	_ = researchCmd.MarkFlagRequired("user")
	_ = researchCmd.MarkFlagRequired("sport")

	quotaCmd.Flags().StringVar(&userID, "user", "", "user id to report on")
	_ = quotaCmd.MarkFlagRequired("user")

	sportsCmd.PersistentFlags().StringVar(&sport, "sport", "", "sport key (nba, nfl, mlb, ...)")
	sportsCmd.PersistentFlags().StringVar(&date, "date", "today", "date (ISO, today, tomorrow)")
	_ = sportsCmd.MarkPersistentFlagRequired("sport")
	sportsScheduleCmd.Flags().StringVar(&endDate, "end", "", "window end date (ISO), defaults to start")

	sportsCmd.AddCommand(sportsGamesCmd, sportsScheduleCmd, sportsStandingsCmd, sportsOddsCmd, sportsTeamsCmd)
	rootCmd.AddCommand(researchCmd, quotaCmd, sportsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is canceled on SIGINT/SIGTERM so in-flight jobs and
// lookups shut down cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openLedger() (*quota.Ledger, error) {
	return quota.Open(cfg.Quota.DatabasePath, quota.Options{
		DailyMax: cfg.Quota.DailyMax,
		Timezone: cfg.Quota.Timezone,
		Logger:   logger.Named("quota"),
	})
}

func sportsClient() (*sportsdata.Client, error) {
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		return nil, err
	}
	return sportsdata.NewClient(cfg.Sports.APIKey, sportsdata.Options{
		BaseURL:    cfg.Sports.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Sports.Timeout},
		Timezone:   loc,
		Logger:     logger.Named("sportsdata"),
	})
}

// normalizeSport lowercases the key and resolves the common ufc alias.
func normalizeSport(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "ufc" {
		return "mma"
	}
	return s
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	completer, err := research.NewGeminiCompleter(ctx, cfg.Worker.APIKey, cfg.Worker.Model)
	if err != nil {
		return err
	}
	worker := research.NewWorker(completer, cfg.Worker.RetryLimit, cfg.Worker.InitialBackoff, logger.Named("worker"))

	orch := job.New(ledger, worker, job.Options{
		Timeout:           cfg.Job.Timeout,
		HeartbeatInterval: cfg.Job.HeartbeatInterval,
		Logger:            logger.Named("job"),
	})

	req := research.Request{
		Query:       strings.Join(args, " "),
		Sport:       normalizeSport(sport),
		Legs:        legs,
		Date:        date,
		Region:      region,
		Constraints: constraints,
	}

	handle, err := orch.Start(ctx, userID, req)
	if err != nil {
		var quotaErr *job.QuotaExceededError
		if errors.As(err, &quotaErr) {
			fmt.Printf("Daily limit reached: %d successful runs per day. Try again tomorrow.\n", quotaErr.Limit)
			return nil
		}
		return err
	}

	fmt.Printf("Job %s started (%s, %d legs, %s)\n", handle.JobID, req.Sport, req.Legs, req.Date)
	for status := range handle.Status() {
		switch status.Phase {
		case job.PhaseWaiting:
			fmt.Printf("%s waiting...\n", job.SpinnerGlyph(status.SpinnerFrame))
		case job.PhaseRunning:
			fmt.Printf("%s researching... %ds elapsed\n", job.SpinnerGlyph(status.SpinnerFrame), status.ElapsedSeconds)
		case job.PhaseProcessing:
			fmt.Printf("%s processing results...\n", job.SpinnerGlyph(status.SpinnerFrame))
		}
	}

	result, err := handle.Result(ctx)
	if err != nil {
		var schemaErr *parser.SchemaError
		if errors.As(err, &schemaErr) && schemaErr.Salvaged != nil && len(schemaErr.Salvaged.Legs) > 0 {
			fmt.Printf("Research returned %d usable leg(s), but the full slate failed validation: %s\n",
				len(schemaErr.Salvaged.Legs), schemaErr.Reason)
			printResult(schemaErr.Salvaged)
			return nil
		}
		if errors.Is(err, job.ErrJobTimeout) {
			fmt.Println("Research took too long and was stopped. This run does not count against your quota.")
			return nil
		}
		return err
	}

	printResult(result)
	return nil
}

func printResult(r *research.Result) {
	fmt.Printf("\nParlay (%d legs):\n", len(r.Legs))
	for i, leg := range r.Legs {
		fmt.Printf("  %d. [%s] %s (%s confidence)\n", i+1, leg.Market, leg.Selection, leg.Confidence)
		if len(leg.BookExamples) > 0 {
			fmt.Printf("     books: %s\n", strings.Join(leg.BookExamples, ", "))
		}
	}
	if len(r.Rationales) > 0 {
		fmt.Println("\nWhy:")
		for _, why := range r.Rationales {
			fmt.Printf("  - %s\n", why)
		}
	}
	if r.Risks != "" {
		fmt.Printf("\nRisks: %s\n", r.Risks)
	}
	if len(r.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range r.Sources {
			fmt.Printf("  %s\n", src)
		}
	}
}

func runQuota(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	remaining, refDate, err := ledger.Remaining(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d of %d runs remaining for %s\n", userID, remaining, ledger.DailyMax(), refDate)
	return nil
}

func runSportsGames(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := sportsClient()
	if err != nil {
		return err
	}
	iso := client.NormalizeDate(date)
	games, err := client.GamesByDate(ctx, normalizeSport(sport), iso)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Printf("No %s games on %s.\n", strings.ToUpper(sport), iso)
		return nil
	}
	return printRows(games)
}

func runSportsSchedule(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := sportsClient()
	if err != nil {
		return err
	}
	start := client.NormalizeDate(date)
	end := start
	if endDate != "" {
		end = client.NormalizeDate(endDate)
	}
	games, err := client.ScheduleWindow(ctx, normalizeSport(sport), start, end)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Printf("No %s games between %s and %s.\n", strings.ToUpper(sport), start, end)
		return nil
	}
	return printRows(games)
}

func runSportsStandings(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := sportsClient()
	if err != nil {
		return err
	}
	rows, err := client.Standings(ctx, normalizeSport(sport))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("No standings available for %s.\n", strings.ToUpper(sport))
		return nil
	}
	return printRows(rows)
}

func runSportsOdds(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := sportsClient()
	if err != nil {
		return err
	}
	iso := client.NormalizeDate(date)
	rows, err := client.OddsByDate(ctx, normalizeSport(sport), iso)
	if err != nil {
		var unavailable *sportsdata.OddsUnavailableError
		if errors.As(err, &unavailable) {
			fmt.Printf("Odds feed not available for %s on this plan.\n", strings.ToUpper(sport))
			return nil
		}
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("No %s odds on %s.\n", strings.ToUpper(sport), iso)
		return nil
	}
	return printRows(rows)
}

func runSportsTeams(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := sportsClient()
	if err != nil {
		return err
	}
	teams, err := client.Teams(ctx, normalizeSport(sport))
	if err != nil {
		return err
	}
	if len(args) > 0 {
		team, ok := sportsdata.MatchTeam(teams, strings.Join(args, " "))
		if !ok {
			fmt.Printf("No team matching %q.\n", strings.Join(args, " "))
			return nil
		}
		return printRows([]map[string]any{team})
	}
	return printRows(teams)
}

// printRows renders vendor rows as indented JSON; the vendor schema
// varies too much per league for a fixed table.
func printRows(rows []map[string]any) error {
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
