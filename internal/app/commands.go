package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/newswatch/internal/category"
	"horse.fit/newswatch/internal/cli"
	"horse.fit/newswatch/internal/digest"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/ingest"
)

const connectTimeout = 10 * time.Second

func newFlagSet(name string) (*flag.FlagSet, *cli.EnvLoader) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs, cli.AddEnvFlag(fs, ".env", "Path to the .env file")
}

// parseArgs parses flags and rejects positional arguments. ok is false when the command should
// exit with code.
func parseArgs(fs *flag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "%s does not accept positional arguments\n", fs.Name())
		return 2, false
	}
	return 0, true
}

// start connects and wires the stages, reporting failures on stderr.
func start(envLoader *cli.EnvLoader, timeout time.Duration) (context.Context, context.CancelFunc, *runtime, *components, bool) {
	rt, err := bootstrap(envLoader, connectTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, nil, nil, false
	}
	c, err := rt.components()
	if err != nil {
		rt.Close()
		fmt.Fprintf(os.Stderr, "Failed to wire pipeline: %v\n", err)
		return nil, nil, nil, nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel, rt, c, true
}

func windowStart(hours int, fallback time.Duration) time.Time {
	if hours > 0 {
		return globaltime.UTC().Add(-time.Duration(hours) * time.Hour)
	}
	return globaltime.UTC().Add(-fallback)
}

func runHealth(args []string) int {
	fs, envLoader := newFlagSet("health")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}

	rt, err := bootstrap(envLoader, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := rt.pool.Ping(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	rt.logger.Info().Dur("timeout", *timeout).Msg("database health check passed")
	fmt.Println("ok: database ping successful")
	return 0
}

func runIngest(args []string) int {
	fs, envLoader := newFlagSet("ingest")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	skipEnrich := fs.Bool("skip-enrich", false, "Do not fetch full text for short excerpts")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	result, err := c.ingest.Run(ctx)
	if err != nil && !errors.Is(err, ingest.ErrAllSourcesFailed) {
		rt.logger.Error().Err(err).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(os.Stderr, "feed error: %s\n", msg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	enriched := 0
	if c.enrich != nil && !*skipEnrich {
		enrichResult, err := c.enrich.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: enrichment failed: %v\n", err)
		}
		enriched = enrichResult.Enriched
	}

	fmt.Printf(
		"ingest feeds=%d feeds_failed=%d found=%d known=%d inserted=%d rss=%d gnews=%d duplicates=%d enriched=%d default_sources=%t\n",
		result.Feeds,
		result.FeedsFailed,
		result.Found,
		result.Known,
		result.Inserted,
		result.FromRSS,
		result.FromGNews,
		result.Duplicates,
		enriched,
		c.sourcesFromDefaults,
	)
	return 0
}

func runDedup(args []string) int {
	fs, envLoader := newFlagSet("dedup")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	hours := fs.Int("hours", 0, "Lookback in hours (default MAX_ARTICLE_AGE_HOURS)")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	if *hours < 0 {
		fmt.Fprintln(os.Stderr, "--hours must be >= 0")
		return 2
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	result, err := c.dedup.Backfill(ctx, windowStart(*hours, rt.cfg.RecencyWindow()))
	if err != nil {
		rt.logger.Error().Err(err).Msg("dedup failed")
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", err)
		return 1
	}
	fmt.Printf("dedup scanned=%d marked=%d\n", result.Scanned, len(result.Links))
	return 0
}

func runAnalyze(args []string) int {
	fs, envLoader := newFlagSet("analyze")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	attempts := fs.Int("attempts", 0, "Maximum passes (default MAX_ANALYSIS_RETRIES)")
	once := fs.Bool("once", false, "Make a single budgeted pass")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	if *attempts < 0 {
		fmt.Fprintln(os.Stderr, "--attempts must be >= 0")
		return 2
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	maxAttempts := *attempts
	if maxAttempts == 0 {
		maxAttempts = rt.cfg.MaxAnalysisRetries
	}
	if *once {
		maxAttempts = 1
	}

	result, err := c.classify.RunUntilDrained(ctx, maxAttempts)
	for _, msg := range result.BatchErrors {
		fmt.Fprintf(os.Stderr, "batch error: %s\n", msg)
	}
	if err != nil {
		rt.logger.Error().Err(err).Msg("analysis failed")
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"analyze attempts=%d considered=%d keyword_passed=%d keyword_skipped=%d analyzed=%d relevant=%d data_errors=%d remaining=%d budget_exhausted=%t\n",
		result.Attempts,
		result.Considered,
		result.KeywordPassed,
		result.KeywordSkipped,
		result.Analyzed,
		result.Relevant,
		len(result.DataErrors),
		result.RemainingUnanalyzed,
		result.BudgetExhausted,
	)
	return 0
}

func runCluster(args []string) int {
	fs, envLoader := newFlagSet("cluster")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	hours := fs.Int("hours", 0, "Lookback in hours (default MAX_ARTICLE_AGE_HOURS)")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	if *hours < 0 {
		fmt.Fprintln(os.Stderr, "--hours must be >= 0")
		return 2
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	result, err := c.cluster.Run(ctx, windowStart(*hours, rt.cfg.RecencyWindow()))
	if err != nil {
		rt.logger.Error().Err(err).Msg("clustering failed")
		fmt.Fprintf(os.Stderr, "Clustering failed: %v\n", err)
		return 1
	}
	return reportClusters("cluster", result.Candidates, result.ClustersFormed, result.ArticlesClustered, result.SkippedReason, result.Err())
}

func runBackfill(args []string) int {
	fs, envLoader := newFlagSet("backfill")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	days := fs.Int("days", 7, "Lookback in days")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "--days must be > 0")
		return 2
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	since := windowStart(*days*24, 0)
	dedupResult, err := c.dedup.Backfill(ctx, since)
	if err != nil {
		rt.logger.Error().Err(err).Msg("dedup backfill failed")
		fmt.Fprintf(os.Stderr, "Dedup backfill failed: %v\n", err)
		return 1
	}
	fmt.Printf("dedup scanned=%d marked=%d\n", dedupResult.Scanned, len(dedupResult.Links))

	result, err := c.backfill.Run(ctx, since)
	if err != nil {
		rt.logger.Error().Err(err).Msg("cluster backfill failed")
		fmt.Fprintf(os.Stderr, "Cluster backfill failed: %v\n", err)
		return 1
	}
	return reportClusters("backfill", result.Candidates, result.ClustersFormed, result.ArticlesClustered, result.SkippedReason, result.Err())
}

func reportClusters(label string, candidates, formed, clustered int, skipped string, partitionErr error) int {
	fmt.Printf("%s candidates=%d clusters=%d articles_clustered=%d\n", label, candidates, formed, clustered)
	if skipped != "" {
		fmt.Printf("skipped: %s\n", skipped)
	}
	if partitionErr != nil {
		fmt.Fprintf(os.Stderr, "Some categories failed: %v\n", partitionErr)
		return 1
	}
	return 0
}

func runDigest(args []string) int {
	fs, envLoader := newFlagSet("digest")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	format := fs.String("format", outputFormatText, "Output format: text or json")
	hours := fs.Int("hours", 24, "Lookback in hours")
	categoryFlag := fs.String("category", "", "Only include one category")
	summaries := fs.Bool("summaries", false, "Generate and store category summaries")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatText, outputFormatText, outputFormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}
	if *hours <= 0 {
		fmt.Fprintln(os.Stderr, "--hours must be > 0")
		return 2
	}
	categoryFilter := ""
	if raw := strings.TrimSpace(*categoryFlag); raw != "" {
		name, ok := category.Lookup(raw)
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown --category %q; expected one of: %s\n", raw, strings.Join(category.Order, ", "))
			return 2
		}
		categoryFilter = name
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	d, err := c.digest.Build(ctx, windowStart(*hours, 0), categoryFilter)
	if err != nil {
		rt.logger.Error().Err(err).Msg("digest failed")
		fmt.Fprintf(os.Stderr, "Digest failed: %v\n", err)
		return 1
	}
	if *summaries {
		if result := c.digest.Summarize(ctx, &d); result.Failed > 0 {
			fmt.Fprintf(os.Stderr, "Warning: %d category summaries failed\n", result.Failed)
		}
	}

	if outputFormat == outputFormatJSON {
		err = digest.WriteJSON(os.Stdout, d)
	} else {
		err = digest.WriteText(os.Stdout, d)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render digest: %v\n", err)
		return 1
	}
	return 0
}

func runPipeline(args []string) int {
	fs, envLoader := newFlagSet("run")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable, outputFormatTable, outputFormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	stats, runErr := c.pipeline.Run(ctx)
	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		rows := [][]string{
			{"run_uuid", stats.RunUUID},
			{"status", stats.Status},
			{"ingested", strconv.Itoa(stats.ArticlesIngested)},
			{"from_rss", strconv.Itoa(stats.ArticlesFromRSS)},
			{"from_gnews", strconv.Itoa(stats.ArticlesFromGNews)},
			{"enriched", strconv.Itoa(stats.ArticlesEnriched)},
			{"duplicates", strconv.Itoa(stats.DuplicatesMarked)},
			{"keyword_passed", strconv.Itoa(stats.ArticlesKeywordPassed)},
			{"keyword_skipped", strconv.Itoa(stats.ArticlesKeywordSkipped)},
			{"analyzed", strconv.Itoa(stats.ArticlesAnalyzed)},
			{"relevant", strconv.Itoa(stats.ArticlesRelevant)},
			{"remaining", strconv.Itoa(stats.RemainingUnanalyzed)},
			{"clusters", strconv.Itoa(stats.ClustersFormed)},
			{"clustering_skipped", strconv.FormatBool(stats.ClusteringSkipped)},
			{"digest_items", strconv.Itoa(stats.DigestItems)},
			{"duration_ms", strconv.FormatInt(stats.DurationMs, 10)},
		}
		if err := writeTable([]string{"field", "value"}, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
		for _, warning := range stats.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Pipeline failed: %v\n", runErr)
		return 1
	}
	return 0
}

func runRuns(args []string) int {
	fs, envLoader := newFlagSet("runs")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	days := fs.Int("days", 7, "Lookback in days")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable, outputFormatTable, outputFormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}
	if *days <= 0 || *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--days and --limit must be > 0")
		return 2
	}

	rt, err := bootstrap(envLoader, connectTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runs, err := rt.pool.ListRecentRuns(ctx, windowStart(*days*24, 0), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			formatUTCTimestamp(run.StartedAt),
			run.Status,
			strconv.Itoa(run.ArticlesIngested),
			strconv.Itoa(run.ArticlesAnalyzed),
			strconv.Itoa(run.ArticlesRelevant),
			strconv.Itoa(run.ClustersFormed),
			strconv.Itoa(run.RemainingUnanalyzed),
			strconv.FormatInt(run.TotalDurationMs, 10),
			truncateForTable(pointerStringOrEmpty(run.ErrorMessage), 60),
		})
	}
	if err := writeTable([]string{"STARTED", "STATUS", "INGESTED", "ANALYZED", "RELEVANT", "CLUSTERS", "REMAINING", "MS", "ERROR"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func runKeywords(args []string) int {
	fs, envLoader := newFlagSet("keywords")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable, outputFormatTable, outputFormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, rt, c, ok := start(envLoader, *timeout)
	if !ok {
		return 1
	}
	defer cancel()
	defer rt.Close()

	rules := c.rules.RuleSet(ctx)
	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{"fallback": rules.Fallback, "tiers": rules.Tiers}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if rules.Fallback {
		fmt.Println("source: built-in fallback")
	} else {
		fmt.Println("source: keyword_rules table")
	}
	rows := make([][]string, 0, rules.Tiers.Len())
	for _, tier := range []struct {
		name     string
		keywords []string
	}{
		{"primary", rules.Tiers.Primary},
		{"secondary", rules.Tiers.Secondary},
		{"context", rules.Tiers.Context},
	} {
		for _, keyword := range tier.keywords {
			rows = append(rows, []string{tier.name, keyword})
		}
	}
	if err := writeTable([]string{"TIER", "KEYWORD"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
