package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "backfill":
		return runBackfill(args[1:])
	case "digest":
		return runDigest(args[1:])
	case "run", "process":
		return runPipeline(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "keywords":
		return runKeywords(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newswatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newswatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest    Fetch RSS and GNews sources, then enrich short excerpts")
	fmt.Fprintln(os.Stderr, "  dedup     Mark headline duplicates across the recency window")
	fmt.Fprintln(os.Stderr, "  analyze   Keyword-filter and classify unanalyzed articles")
	fmt.Fprintln(os.Stderr, "  cluster   Group relevant articles into stories")
	fmt.Fprintln(os.Stderr, "  backfill  Dedup, then cluster everything unclustered")
	fmt.Fprintln(os.Stderr, "  digest    Print the daily digest")
	fmt.Fprintln(os.Stderr, "  run       Run the full pipeline once")
	fmt.Fprintln(os.Stderr, "  process   Alias for run")
	fmt.Fprintln(os.Stderr, "  runs      List recent pipeline runs")
	fmt.Fprintln(os.Stderr, "  keywords  Show the keyword tiers in effect")
	fmt.Fprintln(os.Stderr, "  serve     Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newswatch <command> -h\" for command-specific flags.")
}
