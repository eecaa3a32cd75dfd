// Package main is the entrypoint for the prediction backfill tool.
//
// It asks a running Tangyuling API to compute and store beach trash
// predictions for every date in a range (or the first of each month with
// -monthly).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tangyuling/deploy/internal/backfill"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		startInput = fs.String("start", "", "Start date (YYYY-MM-DD)")
		endInput   = fs.String("end", "", "End date (YYYY-MM-DD), inclusive")
		monthly    = fs.Bool("monthly", false, "Only request the first day of each month")
		baseURL    = fs.String("base-url", envOrDefault("API_BASE_URL", "http://localhost:8000"), "Base URL of the Tangyuling API")
		timeout    = fs.Duration("timeout", backfill.DefaultTimeout, "Timeout per request")
		pause      = fs.Duration("pause", backfill.DefaultPause, "Pause between requests")
		logFormat  = fs.String("log-format", envOrDefault("LOG_FORMAT", "text"), "Log format: text or json")
	)
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: backfill -start YYYY-MM-DD -end YYYY-MM-DD [-monthly]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *startInput == "" || *endInput == "" {
		fmt.Fprintln(stdout, "both -start and -end are required")
		fs.Usage()
		return 1
	}

	start, err := backfill.ParseDate(*startInput)
	if err != nil {
		fmt.Fprintln(stdout, err.Error())
		return 1
	}
	end, err := backfill.ParseDate(*endInput)
	if err != nil {
		fmt.Fprintln(stdout, err.Error())
		return 1
	}

	mode := backfill.Daily
	if *monthly {
		mode = backfill.Monthly
	}

	dates, err := backfill.Dates(start, end, mode)
	if err != nil {
		fmt.Fprintln(stdout, err.Error())
		return 1
	}

	logger := newLogger(stdout, *logFormat)
	logger.Info("backfill started",
		"start", start.Format(backfill.DateLayout),
		"end", end.Format(backfill.DateLayout),
		"days", int(end.Sub(start).Hours()/24)+1,
		"requests", len(dates),
		"mode", mode,
		"base_url", *baseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := backfill.New(nil, backfill.Options{
		BaseURL: *baseURL,
		Timeout: *timeout,
		Pause:   *pause,
	}, logger)

	began := time.Now()
	summary, err := b.Run(ctx, dates)
	printSummary(stdout, summary, time.Since(began))
	if err != nil {
		logger.Error("backfill interrupted", "error", err)
		return 1
	}
	if !summary.OK() {
		return 1
	}
	return 0
}

func printSummary(w io.Writer, s *backfill.Summary, elapsed time.Duration) {
	line := strings.Repeat("=", 50)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "backfill complete")
	fmt.Fprintf(w, "succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(w, "failed:    %d\n", s.Failed)
	fmt.Fprintf(w, "total:     %d\n", s.Total())
	fmt.Fprintf(w, "elapsed:   %s\n", elapsed.Round(time.Second))
	for _, day := range s.Days {
		date := day.Date.Format(backfill.DateLayout)
		if day.Err != nil {
			fmt.Fprintf(w, "  %s: %v\n", date, day.Err)
			continue
		}
		fmt.Fprintf(w, "  %s: %d beaches\n", date, len(day.Beaches))
		for _, line := range backfill.Preview(day.Beaches) {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	fmt.Fprintln(w, line)
}

func newLogger(w io.Writer, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
