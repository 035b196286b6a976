package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/journal"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath string
		runID      string
		limit      int
	)
	runsCmd := flag.NewFlagSet("runs", flag.ExitOnError)
	runsCmd.StringVar(&configPath, "config", "interpreter.yaml", "Path to configuration file")
	runsCmd.IntVar(&limit, "limit", 20, "Maximum runs to list")

	cyclesCmd := flag.NewFlagSet("cycles", flag.ExitOnError)
	cyclesCmd.StringVar(&configPath, "config", "interpreter.yaml", "Path to configuration file")
	cyclesCmd.StringVar(&runID, "run", "", "Run ID")
	cyclesCmd.IntVar(&limit, "limit", 100, "Maximum cycles to list")

	pruneCmd := flag.NewFlagSet("prune", flag.ExitOnError)
	pruneCmd.StringVar(&configPath, "config", "interpreter.yaml", "Path to configuration file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'runs', 'cycles', 'prune' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "runs":
		runsCmd.Parse(os.Args[2:])
		err = withJournal(configPath, func(ctx context.Context, j *journal.Journal) error {
			return printRuns(ctx, os.Stdout, j, limit)
		})
	case "cycles":
		cyclesCmd.Parse(os.Args[2:])
		if runID == "" {
			fmt.Fprintln(os.Stderr, "-run is required")
			os.Exit(2)
		}
		err = withJournal(configPath, func(ctx context.Context, j *journal.Journal) error {
			return printCycles(ctx, os.Stdout, j, runID, limit)
		})
	case "prune":
		pruneCmd.Parse(os.Args[2:])
		err = withJournal(configPath, func(ctx context.Context, j *journal.Journal) error {
			return j.Prune(ctx)
		})
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withJournal(configPath string, fn func(context.Context, *journal.Journal) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Journal.RetentionMode == "ephemeral" {
		return fmt.Errorf("journal is ephemeral, nothing recorded")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	j, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(ctx, j)
}

func printRuns(ctx context.Context, w io.Writer, j *journal.Journal, limit int) error {
	runs, err := j.Runs(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tENDED\tCYCLES\tSTT\tTRANSLATE\tTTS")
	for _, r := range runs {
		ended := "-"
		if !r.EndedAt.IsZero() {
			ended = r.EndedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), ended, r.Cycles, r.STTMode, r.TranslateMode, r.TTSMode)
	}
	return tw.Flush()
}

func printCycles(ctx context.Context, w io.Writer, j *journal.Journal, runID string, limit int) error {
	cycles, err := j.ListCycles(ctx, runID, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tCACHE\tRECOGNIZE\tTRANSLATE\tSPEAK\tTRANSCRIPT\tTRANSLATION")
	for _, c := range cycles {
		cache := "miss"
		if c.CacheHit {
			cache = "hit"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%dms\t%dms\t%s\t%s\n",
			c.StartedAt.Local().Format(time.TimeOnly), c.Outcome, cache,
			c.RecognizeMS, c.TranslateMS, c.SpeakMS, c.Transcript, c.Translation)
	}
	return tw.Flush()
}
