package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/osmetric/devwatch/internal/config"
	"github.com/osmetric/devwatch/internal/eventlog"
	"github.com/osmetric/devwatch/internal/hardware"
	"github.com/osmetric/devwatch/internal/llm"
	"github.com/osmetric/devwatch/internal/monitor"
	"github.com/osmetric/devwatch/internal/notification"
	"github.com/osmetric/devwatch/internal/storage"
	"github.com/osmetric/devwatch/pkg/logger"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return exitSuccess
	}

	switch args[0] {
	case "monitor":
		return runMonitor(args[1:])
	case "history":
		return runHistory(args[1:])
	case "stats":
		return runStats(args[1:])
	case "initdb":
		return runInitDB(args[1:])
	case "version", "-version", "--version":
		printVersion()
		return exitSuccess
	case "help", "-help", "--help", "-h":
		printUsage()
		return exitSuccess
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		return exitFailure
	}
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: search ./config and .)")
	quiet := fs.Bool("quiet", false, "log errors only")
	verbose := fs.Bool("verbose", false, "log debug details")
	noLLM := fs.Bool("no-llm", false, "disable model analysis for this run")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	// CLI verbosity flags override the configured level
	level := cfg.Logging.Level
	if *quiet {
		level = "error"
	} else if *verbose {
		level = "debug"
	}
	if *noLLM {
		cfg.LLM.Enabled = false
	}

	log := logger.New(logger.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Console: cfg.Logging.Console,
	})
	mainLog := log.Component("main")

	mainLog.Info().
		Str("version", version).
		Str("log_name", cfg.EventLog.LogName).
		Bool("analysis_enabled", cfg.LLM.Enabled).
		Msg("Starting device monitor")

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		mainLog.Error().Err(err).Msg("Failed to open database")
		return exitFailure
	}
	defer func(store *storage.Storage) {
		if err := store.Close(); err != nil {
			mainLog.Warn().Err(err).Msg("Failed to close database")
		}
	}(store)

	deps := monitor.Deps{
		Scanner: eventlog.NewScanner(
			eventlog.SystemSource{},
			cfg.EventLog.LogName,
			log.Component("eventlog"),
		),
		Collectors: hardware.DefaultCollectors(),
		Analyzer: llm.NewClient(llm.Config{
			Endpoint:         cfg.LLM.APIURL,
			Model:            cfg.LLM.Model,
			APIKey:           cfg.LLM.APIKey,
			Timeout:          cfg.LLM.RequestTimeout(),
			Temperature:      cfg.LLM.Temperature,
			MaxDigestLines:   cfg.LLM.MaxDigestLines,
			AbnormalKeywords: cfg.LLM.AbnormalKeywords,
			LogName:          cfg.EventLog.LogName,
		}, log.Component("llm")),
		Store: store,
	}

	if cfg.Telegram.Configured() {
		telegramClient, err := notification.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.AlertsChannel)
		if err != nil {
			mainLog.Warn().Err(err).Msg("Telegram client unavailable, alerts disabled")
		} else {
			defer func(telegramClient *notification.TelegramClient) {
				if err := telegramClient.Close(); err != nil {
					mainLog.Warn().Err(err).Msg("Failed to close Telegram client")
				}
			}(telegramClient)
			deps.Notifier = telegramClient
		}
	}

	mon := monitor.New(monitor.Config{
		LogName:         cfg.EventLog.LogName,
		MaxRecords:      cfg.EventLog.MaxEventsToRead,
		Criteria:        eventlog.Criteria{Sources: cfg.EventLog.TargetSources, EventIDs: cfg.EventLog.TargetEventIDs},
		AnalysisEnabled: cfg.LLM.Enabled,
		Threshold:       cfg.LLM.CheckThreshold,
	}, deps, log.Component("monitor"))

	report := mon.Run(ctx)

	if cfg.Database.RetentionDays > 0 {
		deleted, err := store.CleanupOldEvents(cfg.Database.RetentionDays)
		if err != nil {
			mainLog.Warn().Err(err).Msg("Retention cleanup failed")
		} else if deleted > 0 {
			mainLog.Info().
				Int64("deleted", deleted).
				Int("days", cfg.Database.RetentionDays).
				Msg("Old rows cleaned up")
		}
	}

	mainLog.Info().Str("summary", report.Summary).Msg("Monitoring completed")
	return exitSuccess
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: search ./config and .)")
	days := fs.Int("days", 7, "how many days back to query")
	limit := fs.Int("limit", 100, "maximum events to show")
	output := fs.String("output", "", "write to a file instead of stdout")
	asJSON := fs.Bool("json", false, "emit JSON instead of text")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return exitFailure
	}
	defer func(store *storage.Storage) {
		_ = store.Close()
	}(store)

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to create output file: %v\n", err)
			return exitFailure
		}
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Failed to close output file: %v\n", err)
			}
		}(f)
		w = f
	}

	if *asJSON {
		count, err := store.ExportEvents(w, *days)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			return exitFailure
		}
		if *output != "" {
			fmt.Printf("Exported %d events to %s\n", count, *output)
		}
		return exitSuccess
	}

	events, err := store.RecentEvents(*days, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "History query failed: %v\n", err)
		return exitFailure
	}

	if err := printHistory(w, events); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to write history: %v\n", err)
		return exitFailure
	}
	return exitSuccess
}

// printHistory renders events in the text layout: a header, then per
// event the timestamp/source/ID line, the message, the analysis when
// present, and a dashed separator.
func printHistory(w io.Writer, events []storage.Event) error {
	bw := bufio.NewWriter(w)
	separator := strings.Repeat("-", 50)

	_, _ = fmt.Fprintln(bw, "=== Event history ===")
	for _, event := range events {
		_, _ = fmt.Fprintf(bw, "[%s] %s (ID: %d)\n",
			event.Timestamp.Format(eventlog.DetailTimeLayout), event.Source, event.EventID)
		_, _ = fmt.Fprintf(bw, "Message: %s\n", event.Message)
		if event.Analysis != "" {
			_, _ = fmt.Fprintf(bw, "Analysis: %s\n", event.Analysis)
		}
		_, _ = fmt.Fprintln(bw, separator)
	}
	return bw.Flush()
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: search ./config and .)")
	days := fs.Int("days", 30, "how many days back to aggregate")
	asJSON := fs.Bool("json", false, "emit JSON instead of text")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return exitFailure
	}
	defer func(store *storage.Storage) {
		_ = store.Close()
	}(store)

	stats, err := store.Statistics(*days)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Statistics query failed: %v\n", err)
		return exitFailure
	}

	if *asJSON {
		encoded, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to encode statistics: %v\n", err)
			return exitFailure
		}
		fmt.Println(string(encoded))
		return exitSuccess
	}

	printStats(os.Stdout, stats)
	return exitSuccess
}

func printStats(w io.Writer, stats *storage.Statistics) {
	_, _ = fmt.Fprintf(w, "=== Event statistics (last %d days) ===\n", stats.Period.Days)
	_, _ = fmt.Fprintf(w, "Total events:   %d\n", stats.TotalEvents)
	_, _ = fmt.Fprintf(w, "Total abnormal: %d\n", stats.TotalAbnormal)

	if len(stats.Daily) > 0 {
		_, _ = fmt.Fprintln(w, "\nBy day:")
		for _, row := range stats.Daily {
			_, _ = fmt.Fprintf(w, "  %-12s %5d (%d abnormal)\n", row.Day, row.Count, row.Abnormal)
		}
	}
	if len(stats.BySource) > 0 {
		_, _ = fmt.Fprintln(w, "\nBy source:")
		for _, row := range stats.BySource {
			_, _ = fmt.Fprintf(w, "  %-45s %5d (%d abnormal)\n", row.Source, row.Count, row.Abnormal)
		}
	}
	if len(stats.ByEventID) > 0 {
		_, _ = fmt.Fprintln(w, "\nBy event ID:")
		for _, row := range stats.ByEventID {
			_, _ = fmt.Fprintf(w, "  %-12d %5d (%d abnormal)\n", row.EventID, row.Count, row.Abnormal)
		}
	}
}

func runInitDB(args []string) int {
	fs := flag.NewFlagSet("initdb", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: search ./config and .)")
	force := fs.Bool("force", false, "recreate the database file if it exists")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	if err := storage.InitDatabase(cfg.Database.Path, *force); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Database initialization failed: %v\n", err)
		return exitFailure
	}

	fmt.Printf("Database initialized at %s\n", cfg.Database.Path)
	return exitSuccess
}

func printVersion() {
	fmt.Printf("devwatch %s\n", version)
	if gitCommit != "unknown" {
		fmt.Printf("  commit: %s\n", gitCommit)
	}
	if buildTime != "unknown" {
		fmt.Printf("  built:  %s\n", buildTime)
	}
}

func printUsage() {
	fmt.Printf(`devwatch %s - device monitoring and event log analysis

Usage:
  devwatch <command> [flags]

Commands:
  monitor   scan the event log, snapshot hardware, escalate to analysis
  history   show stored events and their analyses
  stats     aggregate stored events by day, source, and event ID
  initdb    create the database schema
  version   print version information

Run 'devwatch <command> -h' for command flags.
`, version)
}
