package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/app"
	"github.com/dokzlo13/huestatus/internal/config"
	"github.com/dokzlo13/huestatus/internal/hue"
	"github.com/dokzlo13/huestatus/internal/ledger"
	"github.com/dokzlo13/huestatus/internal/scene"
)

const usage = `Usage: huestatus [flags] <command>

Commands:
  success    show the success pattern
  failure    show the failure pattern
  setup      discover and pair with a bridge, then create the scenes
  validate   check that the saved scenes still exist
  doctor     check the bridge, credential, lights and scenes
  history    list recent invocations

Flags:
`

type options struct {
	configPath    string
	force         bool
	bridge        string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
	verbose        bool
	quiet          bool
	test           bool
	nonInteractive bool
	limit          int
	eventType      string
	since          time.Duration
}

func defaultConfigPath() string {
	if p := os.Getenv("HUESTATUS_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "huestatus.yaml"
	}
	return filepath.Join(dir, "huestatus", "config.yaml")
}

func main() {
	var opts options

	// Support both -c and --config for config path
	defaultPath := defaultConfigPath()
	flag.StringVar(&opts.configPath, "config", defaultPath, "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", defaultPath, "Path to configuration file (shorthand)")
	flag.BoolVar(&opts.force, "force", false, "Replace an existing setup")
	flag.StringVar(&opts.bridge, "bridge", "", "Bridge address, skips discovery")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout")
	flag.IntVar(&opts.retryAttempts, "retry-attempts", 0, "Attempts per request")
	flag.DurationVar(&opts.retryDelay, "retry-delay", 0, "Delay between attempts")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&opts.quiet, "q", false, "Only log errors")
	flag.BoolVar(&opts.test, "test", false, "Show both patterns once after setup")
	flag.BoolVar(&opts.nonInteractive, "non-interactive", false, "Run setup without prompts, using every suitable light")
	flag.IntVar(&opts.limit, "limit", 20, "Entries shown by history")
	flag.StringVar(&opts.eventType, "type", "", "Only show history entries of this event type")
	flag.DurationVar(&opts.since, "since", 0, "Only show history entries newer than this (e.g. 24h)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(app.CategoryConfig.ExitCode())
	}
	command := flag.Arg(0)
	// Flags are also accepted after the command
	if err := flag.CommandLine.Parse(flag.Args()[1:]); err != nil {
		os.Exit(app.CategoryConfig.ExitCode())
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		setupLogging("info", false, true)
		log.Error().Err(err).Str("config", opts.configPath).Msg("Failed to load configuration")
		os.Exit(app.CategoryConfig.ExitCode())
	}
	applyFlags(cfg, opts)

	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Str("config", opts.configPath).Msg("Invalid configuration")
		os.Exit(app.CategoryConfig.ExitCode())
	}

	os.Exit(run(app.SignalContext(), cfg, command, opts))
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.bridge != "" {
		cfg.Bridge.Address = opts.bridge
	}
	if opts.timeout > 0 {
		cfg.Bridge.Timeout = config.Duration(opts.timeout)
	}
	if opts.retryAttempts > 0 {
		cfg.Bridge.RetryAttempts = opts.retryAttempts
	}
	if opts.retryDelay > 0 {
		cfg.Bridge.RetryDelay = config.Duration(opts.retryDelay)
	}
	switch {
	case opts.verbose:
		cfg.Log.Level = "debug"
	case opts.quiet:
		cfg.Log.Level = "error"
	}
}

func run(ctx context.Context, cfg *config.Config, command string, opts options) int {
	application, err := app.New(cfg, app.Deps{})
	if err != nil {
		return fail(err)
	}
	defer application.Close()

	log.Debug().Str("command", command).Str("invocation", application.InvocationID()).Msg("Starting huestatus")

	switch command {
	case app.PatternSuccess, app.PatternFailure:
		err = application.Status(ctx, command)
	case "setup":
		err = runSetup(ctx, application, cfg, opts)
	case "validate":
		err = runValidate(ctx, application)
	case "doctor":
		err = runDoctor(ctx, application)
	case "history":
		err = runHistory(application, opts)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flag.Usage()
		return app.CategoryConfig.ExitCode()
	}

	if err != nil {
		return fail(err)
	}
	return 0
}

func fail(err error) int {
	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("Interrupted")
		return app.CategoryOther.ExitCode()
	}
	category := app.Classify(err)
	log.Error().Err(err).Str("category", category.String()).Msg("Command failed")
	if hint := app.Hint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
	}
	return category.ExitCode()
}

func runSetup(ctx context.Context, application *app.App, cfg *config.Config, opts options) error {
	var prompter app.Prompter = newTerminalPrompter(os.Stdin, os.Stdout)
	if opts.nonInteractive {
		prompter = &autoPrompter{out: os.Stdout, deadline: cfg.Auth.Deadline.Duration()}
	}

	st, err := application.Setup(ctx, prompter, opts.force)
	if err != nil {
		return err
	}

	fmt.Printf("\nBridge %s (%s) paired at %s\n", st.BridgeName, st.BridgeID, st.Address)
	fmt.Printf("Lights: %d\n", len(st.Lights))
	for _, key := range []string{app.PatternSuccess, app.PatternFailure} {
		h := st.Patterns[key]
		fmt.Printf("  %-8s scene %s (%s)\n", key, h.ID, h.Name)
	}

	if opts.test {
		fmt.Println("\nShowing success, then failure...")
		return application.TestPatterns(ctx, 3*time.Second)
	}
	fmt.Println("\nTry it: huestatus success")
	return nil
}

func runDoctor(ctx context.Context, application *app.App) error {
	report, err := application.Doctor(ctx)
	if err != nil {
		return err
	}

	for _, c := range report.Checks {
		if c.OK() {
			fmt.Printf("ok    %-14s %s\n", c.Name, c.Detail)
			continue
		}
		fmt.Printf("FAIL  %-14s %s\n", c.Name, hue.Truncate(c.Err.Error(), hue.MaxDiagnosticLength))
	}
	return report.Err()
}

func runValidate(ctx context.Context, application *app.App) error {
	results, err := application.Validate(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var missing []string
	for _, k := range keys {
		status := "ok"
		if !results[k] {
			status = "missing"
			missing = append(missing, k)
		}
		fmt.Printf("%-8s %s\n", k, status)
	}
	if len(missing) > 0 {
		return &app.StatusError{
			Pattern: "validate",
			Err:     fmt.Errorf("%w: %v", scene.ErrSceneNotFound, missing),
			Hint:    "run 'huestatus setup --force' to recreate the scenes",
		}
	}
	return nil
}

func runHistory(application *app.App, opts options) error {
	filter, err := historyFilter(opts, time.Now())
	if err != nil {
		return err
	}
	entries, err := application.History(filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tDETAIL\tINVOCATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.EventType,
			detail(e),
			shortID(e.InvocationID),
		)
	}
	return w.Flush()
}

func historyFilter(opts options, now time.Time) (app.HistoryFilter, error) {
	filter := app.HistoryFilter{Limit: opts.limit}
	if opts.eventType != "" {
		t, err := ledger.ParseEventType(opts.eventType)
		if err != nil {
			return filter, err
		}
		filter.Type = t
	}
	if opts.since > 0 {
		filter.Since = now.Add(-opts.since)
	}
	return filter, nil
}

func detail(e *ledger.Entry) string {
	if msg, ok := e.Payload["error"].(string); ok {
		return hue.Truncate(msg, 60)
	}
	if p, ok := e.Payload["pattern"].(string); ok {
		return p
	}
	if id, ok := e.Payload["bridge_id"].(string); ok {
		return id
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for machines
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
