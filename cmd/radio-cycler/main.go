package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/radiocycler/radiocycler/pkg/bridge"
	"github.com/radiocycler/radiocycler/pkg/capture"
	"github.com/radiocycler/radiocycler/pkg/config"
	"github.com/radiocycler/radiocycler/pkg/cycle"
	"github.com/radiocycler/radiocycler/pkg/observability"
	"github.com/radiocycler/radiocycler/pkg/radio"
	"github.com/radiocycler/radiocycler/pkg/version"
)

const (
	exitOK           = 0
	exitRunFailed    = 1
	exitUsage        = 64
	exitConfigError  = 65
	exitRuntimeError = 66
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A bare invocation starts a run with compiled-in defaults, so the tool
	// can be pointed at a device with zero setup.
	if len(args) == 0 {
		return commandRun(nil)
	}

	switch args[0] {
	case "run":
		return commandRun(args[1:])
	case "validate-config":
		return commandValidate(args[1:])
	case "version":
		fmt.Println(version.Version)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: radio-cycler [command] [options]
Commands:
  run                Run the validation cycles (default when no command is given)
  validate-config    Validate the configuration file
  version            Print build version
`)
}

func commandRun(args []string) int {
	return commandRunWithWriters(args, os.Stdout, os.Stderr)
}

func commandRunWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	serial := fs.String("device", "", "device serial, overrides the configuration")
	cycles := fs.Int("cycles", 0, "cycle budget, overrides the configuration")
	dryRun := fs.Bool("dry-run", false, "probe the state once per cycle without toggling or rebooting")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, code := loadConfig(*configPath, stderr)
	if code != exitOK {
		return code
	}
	if *serial != "" {
		cfg.DeviceSerial = *serial
	}
	if *cycles > 0 {
		cfg.MaxCycles = *cycles
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := executeRun(ctx, cfg, stdout, stderr)
	if err != nil {
		if errors.Is(err, errSetup) {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitConfigError
		}
		fmt.Fprintf(stderr, "run failed at cycle %d (last state %s): %v\n", summary.FailedCycle, summary.LastState, err)
		return exitRuntimeError
	}

	fmt.Fprintf(stdout, "run %s finished: verdict=%s cycles=%d last_state=%s\n",
		summary.RunID, summary.Verdict, summary.CyclesCompleted, summary.LastState)
	if summary.FailedCycles > 0 {
		fmt.Fprintf(stdout, "failed cycles: %d (first at cycle %d)\n", summary.FailedCycles, summary.FailedCycle)
	}
	if summary.Verdict == cycle.VerdictFatalFailure {
		return exitRunFailed
	}
	return exitOK
}

// errSetup marks failures while wiring dependencies, before any cycle ran.
var errSetup = errors.New("setup failed")

func executeRun(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (cycle.Summary, error) {
	var summary cycle.Summary

	logger := observability.NewJSONLogger(stdout)
	var metrics observability.MetricsCollector = observability.NoopCollector{}

	if cfg.Metrics.Enabled {
		collector := observability.NewPrometheusCollector()
		metrics = collector
		server := observability.NewMetricsServer(cfg.Metrics.Listen, collector)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(stderr, "metrics server failed: %v\n", err)
			}
		}()
		defer func() { _ = server.Shutdown(context.Background()) }()
	}

	link, err := bridge.NewExecLink(cfg.AdbPath, cfg.DeviceSerial, bridge.WithWaitTimeout(cfg.DeviceWaitTimeout()))
	if err != nil {
		return summary, fmt.Errorf("%w: device link: %v", errSetup, err)
	}
	probe, err := radio.NewShellProbe(link)
	if err != nil {
		return summary, fmt.Errorf("%w: probe: %v", errSetup, err)
	}
	toggler, err := radio.NewToggler(link, probe, cfg.VerifyTimeout(),
		radio.WithPollInterval(cfg.PollInterval()),
		radio.WithCommandErrorHandler(func(cmdErr error) {
			_ = logger.Log(ctx, observability.Event{
				Level:   observability.LevelWarn,
				Device:  cfg.DeviceSerial,
				Event:   "toggle_command_failed",
				Message: cmdErr.Error(),
			})
		}),
	)
	if err != nil {
		return summary, fmt.Errorf("%w: toggler: %v", errSetup, err)
	}
	logcat, err := capture.NewLogcat(cfg.AdbPath, cfg.DeviceSerial)
	if err != nil {
		return summary, fmt.Errorf("%w: capture: %v", errSetup, err)
	}
	capturer := cycle.CapturerFunc(func(path string) (cycle.CaptureHandle, error) {
		handle, startErr := logcat.Start(path)
		if startErr != nil {
			return nil, startErr
		}
		return handle, nil
	})

	runID := uuid.NewString()
	reporter := cycle.NewStructuredReporter(runID, cfg.DeviceSerial, logger, metrics)

	runner, err := cycle.NewRunner(cfg, link, probe, toggler, capturer, cycle.WithReporter(reporter))
	if err != nil {
		return summary, fmt.Errorf("%w: runner: %v", errSetup, err)
	}
	loop, err := cycle.NewLoop(runner, cfg.MaxCycles, runID)
	if err != nil {
		return summary, fmt.Errorf("%w: loop: %v", errSetup, err)
	}

	return loop.Run(ctx)
}

func commandValidate(args []string) int {
	return commandValidateWithWriters(args, os.Stdout, os.Stderr)
}

func commandValidateWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	fmt.Fprintf(stdout, "configuration at %s is valid\n", *configPath)
	return exitOK
}

// loadConfig reads the configuration file, falling back to compiled-in
// defaults when the implicit default path does not exist.
func loadConfig(path string, stderr io.Writer) (*config.Config, int) {
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), exitOK
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return nil, exitConfigError
	}
	return cfg, exitOK
}
