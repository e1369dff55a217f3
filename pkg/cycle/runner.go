package cycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/radiocycler/radiocycler/pkg/bridge"
	"github.com/radiocycler/radiocycler/pkg/capture"
	"github.com/radiocycler/radiocycler/pkg/config"
	"github.com/radiocycler/radiocycler/pkg/observability"
	"github.com/radiocycler/radiocycler/pkg/radio"
)

// Verdict classifies how a cycle (or the run consuming it) should proceed.
type Verdict string

const (
	VerdictContinue      Verdict = "continue"
	VerdictBudgetReached Verdict = "stop_budget_reached"
	VerdictFatalFailure  Verdict = "stop_fatal_failure"
)

// Link captures the device-bridge operations the runner drives directly.
type Link interface {
	WaitForDevice(ctx context.Context) error
	Elevate(ctx context.Context) error
	Reboot(ctx context.Context) error
	RestartServer(ctx context.Context) error
}

// Prober reads the subsystem power state.
type Prober interface {
	Read(ctx context.Context) (radio.PowerState, error)
}

// Toggler drives a verified state transition.
type Toggler interface {
	Apply(ctx context.Context, target radio.PowerState) (radio.Outcome, error)
}

// CaptureHandle is the runner's view of a running log capture.
type CaptureHandle interface {
	Path() string
	Stop() error
}

// Capturer starts background log captures.
type Capturer interface {
	Start(path string) (CaptureHandle, error)
}

// CapturerFunc adapts a function into a Capturer.
type CapturerFunc func(path string) (CaptureHandle, error)

// Start implements Capturer.
func (f CapturerFunc) Start(path string) (CaptureHandle, error) {
	return f(path)
}

// Outcome summarises the steps performed during one cycle.
type Outcome struct {
	Cycle          int
	Verdict        Verdict
	InitialState   radio.PowerState
	LastState      radio.PowerState
	Toggled        bool
	ToggleFailed   bool
	SkipReason     string
	ToggleOn       *radio.Outcome
	ToggleOff      *radio.Outcome
	CapturePath    string
	RebootIssued   bool
	FailureMessage string
}

// Runner executes one full validation cycle: connect, elevate, probe,
// conditionally toggle, capture, reboot, wait, stabilize.
//
// Runner satisfies CycleRunner.
type Runner struct {
	cfg      *config.Config
	link     Link
	probe    Prober
	toggler  Toggler
	capturer Capturer
	reporter Reporter
	sleep    func(time.Duration)
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter attaches an observability reporter to the runner.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithSleepFunc overrides the sleep function used for settle and wait delays.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic
// capture file names in tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner with the provided dependencies.
func NewRunner(cfg *config.Config, link Link, probe Prober, toggler Toggler, capturer Capturer, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if link == nil {
		return nil, errors.New("device link must not be nil")
	}
	if probe == nil {
		return nil, errors.New("probe must not be nil")
	}
	if toggler == nil {
		return nil, errors.New("toggler must not be nil")
	}
	if capturer == nil {
		return nil, errors.New("capturer must not be nil")
	}

	runner := &Runner{
		cfg:      cfg,
		link:     link,
		probe:    probe,
		toggler:  toggler,
		capturer: capturer,
		reporter: NoopReporter{},
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// RunOnce executes a single cycle and returns its outcome. Errors are
// reserved for conditions fatal to the whole run (connectivity, privilege,
// reboot rejection); toggle timeouts are reported through the verdict.
func (r *Runner) RunOnce(ctx context.Context, cycleIndex int) (out Outcome, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	out.Cycle = cycleIndex
	out.Verdict = VerdictContinue
	out.InitialState = radio.PowerUnknown
	out.LastState = radio.PowerUnknown

	r.recordCycleStart(ctx, cycleIndex)

	defer func() {
		if err == nil {
			r.recordOutcome(ctx, out)
		}
	}()

	if waitErr := r.waitForDevice(ctx, cycleIndex, "connect"); waitErr != nil {
		return out, waitErr
	}
	if elevErr := r.link.Elevate(ctx); elevErr != nil {
		r.recordBridgeFailure(ctx, cycleIndex, "elevate", elevErr)
		return out, elevErr
	}

	state, probeErr := r.probe.Read(ctx)
	if probeErr != nil {
		return out, fmt.Errorf("probe state: %w", probeErr)
	}
	out.InitialState = state
	out.LastState = state
	r.recordProbe(ctx, cycleIndex, state)

	if r.cfg.DryRun {
		out.SkipReason = "dry-run"
		return out, nil
	}

	// The capture window brackets the toggle attempt and is torn down on
	// every path leaving this scope, always before a reboot.
	var handle CaptureHandle
	out.CapturePath = filepath.Join(r.cfg.CaptureDir, capture.Filename(r.cfg.CapturePrefix, cycleIndex, r.now()))
	handle, startErr := r.capturer.Start(out.CapturePath)
	if startErr != nil {
		// Losing a capture is a data-quality issue, not a correctness one.
		r.recordCaptureStart(ctx, cycleIndex, out.CapturePath, startErr)
		handle = nil
	} else {
		r.recordCaptureStart(ctx, cycleIndex, out.CapturePath, nil)
	}
	release := func() {
		if handle == nil {
			return
		}
		stopErr := handle.Stop()
		r.recordCaptureStop(ctx, cycleIndex, out.CapturePath, stopErr)
		handle = nil
	}
	defer release()

	if state == radio.PowerOff {
		out.Toggled = true
		fatal, toggleErr := r.runToggleLegs(ctx, &out)
		if toggleErr != nil {
			return out, toggleErr
		}
		if fatal {
			out.Verdict = VerdictFatalFailure
			return out, nil
		}
	} else {
		out.SkipReason = fmt.Sprintf("initial state %q is not a known-off baseline", state)
		r.recordToggleSkipped(ctx, cycleIndex, state)
	}

	release()

	if rebootErr := r.link.Reboot(ctx); rebootErr != nil {
		r.recordBridgeFailure(ctx, cycleIndex, "reboot", rebootErr)
		return out, fmt.Errorf("reboot device: %w", rebootErr)
	}
	out.RebootIssued = true
	r.recordReboot(ctx, cycleIndex)

	if sleepErr := r.sleepWithContext(ctx, r.cfg.RebootWait()); sleepErr != nil {
		return out, sleepErr
	}
	if waitErr := r.waitForDevice(ctx, cycleIndex, "post-reboot"); waitErr != nil {
		return out, waitErr
	}
	if sleepErr := r.sleepWithContext(ctx, r.cfg.StabilizeDelay()); sleepErr != nil {
		return out, sleepErr
	}

	return out, nil
}

// runToggleLegs drives the off→on→off sequence from the verified off
// baseline. It reports (fatal, err): fatal means a leg timed out under the
// strict failure policy; err means the run must abort regardless of policy.
func (r *Runner) runToggleLegs(ctx context.Context, out *Outcome) (bool, error) {
	on, err := r.applyToggle(ctx, out.Cycle, radio.PowerOn)
	if err != nil {
		return false, err
	}
	out.ToggleOn = &on
	out.LastState = on.FinalState
	if on.Result == radio.ToggleTimedOut {
		return r.failToggle(out, radio.PowerOn, on), nil
	}

	if err := r.sleepWithContext(ctx, r.cfg.SettleDelay()); err != nil {
		return false, err
	}

	off, err := r.applyToggle(ctx, out.Cycle, radio.PowerOff)
	if err != nil {
		return false, err
	}
	out.ToggleOff = &off
	out.LastState = off.FinalState
	if off.Result == radio.ToggleTimedOut {
		return r.failToggle(out, radio.PowerOff, off), nil
	}
	return false, nil
}

// failToggle marks a timed-out leg on the outcome and applies the configured
// failure policy: halt the run, or mark the cycle failed and let it finish.
func (r *Runner) failToggle(out *Outcome, target radio.PowerState, res radio.Outcome) bool {
	out.ToggleFailed = true
	out.FailureMessage = fmt.Sprintf("toggle to %s timed out after %d polls (last state %s)", target, res.Polls, res.FinalState)
	if r.cfg.HaltOnFailure() {
		return true
	}
	return false
}

func (r *Runner) applyToggle(ctx context.Context, cycleIndex int, target radio.PowerState) (radio.Outcome, error) {
	start := time.Now()
	outcome, err := r.toggler.Apply(ctx, target)
	r.recordToggle(ctx, cycleIndex, target, outcome, time.Since(start), err)
	if err != nil {
		return outcome, fmt.Errorf("toggle %s: %w", target, err)
	}
	return outcome, nil
}

// waitForDevice blocks until the bridge sees the device, restarting the adb
// server once to recover a wedged connection before giving up.
func (r *Runner) waitForDevice(ctx context.Context, cycleIndex int, phase string) error {
	err := r.link.WaitForDevice(ctx)
	if err == nil {
		return nil
	}

	var connErr *bridge.ConnectivityError
	if !errors.As(err, &connErr) {
		return err
	}

	restartErr := r.link.RestartServer(ctx)
	r.recordBridgeRestart(ctx, cycleIndex, phase, restartErr)
	if retryErr := r.link.WaitForDevice(ctx); retryErr != nil {
		r.recordBridgeFailure(ctx, cycleIndex, "wait-for-device:"+phase, retryErr)
		return retryErr
	}
	return nil
}

func (r *Runner) sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Runner) recordCycleStart(ctx context.Context, cycleIndex int) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "cycles_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Description: "Number of validation cycles started.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelInfo,
		Event: "cycle_started",
		Fields: map[string]interface{}{
			"cycle":      cycleIndex,
			"max_cycles": r.cfg.MaxCycles,
		},
	})
}

func (r *Runner) recordProbe(ctx context.Context, cycleIndex int, state radio.PowerState) {
	level := observability.LevelInfo
	if state == radio.PowerUnknown {
		level = observability.LevelWarn
	}
	r.reporter.RecordMetric(observability.Metric{
		Name:        "probe_reads_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"state": string(state)},
		Description: "Number of subsystem state probes grouped by observed state.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: level,
		Event: "state_probed",
		Fields: map[string]interface{}{
			"cycle": cycleIndex,
			"state": string(state),
		},
	})
}

func (r *Runner) recordToggle(ctx context.Context, cycleIndex int, target radio.PowerState, outcome radio.Outcome, duration time.Duration, toggleErr error) {
	result := string(outcome.Result)
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"cycle":       cycleIndex,
		"target":      string(target),
		"polls":       outcome.Polls,
		"final_state": string(outcome.FinalState),
		"duration_ms": duration.Milliseconds(),
	}
	if toggleErr != nil {
		result = "error"
		level = observability.LevelError
		fields["error"] = toggleErr.Error()
	} else if outcome.Result == radio.ToggleTimedOut {
		level = observability.LevelError
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "toggle_attempts_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"target": string(target), "result": result},
		Description: "Number of verified toggle attempts grouped by target and result.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "toggle_verify_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Labels:      map[string]string{"target": string(target), "result": result},
		Description: "Wall-clock duration of toggle verification.",
		Unit:        "seconds",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "toggle_applied",
		Fields: fields,
	})
}

func (r *Runner) recordToggleSkipped(ctx context.Context, cycleIndex int, state radio.PowerState) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "toggle_skips_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"state": string(state)},
		Description: "Number of cycles that skipped the toggle for lack of an off baseline.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelWarn,
		Event: "toggle_skipped",
		Fields: map[string]interface{}{
			"cycle": cycleIndex,
			"state": string(state),
		},
	})
}

func (r *Runner) recordCaptureStart(ctx context.Context, cycleIndex int, path string, startErr error) {
	result := "started"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"cycle": cycleIndex,
		"path":  path,
	}
	if startErr != nil {
		result = "error"
		level = observability.LevelWarn
		fields["error"] = startErr.Error()
	}
	r.reporter.RecordMetric(observability.Metric{
		Name:        "captures_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of log capture starts grouped by result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "capture_started",
		Fields: fields,
	})
}

func (r *Runner) recordCaptureStop(ctx context.Context, cycleIndex int, path string, stopErr error) {
	result := "stopped"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"cycle": cycleIndex,
		"path":  path,
	}
	if stopErr != nil {
		result = "error"
		level = observability.LevelWarn
		fields["error"] = stopErr.Error()
	}
	r.reporter.RecordMetric(observability.Metric{
		Name:        "capture_stops_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of log capture teardowns grouped by result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "capture_stopped",
		Fields: fields,
	})
}

func (r *Runner) recordReboot(ctx context.Context, cycleIndex int) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "reboots_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Description: "Number of reboot requests issued.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  observability.LevelInfo,
		Event:  "reboot_issued",
		Fields: map[string]interface{}{"cycle": cycleIndex},
	})
}

func (r *Runner) recordBridgeRestart(ctx context.Context, cycleIndex int, phase string, restartErr error) {
	level := observability.LevelWarn
	fields := map[string]interface{}{"cycle": cycleIndex, "phase": phase}
	if restartErr != nil {
		fields["error"] = restartErr.Error()
	}
	r.reporter.RecordMetric(observability.Metric{
		Name:        "bridge_restarts_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Description: "Number of adb server restarts attempted to recover the connection.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "bridge_restarted",
		Fields: fields,
	})
}

func (r *Runner) recordBridgeFailure(ctx context.Context, cycleIndex int, op string, opErr error) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "bridge_failures_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"op": op},
		Description: "Number of fatal bridge operation failures grouped by operation.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelError,
		Event: "bridge_failure",
		Fields: map[string]interface{}{
			"cycle": cycleIndex,
			"op":    op,
			"error": opErr.Error(),
		},
	})
}

func (r *Runner) recordOutcome(ctx context.Context, out Outcome) {
	level := observability.LevelInfo
	if out.Verdict == VerdictFatalFailure || out.ToggleFailed {
		level = observability.LevelError
	}
	fields := map[string]interface{}{
		"cycle":         out.Cycle,
		"verdict":       string(out.Verdict),
		"initial_state": string(out.InitialState),
		"last_state":    string(out.LastState),
		"toggled":       out.Toggled,
		"reboot_issued": out.RebootIssued,
	}
	if out.SkipReason != "" {
		fields["skip_reason"] = out.SkipReason
	}
	if out.FailureMessage != "" {
		fields["failure"] = out.FailureMessage
	}
	if out.CapturePath != "" {
		fields["capture_path"] = out.CapturePath
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "cycle_outcomes_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"verdict": string(out.Verdict)},
		Description: "Number of completed cycles grouped by verdict.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "cycle_outcome",
		Fields: fields,
	})
}
