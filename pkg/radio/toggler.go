package radio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ToggleResult classifies the verdict of a verified state transition.
type ToggleResult string

const (
	// ToggleSucceeded means the target state was observed within the budget.
	ToggleSucceeded ToggleResult = "succeeded"
	// ToggleTimedOut means the poll budget elapsed without convergence.
	ToggleTimedOut ToggleResult = "timed_out"
)

// Outcome carries the verdict of a toggle attempt plus diagnostics.
type Outcome struct {
	Result     ToggleResult
	FinalState PowerState
	Polls      int
}

const (
	enableCommand  = "svc nfc enable"
	disableCommand = "svc nfc disable"
)

// Toggler drives a subsystem state transition and verifies convergence by
// polling the probe on a fixed cadence up to a bounded timeout.
type Toggler struct {
	runner   ShellRunner
	probe    Prober
	timeout  time.Duration
	interval time.Duration
	sleep    func(time.Duration)
	onCmdErr func(error)
}

// TogglerOption configures a Toggler.
type TogglerOption func(*Toggler)

// WithPollInterval overrides the verification poll cadence.
func WithPollInterval(d time.Duration) TogglerOption {
	return func(t *Toggler) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithSleepFunc overrides the sleep implementation between polls.
func WithSleepFunc(fn func(time.Duration)) TogglerOption {
	return func(t *Toggler) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

// WithCommandErrorHandler registers a callback for non-fatal failures of the
// enable/disable command itself. The verification loop stays authoritative.
func WithCommandErrorHandler(fn func(error)) TogglerOption {
	return func(t *Toggler) {
		t.onCmdErr = fn
	}
}

// NewToggler constructs a Toggler with the provided dependencies.
func NewToggler(runner ShellRunner, probe Prober, verifyTimeout time.Duration, opts ...TogglerOption) (*Toggler, error) {
	if runner == nil {
		return nil, errors.New("shell runner must not be nil")
	}
	if probe == nil {
		return nil, errors.New("probe must not be nil")
	}
	if verifyTimeout <= 0 {
		return nil, errors.New("verify timeout must be greater than zero")
	}

	toggler := &Toggler{
		runner:   runner,
		probe:    probe,
		timeout:  verifyTimeout,
		interval: time.Second,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(toggler)
	}
	if toggler.interval > toggler.timeout {
		toggler.interval = toggler.timeout
	}
	return toggler, nil
}

// Apply issues the transition command for target and polls until the probe
// observes it or the budget is exhausted. The first matching poll wins; the
// remaining budget is never waited out.
func (t *Toggler) Apply(ctx context.Context, target PowerState) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var cmd string
	switch target {
	case PowerOn:
		cmd = enableCommand
	case PowerOff:
		cmd = disableCommand
	default:
		return Outcome{}, fmt.Errorf("toggle target must be %s or %s, got %s", PowerOn, PowerOff, target)
	}

	if _, err := t.runner.Shell(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return Outcome{FinalState: PowerUnknown}, ctx.Err()
		}
		if t.onCmdErr != nil {
			t.onCmdErr(err)
		}
	}

	attempts := int(t.timeout / t.interval)
	if attempts < 1 {
		attempts = 1
	}

	last := PowerUnknown
	for poll := 1; poll <= attempts; poll++ {
		state, err := t.probe.Read(ctx)
		if err != nil {
			return Outcome{FinalState: last, Polls: poll}, err
		}
		last = state
		if state == target {
			return Outcome{Result: ToggleSucceeded, FinalState: state, Polls: poll}, nil
		}
		if poll < attempts {
			if err := t.sleepWithContext(ctx, t.interval); err != nil {
				return Outcome{FinalState: last, Polls: poll}, err
			}
		}
	}

	return Outcome{Result: ToggleTimedOut, FinalState: last, Polls: attempts}, nil
}

func (t *Toggler) sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		t.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
