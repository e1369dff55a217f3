package cycle

import (
	"context"
	"errors"

	"github.com/radiocycler/radiocycler/pkg/radio"
)

// Summary aggregates the result of a whole run.
type Summary struct {
	RunID           string
	Verdict         Verdict
	CyclesCompleted int
	FailedCycles    int
	FailedCycle     int
	LastState       radio.PowerState
}

// CycleRunner is the per-cycle contract the loop drives.
type CycleRunner interface {
	RunOnce(ctx context.Context, cycleIndex int) (Outcome, error)
}

var _ CycleRunner = (*Runner)(nil)

// Loop repeats cycles until the budget is spent or a cycle reports a fatal
// verdict.
type Loop struct {
	runner    CycleRunner
	maxCycles int
	runID     string
}

// NewLoop constructs a Loop driving runner for up to maxCycles cycles.
func NewLoop(runner CycleRunner, maxCycles int, runID string) (*Loop, error) {
	if runner == nil {
		return nil, errors.New("cycle runner must not be nil")
	}
	if maxCycles <= 0 {
		return nil, errors.New("max cycles must be positive")
	}
	if runID == "" {
		return nil, errors.New("run id must not be empty")
	}
	return &Loop{runner: runner, maxCycles: maxCycles, runID: runID}, nil
}

// Run executes cycles 1..maxCycles, stopping early on a fatal verdict or a
// run-level error. The summary is valid even when an error is returned.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     l.runID,
		Verdict:   VerdictBudgetReached,
		LastState: radio.PowerUnknown,
	}

	for cycleIndex := 1; cycleIndex <= l.maxCycles; cycleIndex++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			summary.Verdict = VerdictFatalFailure
			return summary, ctxErr
		}

		out, err := l.runner.RunOnce(ctx, cycleIndex)
		if out.LastState != radio.PowerUnknown || err == nil {
			summary.LastState = out.LastState
		}
		if err != nil {
			summary.Verdict = VerdictFatalFailure
			summary.FailedCycle = cycleIndex
			return summary, err
		}

		summary.CyclesCompleted++
		if out.ToggleFailed {
			summary.FailedCycles++
			if summary.FailedCycle == 0 {
				summary.FailedCycle = cycleIndex
			}
		}
		if out.Verdict == VerdictFatalFailure {
			summary.Verdict = VerdictFatalFailure
			return summary, nil
		}
	}

	// Under the lenient policy the run finishes its budget, but failed
	// cycles still make the overall verdict a failure.
	if summary.FailedCycles > 0 {
		summary.Verdict = VerdictFatalFailure
	}
	return summary, nil
}
