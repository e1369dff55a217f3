package cycle

import (
	"context"
	"errors"
	"testing"

	"github.com/radiocycler/radiocycler/pkg/radio"
)

type scriptedRunner struct {
	outcomes []Outcome
	errs     []error
	calls    []int
}

func (r *scriptedRunner) RunOnce(ctx context.Context, cycleIndex int) (Outcome, error) {
	idx := len(r.calls)
	r.calls = append(r.calls, cycleIndex)
	out := Outcome{Cycle: cycleIndex, Verdict: VerdictContinue, LastState: radio.PowerOff}
	if idx < len(r.outcomes) {
		out = r.outcomes[idx]
		out.Cycle = cycleIndex
	}
	var err error
	if idx < len(r.errs) {
		err = r.errs[idx]
	}
	return out, err
}

func TestLoopRunsUntilBudgetReached(t *testing.T) {
	runner := &scriptedRunner{}
	loop, err := NewLoop(runner, 3, "run-1")
	if err != nil {
		t.Fatalf("expected loop construction to succeed, got %v", err)
	}

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("expected the run to succeed, got %v", err)
	}

	if summary.Verdict != VerdictBudgetReached {
		t.Fatalf("expected verdict %q, got %q", VerdictBudgetReached, summary.Verdict)
	}
	if summary.CyclesCompleted != 3 {
		t.Fatalf("expected 3 completed cycles, got %d", summary.CyclesCompleted)
	}
	if summary.RunID != "run-1" {
		t.Fatalf("expected the run id to be carried, got %q", summary.RunID)
	}
	want := []int{1, 2, 3}
	if len(runner.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, runner.calls)
	}
	for i, idx := range want {
		if runner.calls[i] != idx {
			t.Fatalf("expected cycle index %d at call %d, got %d", idx, i, runner.calls[i])
		}
	}
	if summary.LastState != radio.PowerOff {
		t.Fatalf("expected the last observed state to be carried, got %s", summary.LastState)
	}
}

func TestLoopStopsOnFatalVerdict(t *testing.T) {
	runner := &scriptedRunner{outcomes: []Outcome{
		{Verdict: VerdictContinue, LastState: radio.PowerOff},
		{Verdict: VerdictFatalFailure, ToggleFailed: true, LastState: radio.PowerOn},
	}}
	loop, err := NewLoop(runner, 5, "run-2")
	if err != nil {
		t.Fatalf("expected loop construction to succeed, got %v", err)
	}

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no run-level error on a fatal verdict, got %v", err)
	}

	if summary.Verdict != VerdictFatalFailure {
		t.Fatalf("expected verdict %q, got %q", VerdictFatalFailure, summary.Verdict)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected the loop to stop after cycle 2, got calls %v", runner.calls)
	}
	if summary.FailedCycle != 2 {
		t.Fatalf("expected the failed cycle to be 2, got %d", summary.FailedCycle)
	}
	if summary.LastState != radio.PowerOn {
		t.Fatalf("expected the last state from the failed cycle, got %s", summary.LastState)
	}
}

func TestLoopStopsOnRunLevelError(t *testing.T) {
	bootErr := errors.New("device never came back")
	runner := &scriptedRunner{
		outcomes: []Outcome{
			{Verdict: VerdictContinue, LastState: radio.PowerOff},
			{Verdict: VerdictContinue, LastState: radio.PowerUnknown},
		},
		errs: []error{nil, bootErr},
	}
	loop, err := NewLoop(runner, 5, "run-3")
	if err != nil {
		t.Fatalf("expected loop construction to succeed, got %v", err)
	}

	summary, err := loop.Run(context.Background())
	if !errors.Is(err, bootErr) {
		t.Fatalf("expected the runner error to surface, got %v", err)
	}
	if summary.Verdict != VerdictFatalFailure {
		t.Fatalf("expected verdict %q, got %q", VerdictFatalFailure, summary.Verdict)
	}
	if summary.CyclesCompleted != 1 {
		t.Fatalf("expected one completed cycle, got %d", summary.CyclesCompleted)
	}
	if summary.FailedCycle != 2 {
		t.Fatalf("expected the failed cycle to be 2, got %d", summary.FailedCycle)
	}
}

func TestLoopLenientFailuresFailTheRunAfterTheBudget(t *testing.T) {
	runner := &scriptedRunner{outcomes: []Outcome{
		{Verdict: VerdictContinue, LastState: radio.PowerOff},
		{Verdict: VerdictContinue, ToggleFailed: true, LastState: radio.PowerOn},
		{Verdict: VerdictContinue, LastState: radio.PowerOff},
	}}
	loop, err := NewLoop(runner, 3, "run-4")
	if err != nil {
		t.Fatalf("expected loop construction to succeed, got %v", err)
	}

	summary, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("expected the run to finish its budget, got %v", err)
	}

	if summary.CyclesCompleted != 3 {
		t.Fatalf("expected all cycles to run, got %d", summary.CyclesCompleted)
	}
	if summary.Verdict != VerdictFatalFailure {
		t.Fatalf("expected failed cycles to fail the run, got %q", summary.Verdict)
	}
	if summary.FailedCycles != 1 || summary.FailedCycle != 2 {
		t.Fatalf("expected one failed cycle at index 2, got count=%d first=%d", summary.FailedCycles, summary.FailedCycle)
	}
}

func TestLoopHonoursContextCancellation(t *testing.T) {
	runner := &scriptedRunner{}
	loop, err := NewLoop(runner, 5, "run-5")
	if err != nil {
		t.Fatalf("expected loop construction to succeed, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := loop.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
	if summary.Verdict != VerdictFatalFailure {
		t.Fatalf("expected verdict %q, got %q", VerdictFatalFailure, summary.Verdict)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no cycles after cancellation, got %v", runner.calls)
	}
}

func TestNewLoopValidatesArguments(t *testing.T) {
	runner := &scriptedRunner{}

	if _, err := NewLoop(nil, 3, "run"); err == nil {
		t.Fatalf("expected a nil runner to be rejected")
	}
	if _, err := NewLoop(runner, 0, "run"); err == nil {
		t.Fatalf("expected a zero budget to be rejected")
	}
	if _, err := NewLoop(runner, 3, ""); err == nil {
		t.Fatalf("expected an empty run id to be rejected")
	}
}
