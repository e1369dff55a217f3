// Package radio probes and drives the power state of the device's NFC
// subsystem through the debug bridge.
package radio

import (
	"context"
	"errors"
	"strings"

	"github.com/radiocycler/radiocycler/pkg/bridge"
)

// PowerState is the tri-state result of a subsystem probe.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = "unknown"
)

const (
	stateQuery = "dumpsys nfc"
	stateKey   = "mState"
	tokenOn    = "on"
	tokenOff   = "off"
)

// ShellRunner is the one-shot shell contract the radio package needs.
type ShellRunner interface {
	Shell(ctx context.Context, cmd string) (string, error)
}

// Prober reads the current subsystem power state.
type Prober interface {
	Read(ctx context.Context) (PowerState, error)
}

// ShellProbe queries the device dumpsys service and normalizes the response.
type ShellProbe struct {
	runner ShellRunner
}

// NewShellProbe constructs a probe backed by the provided shell runner.
func NewShellProbe(runner ShellRunner) (*ShellProbe, error) {
	if runner == nil {
		return nil, errors.New("shell runner must not be nil")
	}
	return &ShellProbe{runner: runner}, nil
}

// Read implements Prober. A failing diagnostic query maps to PowerUnknown
// rather than an error; only context cancellation propagates.
func (p *ShellProbe) Read(ctx context.Context) (PowerState, error) {
	out, err := p.runner.Shell(ctx, stateQuery)
	if err != nil {
		var cmdErr *bridge.CommandError
		if errors.As(err, &cmdErr) {
			return PowerUnknown, nil
		}
		return PowerUnknown, err
	}
	return ParseState(out), nil
}

// ParseState extracts the power state from raw dumpsys output: the first
// line containing the watched key is consulted, and the token immediately
// following the '=' delimiter decides the state.
func ParseState(raw string) PowerState {
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, stateKey) {
			continue
		}
		_, value, found := strings.Cut(line, "=")
		if !found {
			return PowerUnknown
		}
		token := value
		if idx := strings.IndexAny(token, " \t\r"); idx >= 0 {
			token = token[:idx]
		}
		switch strings.TrimSpace(token) {
		case tokenOn:
			return PowerOn
		case tokenOff:
			return PowerOff
		default:
			return PowerUnknown
		}
	}
	return PowerUnknown
}

var _ Prober = (*ShellProbe)(nil)
