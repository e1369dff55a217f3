package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const privilegedUser = "root"

// ExecLink talks to a device by shelling out to the adb binary.
type ExecLink struct {
	adbPath     string
	serial      string
	waitTimeout time.Duration
}

// ExecLinkOption configures an ExecLink.
type ExecLinkOption func(*ExecLink)

// WithWaitTimeout bounds how long WaitForDevice blocks before reporting the
// device unreachable.
func WithWaitTimeout(d time.Duration) ExecLinkOption {
	return func(l *ExecLink) {
		if d > 0 {
			l.waitTimeout = d
		}
	}
}

// NewExecLink constructs a link for the given adb binary and optional device
// serial. An empty serial targets the only connected device.
func NewExecLink(adbPath, serial string, opts ...ExecLinkOption) (*ExecLink, error) {
	if strings.TrimSpace(adbPath) == "" {
		return nil, errors.New("adb path must not be empty")
	}
	link := &ExecLink{
		adbPath:     adbPath,
		serial:      strings.TrimSpace(serial),
		waitTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(link)
	}
	return link, nil
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Args returns the adb argument prefix including the serial selector.
func (l *ExecLink) Args(args ...string) []string {
	full := make([]string, 0, len(args)+2)
	if l.serial != "" {
		full = append(full, "-s", l.serial)
	}
	return append(full, args...)
}

func (l *ExecLink) run(ctx context.Context, args ...string) (commandResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, l.adbPath, l.Args(args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run adb %s: %w", strings.Join(args, " "), err)
	}
	return result, nil
}

// WaitForDevice implements Link by blocking on `adb wait-for-device` up to
// the configured wait timeout.
func (l *ExecLink) WaitForDevice(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	res, err := l.run(waitCtx, "wait-for-device")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ConnectivityError{Op: "wait-for-device", Err: fmt.Errorf("no device within %s", l.waitTimeout)}
		}
		return &ConnectivityError{Op: "wait-for-device", Err: err}
	}
	if res.ExitCode != 0 {
		return &ConnectivityError{Op: "wait-for-device", Err: &CommandError{Cmd: "wait-for-device", ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}}
	}
	return nil
}

// Elevate implements Link by restarting adbd as root and confirming the
// shell identity afterwards.
func (l *ExecLink) Elevate(ctx context.Context) error {
	res, err := l.run(ctx, "root")
	if err != nil {
		return &PrivilegeError{Err: err}
	}
	if res.ExitCode != 0 {
		return &PrivilegeError{Err: &CommandError{Cmd: "root", ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}}
	}

	identity, err := l.Shell(ctx, "id -un")
	if err != nil {
		return &PrivilegeError{Err: err}
	}
	identity = strings.TrimSpace(identity)
	if identity != privilegedUser {
		return &PrivilegeError{Identity: identity}
	}
	return nil
}

// Shell implements Link by executing a one-shot `adb shell` command.
func (l *ExecLink) Shell(ctx context.Context, cmd string) (string, error) {
	res, err := l.run(ctx, "shell", cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &CommandError{Cmd: cmd, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	return res.Stdout, nil
}

// Reboot implements Link. The request is fire-and-forget; the device going
// away is observed later through WaitForDevice.
func (l *ExecLink) Reboot(ctx context.Context) error {
	res, err := l.run(ctx, "reboot")
	if err != nil {
		return fmt.Errorf("issue reboot: %w", err)
	}
	if res.ExitCode != 0 {
		return &CommandError{Cmd: "reboot", ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	return nil
}

// RestartServer implements Link by cycling the adb server process.
func (l *ExecLink) RestartServer(ctx context.Context) error {
	var errs []error
	for _, sub := range []string{"kill-server", "start-server"} {
		res, err := l.run(ctx, sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub, err))
			continue
		}
		if res.ExitCode != 0 {
			errs = append(errs, &CommandError{Cmd: sub, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)})
		}
	}
	return errors.Join(errs...)
}

var _ Link = (*ExecLink)(nil)
