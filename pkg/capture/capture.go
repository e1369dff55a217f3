// Package capture manages the background logcat stream that brackets a
// cycle's test window. Every capture is owned through an explicit handle;
// there is no kill-by-name fallback.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Handle tracks a running capture process and its destination file. Handles
// are only producible via Start.
type Handle struct {
	path    string
	cmd     *exec.Cmd
	file    io.Closer
	once    sync.Once
	stopErr error
}

// Path returns the destination file the capture streams into.
func (h *Handle) Path() string { return h.path }

// Stop terminates the capture process and closes the destination file. It is
// idempotent, and a process that already exited (for example because the
// device disconnected mid-capture) is not an error.
func (h *Handle) Stop() error {
	h.once.Do(func() {
		if h.cmd != nil && h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.stopErr = fmt.Errorf("terminate capture process: %w", err)
			}
			// Reap the process; a kill-induced exit status is expected here.
			_ = h.cmd.Wait()
		}
		if h.file != nil {
			if err := h.file.Close(); err != nil && h.stopErr == nil {
				h.stopErr = fmt.Errorf("close capture file: %w", err)
			}
		}
	})
	return h.stopErr
}

// LogcatCapturer starts background `adb logcat` streams writing to files.
type LogcatCapturer struct {
	adbPath    string
	serial     string
	fs         afero.Fs
	newCommand func() *exec.Cmd
}

// Option configures a LogcatCapturer.
type Option func(*LogcatCapturer)

// WithFs overrides the filesystem used for destination files.
func WithFs(fs afero.Fs) Option {
	return func(c *LogcatCapturer) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithCommandFactory overrides how the capture process is constructed,
// enabling tests to substitute a harmless long-running command.
func WithCommandFactory(fn func() *exec.Cmd) Option {
	return func(c *LogcatCapturer) {
		if fn != nil {
			c.newCommand = fn
		}
	}
}

// NewLogcat constructs a capturer shelling out to `adb logcat`.
func NewLogcat(adbPath, serial string, opts ...Option) (*LogcatCapturer, error) {
	if strings.TrimSpace(adbPath) == "" {
		return nil, errors.New("adb path must not be empty")
	}
	capturer := &LogcatCapturer{
		adbPath: adbPath,
		serial:  strings.TrimSpace(serial),
		fs:      afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(capturer)
	}
	if capturer.newCommand == nil {
		capturer.newCommand = capturer.logcatCommand
	}
	return capturer, nil
}

func (c *LogcatCapturer) logcatCommand() *exec.Cmd {
	args := make([]string, 0, 5)
	if c.serial != "" {
		args = append(args, "-s", c.serial)
	}
	args = append(args, "logcat", "-v", "threadtime")
	return exec.Command(c.adbPath, args...)
}

// Start launches the capture process streaming into path and returns
// promptly; the stream runs until the returned handle is stopped.
func (c *LogcatCapturer) Start(path string) (*Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("capture path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create capture directory: %w", err)
		}
	}

	file, err := c.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}

	cmd := c.newCommand()
	cmd.Stdout = file
	cmd.Stderr = file
	if err := cmd.Start(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("start capture process: %w", err)
	}

	return &Handle{path: path, cmd: cmd, file: file}, nil
}

// Filename builds the per-cycle capture file name:
// <prefix>_<cycle>_<YYYYMMDD-HHMMSS>.log
func Filename(prefix string, cycleIndex int, ts time.Time) string {
	return fmt.Sprintf("%s_%d_%s.log", prefix, cycleIndex, ts.Format("20060102-150405"))
}
