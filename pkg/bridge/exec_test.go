package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

const fakeAdbScript = `#!/bin/sh
if [ "$1" = "-s" ]; then
  echo "$2" > "${FAKE_ADB_SERIAL_FILE:-/dev/null}"
  shift 2
fi
cmd="$1"
shift
case "$cmd" in
  wait-for-device)
    exit "${FAKE_ADB_WAIT_EXIT:-0}"
    ;;
  root)
    exit "${FAKE_ADB_ROOT_EXIT:-0}"
    ;;
  shell)
    if [ "$*" = "id -un" ]; then
      echo "${FAKE_ADB_IDENTITY:-root}"
      exit 0
    fi
    if [ "${FAKE_ADB_SHELL_EXIT:-0}" != "0" ]; then
      echo "shell denied" >&2
      exit "$FAKE_ADB_SHELL_EXIT"
    fi
    echo "mState=on"
    ;;
  reboot)
    if [ "${FAKE_ADB_REBOOT_EXIT:-0}" != "0" ]; then
      echo "reboot refused" >&2
      exit "$FAKE_ADB_REBOOT_EXIT"
    fi
    ;;
  kill-server|start-server)
    exit 0
    ;;
  *)
    echo "unknown subcommand $cmd" >&2
    exit 64
    ;;
esac
`

func writeFakeAdb(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake adb shell script not available on Windows")
	}
	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte(fakeAdbScript), 0o755); err != nil {
		t.Fatalf("write fake adb: %v", err)
	}
	return path
}

func TestShellReturnsStdout(t *testing.T) {
	link, err := NewExecLink(writeFakeAdb(t), "")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	out, err := link.Shell(context.Background(), "dumpsys nfc")
	if err != nil {
		t.Fatalf("unexpected shell error: %v", err)
	}
	if out != "mState=on\n" {
		t.Fatalf("unexpected shell output: %q", out)
	}
}

func TestShellReturnsCommandErrorOnNonZeroExit(t *testing.T) {
	t.Setenv("FAKE_ADB_SHELL_EXIT", "3")
	link, err := NewExecLink(writeFakeAdb(t), "")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	_, err = link.Shell(context.Background(), "dumpsys nfc")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "shell denied" {
		t.Fatalf("expected stderr captured, got %q", cmdErr.Stderr)
	}
}

func TestElevateVerifiesIdentity(t *testing.T) {
	link, err := NewExecLink(writeFakeAdb(t), "")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	if err := link.Elevate(context.Background()); err != nil {
		t.Fatalf("expected elevation to succeed, got %v", err)
	}
}

func TestElevateRejectsWrongIdentity(t *testing.T) {
	t.Setenv("FAKE_ADB_IDENTITY", "shell")
	link, err := NewExecLink(writeFakeAdb(t), "")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	err = link.Elevate(context.Background())
	var privErr *PrivilegeError
	if !errors.As(err, &privErr) {
		t.Fatalf("expected PrivilegeError, got %v", err)
	}
	if privErr.Identity != "shell" {
		t.Fatalf("expected observed identity to be reported, got %q", privErr.Identity)
	}
}

func TestWaitForDeviceReportsConnectivityError(t *testing.T) {
	t.Setenv("FAKE_ADB_WAIT_EXIT", "1")
	link, err := NewExecLink(writeFakeAdb(t), "", WithWaitTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	err = link.WaitForDevice(context.Background())
	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
	if connErr.Op != "wait-for-device" {
		t.Fatalf("unexpected op: %s", connErr.Op)
	}
}

func TestRebootSurfacesSynchronousRejection(t *testing.T) {
	t.Setenv("FAKE_ADB_REBOOT_EXIT", "2")
	link, err := NewExecLink(writeFakeAdb(t), "")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	err = link.Reboot(context.Background())
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", cmdErr.ExitCode)
	}
}

func TestRestartServerIsBestEffort(t *testing.T) {
	link, err := NewExecLink(writeFakeAdb(t), "")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	if err := link.RestartServer(context.Background()); err != nil {
		t.Fatalf("expected server restart to succeed, got %v", err)
	}
}

func TestSerialSelectorPrependsArgs(t *testing.T) {
	link, err := NewExecLink("adb", "emulator-5554")
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	args := link.Args("shell", "id -un")
	if len(args) != 4 || args[0] != "-s" || args[1] != "emulator-5554" {
		t.Fatalf("expected serial selector before subcommand, got %v", args)
	}
}

func TestNewExecLinkRequiresPath(t *testing.T) {
	if _, err := NewExecLink("  ", ""); err == nil {
		t.Fatal("expected error for empty adb path")
	}
}
