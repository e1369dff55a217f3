// Package bridge wraps the adb debug bridge behind a narrow contract so the
// cycle state machine never touches process execution directly.
package bridge

import "context"

// Link is the device-facing contract the cycler depends on.
type Link interface {
	// WaitForDevice blocks until a device is reachable through the bridge.
	WaitForDevice(ctx context.Context) error
	// Elevate requests a privileged shell and verifies the resulting identity.
	Elevate(ctx context.Context) error
	// Shell executes a one-shot shell command and returns raw standard output.
	Shell(ctx context.Context, cmd string) (string, error)
	// Reboot issues a fire-and-forget reboot request.
	Reboot(ctx context.Context) error
	// RestartServer cycles the bridge's own background service. Best-effort.
	RestartServer(ctx context.Context) error
}
