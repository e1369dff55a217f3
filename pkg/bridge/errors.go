package bridge

import "fmt"

// ConnectivityError indicates the device could not be reached through the
// bridge within the configured wait budget.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("device unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// PrivilegeError indicates the privileged shell could not be obtained or the
// post-elevation identity check did not match the expected user.
type PrivilegeError struct {
	Identity string
	Err      error
}

func (e *PrivilegeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("privilege elevation failed: %v", e.Err)
	}
	return fmt.Sprintf("privilege elevation failed: shell identity %q", e.Identity)
}

func (e *PrivilegeError) Unwrap() error { return e.Err }

// CommandError indicates a one-shot shell command returned a non-zero exit.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command %q exited %d: %s", e.Cmd, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("command %q exited %d", e.Cmd, e.ExitCode)
}
