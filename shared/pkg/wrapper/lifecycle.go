package wrapper

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ExitReason describes why a worker terminated
type ExitReason string

const (
	ExitReasonSuccess ExitReason = "success" // Exit code 0
	ExitReasonError   ExitReason = "error"   // Exit code != 0
	ExitReasonSignal  ExitReason = "signal"  // Killed by signal
	ExitReasonOOM     ExitReason = "oom"     // Exit code 137 without a signal status
	ExitReasonUnknown ExitReason = "unknown"
)

// ExitStatus summarises a finished worker
type ExitStatus struct {
	Code   int
	Reason ExitReason
	Signal string
}

// ClassifyExit turns the error of exec.Cmd.Wait into an ExitStatus
func ClassifyExit(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Reason: ExitReasonSuccess}
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitStatus{Code: -1, Reason: ExitReasonUnknown}
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: exitErr.ExitCode(), Reason: ExitReasonError}
	}
	return DetermineExitReason(exitErr.ExitCode(), status)
}

// DetermineExitReason analyzes a wait status
func DetermineExitReason(exitCode int, ws syscall.WaitStatus) ExitStatus {
	switch {
	case ws.Signaled():
		return ExitStatus{Code: exitCode, Reason: ExitReasonSignal, Signal: SignalName(ws.Signal())}
	case ws.Exited() && exitCode == 0:
		return ExitStatus{Reason: ExitReasonSuccess}
	case ws.Exited() && exitCode == 137:
		return ExitStatus{Code: exitCode, Reason: ExitReasonOOM}
	case ws.Exited():
		return ExitStatus{Code: exitCode, Reason: ExitReasonError}
	}
	return ExitStatus{Code: exitCode, Reason: ExitReasonUnknown}
}

// SignalName returns the signal name for a signal number
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGBUS:
		return "SIGBUS"
	default:
		return fmt.Sprintf("SIG%d", int(sig))
	}
}
