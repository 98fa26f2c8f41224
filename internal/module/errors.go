package module

import (
	"errors"
	"fmt"
)

// UnknownModuleError is returned when a task names a module that is not registered.
type UnknownModuleError struct {
	Name string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("unknown module %q", e.Name)
}

// RemoteCommandError represents a remote command that exited non-zero.
type RemoteCommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Cmd)
	if e.Stderr != "" {
		msg += fmt.Sprintf(": %s", e.Stderr)
	}
	return msg
}

// LocalResourceError reports a missing or unreadable local file.
type LocalResourceError struct {
	Path string
	Err  error
}

func (e *LocalResourceError) Error() string {
	return fmt.Sprintf("local resource %s: %v", e.Path, e.Err)
}

func (e *LocalResourceError) Unwrap() error {
	return e.Err
}

// TransferError reports a failed file transfer.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("failed to transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ParamError reports a missing or invalid task parameter.
type ParamError struct {
	Module string
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("parameter '%s' %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("%s: parameter '%s' %s", e.Module, e.Param, e.Reason)
}

// withModule stamps the module name on a *ParamError.
func withModule(err error, name string) error {
	var pe *ParamError
	if errors.As(err, &pe) && pe.Module == "" {
		pe.Module = name
	}
	return err
}
