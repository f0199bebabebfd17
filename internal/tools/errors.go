package tools

import "fmt"

// UnknownToolError is returned when a call names a tool that is not
// in the registry.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ExecutionError wraps a handler failure. A recovered panic is
// reported as an ExecutionError with the stack attached.
type ExecutionError struct {
	Name  string
	Cause error
	Stack string
}

// Error implements the error interface. Only the cause is rendered so
// the text can be shown to the model as-is.
func (e *ExecutionError) Error() string {
	return e.Cause.Error()
}

// Unwrap returns the handler's error.
func (e *ExecutionError) Unwrap() error { return e.Cause }
