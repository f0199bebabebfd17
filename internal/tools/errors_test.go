package tools

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestUnknownToolError_Error(t *testing.T) {
	err := &UnknownToolError{Name: "web_search"}
	want := `unknown tool "web_search"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnknownToolError_WrappedErrorsAs(t *testing.T) {
	orig := &UnknownToolError{Name: "launch_rockets"}
	wrapped := fmt.Errorf("tool execution: %w", orig)

	var target *UnknownToolError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *UnknownToolError")
	}
	if target.Name != "launch_rockets" {
		t.Errorf("Name = %q, want %q", target.Name, "launch_rockets")
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	err := &ExecutionError{Name: "get_weather", Cause: io.ErrUnexpectedEOF}

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is should reach the cause")
	}
	if got := err.Error(); got != io.ErrUnexpectedEOF.Error() {
		t.Errorf("Error() = %q, want cause text", got)
	}

	var target *ExecutionError
	if !errors.As(fmt.Errorf("wrap: %w", err), &target) || target.Name != "get_weather" {
		t.Errorf("errors.As = %+v", target)
	}
}
