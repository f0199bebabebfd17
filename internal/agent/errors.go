package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRoundLimitExceeded is matched by errors.Is for a *RoundLimitError.
var ErrRoundLimitExceeded = errors.New("round limit exceeded")

// RoundLimitError is returned when a request used its maximum number of
// completion rounds without the model producing a final answer.
type RoundLimitError struct {
	Rounds int
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("no final answer after %d completion rounds", e.Rounds)
}

// Is reports whether target is ErrRoundLimitExceeded.
func (e *RoundLimitError) Is(target error) bool {
	return target == ErrRoundLimitExceeded
}

// CompletionFailedError is returned when every model the policy offered
// for a round failed. Errs holds one error per attempt, in order.
type CompletionFailedError struct {
	Round int
	Errs  []error
}

func (e *CompletionFailedError) Error() string {
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("completion round %d failed: %s", e.Round, strings.Join(parts, "; "))
}

// Unwrap exposes the per-attempt errors to errors.Is and errors.As.
func (e *CompletionFailedError) Unwrap() []error { return e.Errs }

// UserMessage renders an error from Run as the text returned to the
// user by Handle.
func UserMessage(err error) string {
	var roundErr *RoundLimitError
	if errors.As(err, &roundErr) {
		return fmt.Sprintf("Stopped after %d completion rounds without a final answer.", roundErr.Rounds)
	}

	var failed *CompletionFailedError
	if errors.As(err, &failed) && len(failed.Errs) > 0 {
		if failed.Round == 0 {
			return fmt.Sprintf("Error connecting to the completion service: %v. Please check your API key and try again.", failed.Errs[0])
		}
		return fmt.Sprintf("Error getting response from the completion service: %v", failed.Errs[len(failed.Errs)-1])
	}

	return fmt.Sprintf("An unexpected error occurred: %v", err)
}

// toolErrorContent is the tool result recorded when a tool call fails.
func toolErrorContent(name string, err error) string {
	return fmt.Sprintf("Error executing tool %s: %v", name, err)
}
