package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidHistory indicates the backend rejected the request
	// because the chat history is malformed (e.g. it does not alternate
	// user/model turns correctly). The session layer recovers from this
	// with history repair.
	ErrInvalidHistory = errors.New("invalid chat history")

	// ErrBackendUnavailable indicates a terminal provider failure for
	// this request. Surfaced to the caller; session state is not rolled
	// back.
	ErrBackendUnavailable = errors.New("chat backend unavailable")
)

// validateHistory rejects a history that does not alternate roles or ends
// on an unanswered user turn, mirroring the provider-side policy so the
// repair path also triggers without a network round trip.
func validateHistory(history []Message) error {
	for i := 1; i < len(history); i++ {
		if history[i].Role == history[i-1].Role {
			return fmt.Errorf("%w: consecutive %s turns at position %d",
				ErrInvalidHistory, history[i].Role, i)
		}
	}
	if n := len(history); n > 0 && history[n-1].Role == RoleUser {
		return fmt.Errorf("%w: history ends on an unanswered user turn", ErrInvalidHistory)
	}
	return nil
}

// invalidHistoryPatterns matches provider messages for malformed-history
// rejections. String matching is required: neither Genkit nor the provider
// SDKs expose a typed error for this rejection.
var invalidHistoryPatterns = []string{
	"invalid history",
	"invalid chat history",
	"conversation roles must alternate",
	"multiturn requests",
}

// classifyError maps provider errors onto the package sentinels. Errors
// already carrying a sentinel pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidHistory) || errors.Is(err, ErrBackendUnavailable) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range invalidHistoryPatterns {
		if strings.Contains(msg, pattern) {
			return fmt.Errorf("%w: %v", ErrInvalidHistory, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
