package cli

import (
	"fmt"
	"os"

	"github.com/occtl/occtl/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeSessionNotFound:
		if occErr, ok := err.(*errors.Error); ok {
			fmt.Fprintf(os.Stderr, "❌ Session '%s' not found\n", occErr.Details["sessionID"])
			fmt.Fprintf(os.Stderr, "Run 'occtl list' to see active sessions.\n")
		}
		return err

	case errors.ErrCodeSessionNotRunning:
		if occErr, ok := err.(*errors.Error); ok {
			fmt.Fprintf(os.Stderr, "❌ Session '%s' is not running (status: %s)\n",
				occErr.Details["sessionID"], occErr.Details["status"])
		}
		return err

	case errors.ErrCodeLockTimeout:
		fmt.Fprintf(os.Stderr, "❌ Could not acquire the registry lock. Another occtl invocation may be stuck; retry in a moment.\n")
		return err

	case errors.ErrCodeStartupFailed:
		if occErr, ok := err.(*errors.Error); ok {
			fmt.Fprintf(os.Stderr, "❌ OpenCode failed to start on port %v\n", occErr.Details["port"])
			fmt.Fprintf(os.Stderr, "Check 'occtl logs' for startup output.\n")
		}
		return err

	case errors.ErrCodeAgentUnreachable:
		fmt.Fprintf(os.Stderr, "❌ Could not reach the opencode server: %v\n", err)
		fmt.Fprintf(os.Stderr, "The session may be starting up or wedged; 'occtl status <id>' shows its state.\n")
		return err

	case errors.ErrCodeStoreIO:
		fmt.Fprintf(os.Stderr, "❌ Session registry read/write failed: %v\n", err)
		return err

	default:
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)

		if h.Verbose {
			if occErr, ok := err.(*errors.Error); ok {
				fmt.Fprintf(os.Stderr, "\nError details:\n%s\n", occErr.ToJSON())
			}
		}
		return err
	}
}
