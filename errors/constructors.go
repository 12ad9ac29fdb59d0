package errors

import "fmt"

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *Error {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("sessionID", sessionID)
}

// SessionNotRunning creates an error for a session that exists but is not in
// an operable state. The offending status is carried in the details.
func SessionNotRunning(sessionID, status string) *Error {
	return New(ErrCodeSessionNotRunning,
		fmt.Sprintf("session '%s' is not running (status: %s)", sessionID, status)).
		WithDetail("sessionID", sessionID).
		WithDetail("status", status)
}

// StartupFailed creates an error for a spawned server that never became ready
func StartupFailed(port int, reason string) *Error {
	return New(ErrCodeStartupFailed,
		fmt.Sprintf("opencode failed to start on port %d: %s", port, reason)).
		WithDetail("port", port)
}

// LockTimeout creates an error for registry lock contention exceeding its bound
func LockTimeout(lockPath string, timeout string) *Error {
	return New(ErrCodeLockTimeout,
		fmt.Sprintf("could not acquire registry lock within %s", timeout)).
		WithDetail("lockPath", lockPath).
		WithDetail("timeout", timeout)
}

// StoreIO wraps a registry load/save failure
func StoreIO(err error, operation string) *Error {
	return Wrap(err, ErrCodeStoreIO, fmt.Sprintf("registry %s failed", operation)).
		WithDetail("operation", operation)
}

// AgentUnreachable wraps a failed agent control query
func AgentUnreachable(err error, baseURL string) *Error {
	return Wrap(err, ErrCodeAgentUnreachable,
		fmt.Sprintf("opencode server at %s is unreachable", baseURL)).
		WithDetail("url", baseURL)
}

// AgentStatus creates an error for a non-2xx agent control response
func AgentStatus(statusCode int, body string) *Error {
	return New(ErrCodeAgentUnreachable,
		fmt.Sprintf("opencode server returned HTTP %d: %s", statusCode, body)).
		WithDetail("statusCode", statusCode)
}
