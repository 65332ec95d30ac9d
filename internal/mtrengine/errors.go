// Package mtrengine implements the continuous probe session engine: the
// state machine and timing discipline that emits one ICMP probe per hop per
// round, correlates asynchronous replies back to the originating probe, and
// maintains rolling per-hop statistics.
package mtrengine

import "errors"

// Session-level errors, per the error kinds of the design.
var (
	// ErrPrivilegeDenied indicates the raw transport could not acquire a raw
	// socket. Fatal unless the operator requested the Sim backend.
	ErrPrivilegeDenied = errors.New("mtrengine: raw socket requires elevated privileges")

	// ErrUnresolvable indicates the target hostname yielded no address record.
	ErrUnresolvable = errors.New("mtrengine: target could not be resolved")

	// ErrSocketClosed indicates an operation was attempted on a closed transport.
	ErrSocketClosed = errors.New("mtrengine: transport closed")

	// ErrInvalidTTL indicates a TTL outside the valid IP range was requested.
	ErrInvalidTTL = errors.New("mtrengine: ttl must be between 1 and 255")

	// ErrNotRunning indicates Stop was called on a session that never started.
	ErrNotRunning = errors.New("mtrengine: session is not running")

	// ErrAlreadyRunning indicates Run was called twice on the same session.
	ErrAlreadyRunning = errors.New("mtrengine: session already running")
)

// IsPrivilegeError reports whether err is (or wraps) ErrPrivilegeDenied.
func IsPrivilegeError(err error) bool {
	return errors.Is(err, ErrPrivilegeDenied)
}
