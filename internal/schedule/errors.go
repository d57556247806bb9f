package schedule

import (
	"errors"
	"net"
)

// transienter is implemented by errors that know whether a retry could
// succeed. The fetch client's error types implement it.
type transienter interface {
	Transient() bool
}

// IsTransient reports whether the error is worth retrying. Errors that
// classify themselves win; otherwise network timeouts count as transient.
// Unclassified errors are treated as permanent so unknown failures are
// never retried blindly.
func IsTransient(err error) bool {
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
