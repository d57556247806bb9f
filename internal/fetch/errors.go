package fetch

import "fmt"

// TransientError marks an upstream failure that is expected to succeed on
// retry: timeouts, rate limits, transient server errors.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient reports this error class as retryable.
func (e *TransientError) Transient() bool { return true }

// PermanentError marks an upstream failure that will not succeed on retry:
// unknown symbols, malformed responses.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient reports this error class as not retryable.
func (e *PermanentError) Transient() bool { return false }
