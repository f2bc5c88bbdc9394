package remote

import "fmt"

// TransportError reports an SSH connect or command-transport failure.
// It is never locally recoverable: the run that produced it aborts
// (spec §7).
type TransportError struct {
	Host   string
	Reason error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on %s: %v", e.Host, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Reason }
