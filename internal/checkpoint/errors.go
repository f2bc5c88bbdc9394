package checkpoint

import (
	"fmt"
	"time"
)

// CRIUCommandError reports a failed CRIU invocation (pre-dump, final
// dump, or restore). It is never locally recoverable (spec §7): it
// carries the phase name, duration, stderr, and the tail of the CRIU
// log the way lxd's Migrate() surfaces getCRIULogErrors() in its
// returned error.
type CRIUCommandError struct {
	Phase    string
	Host     string
	Duration time.Duration
	Stderr   string
	LogTail  string
}

func (e *CRIUCommandError) Error() string {
	return fmt.Sprintf("criu %s failed on %s after %s: %s\n--- log tail ---\n%s",
		e.Phase, e.Host, e.Duration.Round(time.Millisecond), e.Stderr, e.LogTail)
}

// ReadinessTimeoutError reports wait_for_ready exceeding its deadline.
type ReadinessTimeoutError struct {
	Host    string
	Waited  time.Duration
	File    string
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s on %s", e.Waited.Round(time.Second), e.File, e.Host)
}

// QuiescenceTimeoutError reports the mtime-polling loop exceeding its
// deadline without ever observing stability.
type QuiescenceTimeoutError struct {
	Host    string
	Elapsed time.Duration
}

func (e *QuiescenceTimeoutError) Error() string {
	return fmt.Sprintf("quiescence wait on %s timed out after %s", e.Host, e.Elapsed.Round(time.Second))
}
