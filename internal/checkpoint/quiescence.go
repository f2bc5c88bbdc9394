package checkpoint

import "time"

// mtimeProber reports the latest modification time (as a monotonic,
// comparable float — seconds since epoch is fine) of every file under
// the directory being watched. Factored out of FinalDump's page-server
// branch so
// spec §8 point 5 can be tested by freezing a fake prober's return
// value, with no SSH session involved.
type mtimeProber func() (float64, error)

// pollQuiescence blocks until prober's reported value has not changed
// for stableWindow, sampling every pollInterval, or returns
// *QuiescenceTimeoutError once timeout elapses without ever observing
// that stability (spec §4.2, §8 point 5, §9 "quiescence loop ...
// heuristic").
func pollQuiescence(prober mtimeProber, pollInterval, stableWindow, timeout time.Duration, host string, now func() time.Time, sleep func(time.Duration)) error {
	deadline := now().Add(timeout)

	var lastSeen float64 = -1
	var stableSince time.Time

	for {
		if now().After(deadline) {
			return &QuiescenceTimeoutError{Host: host, Elapsed: timeout}
		}

		cur, err := prober()
		if err != nil {
			return err
		}

		if cur != lastSeen {
			lastSeen = cur
			stableSince = now()
		} else if !stableSince.IsZero() && now().Sub(stableSince) >= stableWindow {
			return nil
		}

		sleep(pollInterval)
	}
}
