package experiment

import "time"

// memoryProber reports the workload's current VmRSS in kB. Factored
// out so spec §8 point 6 ("given a fake /proc/{pid}/status producer
// that emits increasing VmRSS values...") can be tested without an
// SSH session.
type memoryProber func() (kb int, err error)

// pollTargetMemory blocks until prober reports a VmRSS at or above
// targetMB*1024, sampling every pollInterval, or until timeout
// elapses. Unlike quiescence, a timeout here is not an error (spec
// §7: "Target-memory timeout: Yes — warn and proceed with dump") —
// the bool return distinguishes "reached" from "gave up".
func pollTargetMemory(prober memoryProber, targetMB int, pollInterval, timeout time.Duration, now func() time.Time, sleep func(time.Duration)) bool {
	targetKB := targetMB * 1024
	deadline := now().Add(timeout)

	for {
		if kb, err := prober(); err == nil && kb >= targetKB {
			return true
		}

		if now().After(deadline) {
			return false
		}

		sleep(pollInterval)
	}
}
