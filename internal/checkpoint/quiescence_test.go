package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives pollQuiescence's now()/sleep() without any real
// time passing, so the test is deterministic and instant.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

// TestQuiescenceTerminatesOnFrozenMtime pins spec §8 point 5: a
// frozen mtime for >= 2 consecutive seconds must end the loop, and
// not before.
func TestQuiescenceTerminatesOnFrozenMtime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}

	calls := 0
	prober := func() (float64, error) {
		calls++
		// mtime advances on the first two samples, then freezes.
		if calls <= 2 {
			return float64(calls), nil
		}

		return 2.0, nil
	}

	err := pollQuiescence(prober, 500*time.Millisecond, 2*time.Second, 30*time.Second, "source", clock.now, clock.sleep)
	require.NoError(t, err, "expected quiescence to be detected")

	// It must not have declared quiescence on the very first stable
	// sample; at least 2s of stability (4 polls at 500ms) must have
	// elapsed since the mtime last changed.
	assert.GreaterOrEqualf(t, calls, 5, "declared quiescence too early after %d polls", calls)
}

func TestQuiescenceNeverStableTimesOut(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}

	n := 0.0
	prober := func() (float64, error) {
		n++
		return n, nil // mtime advances every single poll: never quiescent
	}

	err := pollQuiescence(prober, 500*time.Millisecond, 2*time.Second, 3*time.Second, "source", clock.now, clock.sleep)
	require.Error(t, err, "expected a timeout error")

	_, ok := err.(*QuiescenceTimeoutError)
	assert.Truef(t, ok, "expected *QuiescenceTimeoutError, got %T: %v", err, err)
}
