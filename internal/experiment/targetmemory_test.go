package experiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPollTargetMemoryFirstCrossing pins spec §8 point 6: returns true
// exactly when the reported VmRSS first reaches target_mb*1024, never
// before.
func TestPollTargetMemoryFirstCrossing(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	sleep := func(d time.Duration) { clock = clock.Add(d) }

	readings := []int{100 * 1024, 300 * 1024, 512 * 1024, 1024 * 1024}
	calls := 0

	prober := func() (int, error) {
		kb := readings[calls]
		if calls < len(readings)-1 {
			calls++
		}

		return kb, nil
	}

	reached := pollTargetMemory(prober, 512, 2*time.Second, 600*time.Second, now, sleep)
	require.True(t, reached, "expected target memory to be reached")

	assert.Equalf(t, 3, calls, "crossed the target on the wrong call (expected the third, 512MB reading)")
}

func TestPollTargetMemoryTimesOut(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	sleep := func(d time.Duration) { clock = clock.Add(d) }

	prober := func() (int, error) { return 10 * 1024, nil } // never reaches target

	reached := pollTargetMemory(prober, 1024, 2*time.Second, 5*time.Second, now, sleep)
	assert.False(t, reached, "expected timeout (false)")
}
