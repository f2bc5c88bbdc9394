package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimerRoundtrip is spec §8 point 7.
func TestTimerRoundtrip(t *testing.T) {
	c := NewCollector()

	c.StartTimer("final_dump")
	time.Sleep(5 * time.Millisecond)
	pm := c.StopTimer("final_dump", map[string]interface{}{"dir": "3"})

	assert.Equal(t, "final_dump", pm.Name)
	assert.Equal(t, pm.End.Sub(pm.Start), pm.Duration)

	data, err := json.Marshal(pm)
	require.NoError(t, err)

	var roundtripped PhaseMetric
	require.NoError(t, json.Unmarshal(data, &roundtripped))

	assert.Equal(t, pm.Name, roundtripped.Name)
	assert.Equal(t, pm.Duration, roundtripped.Duration)
}

func TestPreDumpIterationsAccumulate(t *testing.T) {
	c := NewCollector()

	c.StartTimer("pre_dump_1")
	c.StopTimer("pre_dump_1", nil)
	c.StartTimer("pre_dump_2")
	c.StopTimer("pre_dump_2", nil)

	data, err := c.Finalize()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	iters, ok := doc["pre_dump_iterations"].([]interface{})
	require.Truef(t, ok, "expected pre_dump_iterations to be a list, got %v", doc["pre_dump_iterations"])
	assert.Len(t, iters, 2)
}

func TestMarkFailureStillProducesDocument(t *testing.T) {
	c := NewCollector()
	c.MarkFailure("pre-dump #2 failed")

	data, err := c.Finalize()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, false, doc["success"])
	assert.Equal(t, "pre-dump #2 failed", doc["error"])
}
