package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestObjstorFetchDoneClassification is spec §8 point 8's test oracle.
func TestObjstorFetchDoneClassification(t *testing.T) {
	line := "(  0.123456) 4242 objstor: FETCH_DONE key=foo offset=0 len=4096 dur_ms=1.5"

	ev, ok := ParseLine(line)
	require.Truef(t, ok, "expected line to parse: %q", line)

	assert.Equal(t, EventObjstorFetchDone, ev.EventKind)
	assert.Equal(t, 4242, ev.PID)
	assert.Equal(t, 0.123456, ev.TimestampSec)

	want := map[string]interface{}{"key": "foo", "offset": 0, "length": 4096, "duration_ms": 1.5}
	for k, v := range want {
		assert.Equalf(t, v, ev.Details[k], "details[%q]", k)
	}
}

func TestBlankAndMalformedLinesSkipped(t *testing.T) {
	_, ok := ParseLine("")
	assert.False(t, ok, "blank line must not parse")

	_, ok = ParseLine("not a criu log line")
	assert.False(t, ok, "non-conforming line must not parse")
}

func TestParseLogMultiline(t *testing.T) {
	content := "(  0.000100) 100 Restoring start\n\n(  0.000200) 100 objstor: FETCH_START key=a offset=0 len=10\ngarbage\n(  0.000300) 100 Restoring finished\n"

	events := ParseLog(content)
	require.Len(t, events, 3)

	assert.Equal(t, EventRestoreStart, events[0].EventKind)
	assert.Equal(t, EventRestoreEnd, events[2].EventKind)
}

func TestLegacyObjstorFetchAlias(t *testing.T) {
	ev, ok := ParseLine("(  1.000000) 1 objstor: FETCH key=bar offset=4096 len=4096 dur_ms=2.0")
	require.True(t, ok, "expected line to parse")

	assert.Equal(t, EventObjstorFetchLegacy, ev.EventKind)
}
