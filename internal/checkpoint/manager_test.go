package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePSForPID(t *testing.T) {
	psOutput := "root       1  0  0 10:00 ?        00:00:00 /sbin/init\n" +
		"ubuntu  4242  1  0 10:01 ?        00:00:01 python3 memory_standalone.py --mb_size 256\n" +
		"ubuntu  4299  1  0 10:01 ?        00:00:00 grep python3 memory_standalone.py\n"

	pid, err := parsePSForPID(psOutput, "python3 memory_standalone.py --mb_size 256")
	require.NoError(t, err)
	require.Equal(t, 4242, pid, "must skip the grep line itself")
}

func TestParsePSForPIDNotFound(t *testing.T) {
	_, err := parsePSForPID("root 1 0 0 ?  /sbin/init\n", "nonexistent_cmd")
	require.Error(t, err, "expected an error when no process matches")
}

func TestParseReadyPID(t *testing.T) {
	pid, ok := parseReadyPID("ready:4242\n")
	require.True(t, ok, "expected ready:<pid> line to parse")
	require.Equal(t, 4242, pid)
}

func TestParseReadyPIDIgnoresOtherLines(t *testing.T) {
	pid, ok := parseReadyPID("[memory] started\nready:9001\n")
	require.True(t, ok, "expected ready:<pid> line to parse among other output")
	require.Equal(t, 9001, pid)
}

func TestParseReadyPIDMissing(t *testing.T) {
	_, ok := parseReadyPID("")
	require.False(t, ok, "expected no PID from an empty checkpoint_ready file")
}
