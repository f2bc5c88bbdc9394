package dirtytracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendPriorityOrder(t *testing.T) {
	want := []string{"native", "native-portable", "scripted"}

	require.Len(t, backends, len(want))

	for i, name := range want {
		assert.Equalf(t, name, backends[i].Name, "backends[%d]", i)
	}
}

func TestStopAndCollectHandleNilSafe(t *testing.T) {
	s := &Supervisor{}

	s.Stop(nil) // must not panic

	err := s.CollectResults(nil, "/tmp/out.json")
	assert.Error(t, err, "expected an error collecting results for a nil handle")
}
