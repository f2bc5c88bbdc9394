package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuiltinTypes(t *testing.T) {
	for _, typ := range []string{"memory", "matmul", "redis", "video"} {
		cfg := map[string]interface{}{}
		if typ == "video" {
			cfg["input_path"] = "in.mp4"
		}

		w, err := New(typ, cfg)
		require.NoErrorf(t, err, "New(%q)", typ)

		assert.Equal(t, typ, w.Type())
		assert.NoErrorf(t, w.ValidateConfig(), "%s: ValidateConfig()", typ)
		assert.Containsf(t, w.Command("/tmp/wd"), w.StandaloneScriptName(), "%s: Command() does not reference its own script", typ)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	_, err := New("bogus", nil)
	assert.Error(t, err, "expected an error for an unknown workload type")
}

func TestRequiresTCPEstablishedOnlyForRedis(t *testing.T) {
	redis, _ := New("redis", nil)
	memory, _ := New("memory", nil)

	assert.True(t, RequiresTCPEstablished(redis), "redis must require --tcp-established")
	assert.False(t, RequiresTCPEstablished(memory), "memory must not require --tcp-established")
}

// TestStandaloneScriptsWriteReadyPID guards the checkpoint manager's
// PID-handshake primary path: every built-in standalone script must
// write a ready:<pid> line to checkpoint_ready, since nothing writes
// a separate workload.pid file.
func TestStandaloneScriptsWriteReadyPID(t *testing.T) {
	for _, typ := range []string{"memory", "matmul", "redis", "video"} {
		cfg := map[string]interface{}{}
		if typ == "video" {
			cfg["input_path"] = "in.mp4"
		}

		w, err := New(typ, cfg)
		require.NoErrorf(t, err, "New(%q)", typ)

		content := w.StandaloneScriptContent()
		assert.Containsf(t, content, `"checkpoint_ready"`, "%s: must create checkpoint_ready", typ)
		assert.Containsf(t, content, "ready:%d", "%s: must write the ready:<pid> line", typ)
	}
}
