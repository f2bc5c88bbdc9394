package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutsWithDefaults(t *testing.T) {
	got := Timeouts{}.WithDefaults()

	want := Timeouts{
		PreDump:           120 * time.Second,
		FinalDump:         300 * time.Second,
		Restore:           300 * time.Second,
		TargetMemory:      600 * time.Second,
		Quiescence:        60 * time.Second,
		LazyPagesComplete: 120 * time.Second,
		ReadyWait:         120 * time.Second,
	}

	require.Equal(t, want, got)
}

func TestTimeoutsWithDefaultsPreservesOverrides(t *testing.T) {
	in := Timeouts{PreDump: 5 * time.Second}

	got := in.WithDefaults()

	assert.Equal(t, 5*time.Second, got.PreDump, "override lost")
	assert.Equal(t, 300*time.Second, got.Restore, "default not applied")
}

func TestApplyEnvFallbacks(t *testing.T) {
	t.Setenv("SOURCE_NODE_IP", "10.0.0.1")
	t.Setenv("DEST_NODE_IP", "10.0.0.2")
	t.Setenv("REGION", "us-west-2")

	cfg := &Config{}
	applyEnvFallbacks(cfg)

	assert.Equal(t, "10.0.0.1", cfg.Source.Address)
	assert.Equal(t, "10.0.0.2", cfg.Destination.Address)
	assert.Equal(t, "us-west-2", cfg.S3.UploadRegion)
}

func TestApplyEnvFallbacksDoesNotOverrideExplicitValues(t *testing.T) {
	t.Setenv("SOURCE_NODE_IP", "10.0.0.1")

	cfg := &Config{}
	cfg.Source.Address = "192.168.1.1"

	applyEnvFallbacks(cfg)

	assert.Equal(t, "192.168.1.1", cfg.Source.Address, "explicit value must not be overridden")
}

func TestLoadParsesYAMLAndAppliesFallbacks(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	contents := `
source:
  ssh_user: ubuntu
  working_dir: /home/ubuntu/criu-migrate
destination:
  ssh_user: ubuntu
  working_dir: /home/ubuntu/criu-migrate
workload:
  type: memory
checkpoint_strategy:
  mode: predump
  predump_iterations: 2
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	t.Setenv("SOURCE_NODE_IP", "10.0.0.1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Source.Address, "env fallback")
	assert.Equal(t, 2, cfg.Strategy.PredumpIterations)
	assert.Equal(t, "memory", cfg.Workload.Type)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err, "expected error for missing config file")
}
