// Package config is the opaque configuration value the CLI layer
// loads and hands to the orchestrator. Nothing downstream of
// internal/experiment knows about flags, YAML, or environment
// variables — config.Config is the entire surface (spec §1 "Out of
// scope", §6).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"

	"github.com/ddps-lab/criu-migrate/internal/lazymode"
	"github.com/ddps-lab/criu-migrate/internal/objectstorage"
)

// NodeConfig describes one SSH-reachable endpoint (spec §3 Host).
type NodeConfig struct {
	Address    string `yaml:"address"`
	SSHUser    string `yaml:"ssh_user"`
	SSHKey     string `yaml:"ssh_key"`
	WorkingDir string `yaml:"working_dir"`
}

// Strategy is checkpoint.strategy from spec §6.
type Strategy struct {
	Mode              string           `yaml:"mode"` // "predump" | "full"
	PredumpIterations int              `yaml:"predump_iterations"`
	PredumpInterval   time.Duration    `yaml:"predump_interval"`
	WaitBeforeDump    time.Duration    `yaml:"wait_before_dump"`
	TargetMemoryMB    int              `yaml:"target_memory_mb"`
	LazyMode          lazymode.Mode    `yaml:"lazy_mode"`
	PageServerPort    int              `yaml:"page_server_port"`
	PrefetchWorkers   int              `yaml:"prefetch_workers"`
}

// Transfer is the transfer method selection and its per-method params.
type Transfer struct {
	Method string `yaml:"method"` // "rsync" | "s3" | "efs" | "ebs"

	RsyncArgs string `yaml:"rsync_args"`
	EBSPath   string `yaml:"ebs_path"`
}

// Workload is the workload selection and its opaque type-specific
// sub-config, decoded on demand with mapstructure into whatever
// struct the selected Workload implementation expects.
type Workload struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// Decode unmarshals the workload-specific config block into out.
func (w Workload) Decode(out interface{}) error {
	return mapstructure.Decode(w.Config, out)
}

// Logging is the collect_logs/logs_dir/experiment-name surface.
type Logging struct {
	CollectLogs    bool   `yaml:"collect_logs"`
	LogsDir        string `yaml:"logs_dir"`
	ExperimentName string `yaml:"experiment_name"`
}

// DirtyTracking is the dirty-page sampler opt-in and parameters.
type DirtyTracking struct {
	Enable      bool          `yaml:"enable"`
	Interval    time.Duration `yaml:"interval"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

// Timeouts makes spec §9's "magic constants" a configuration surface.
// Zero values fall back to the defaults spec.md documents.
type Timeouts struct {
	PreDump           time.Duration `yaml:"pre_dump"`
	FinalDump         time.Duration `yaml:"final_dump"`
	Restore           time.Duration `yaml:"restore"`
	TargetMemory      time.Duration `yaml:"target_memory"`
	Quiescence        time.Duration `yaml:"quiescence"`
	LazyPagesComplete time.Duration `yaml:"lazy_pages_complete"`
	ReadyWait         time.Duration `yaml:"ready_wait"`
}

// WithDefaults returns t with every zero field replaced by spec.md's
// documented constant.
func (t Timeouts) WithDefaults() Timeouts {
	if t.PreDump == 0 {
		t.PreDump = 120 * time.Second
	}

	if t.FinalDump == 0 {
		t.FinalDump = 300 * time.Second
	}

	if t.Restore == 0 {
		t.Restore = 300 * time.Second
	}

	if t.TargetMemory == 0 {
		t.TargetMemory = 600 * time.Second
	}

	if t.Quiescence == 0 {
		t.Quiescence = 60 * time.Second
	}

	if t.LazyPagesComplete == 0 {
		t.LazyPagesComplete = 120 * time.Second
	}

	if t.ReadyWait == 0 {
		t.ReadyWait = 120 * time.Second
	}

	return t
}

// Config is the full opaque config value (spec §6 CLI surface).
type Config struct {
	Source      NodeConfig               `yaml:"source"`
	Destination NodeConfig               `yaml:"destination"`
	Workload    Workload                 `yaml:"workload"`
	Strategy    Strategy                 `yaml:"checkpoint_strategy"`
	Transfer    Transfer                 `yaml:"transfer"`
	S3          objectstorage.Config     `yaml:"s3"`
	Logging     Logging                  `yaml:"logging"`
	DirtyTrack  DirtyTracking            `yaml:"dirty_tracking"`
	Timeouts    Timeouts                 `yaml:"timeouts"`
}

// Load reads and parses a YAML config file, then applies the
// REGION/SOURCE_NODE_IP/DEST_NODE_IP environment fallbacks (spec §6)
// for any address left blank in the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvFallbacks(&cfg)

	return cfg, nil
}

func applyEnvFallbacks(cfg *Config) {
	if cfg.Source.Address == "" {
		cfg.Source.Address = os.Getenv("SOURCE_NODE_IP")
	}

	if cfg.Destination.Address == "" {
		cfg.Destination.Address = os.Getenv("DEST_NODE_IP")
	}

	if cfg.S3.UploadRegion == "" {
		cfg.S3.UploadRegion = os.Getenv("REGION")
	}
}
