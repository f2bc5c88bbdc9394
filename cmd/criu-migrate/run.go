package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddps-lab/criu-migrate/internal/config"
	"github.com/ddps-lab/criu-migrate/internal/experiment"
	"github.com/ddps-lab/criu-migrate/internal/lazymode"
	"github.com/ddps-lab/criu-migrate/internal/telemetry"
	"github.com/ddps-lab/criu-migrate/internal/workload"
)

type cmdRun struct {
	global *cmdGlobal

	flagConfigFile string

	flagSourceAddress string
	flagSourceUser    string
	flagSourceKey     string
	flagSourceDir     string

	flagDestAddress string
	flagDestUser    string
	flagDestKey     string
	flagDestDir     string

	flagWorkloadType string

	flagStrategyMode       string
	flagPredumpIterations  int
	flagPredumpInterval    time.Duration
	flagWaitBeforeDump     time.Duration
	flagTargetMemoryMB     int
	flagLazyMode           string
	flagPageServerPort     int
	flagPrefetchWorkers    int

	flagTransferMethod string
	flagEBSPath        string

	flagS3Bucket   string
	flagS3Prefix   string
	flagS3Region   string
	flagS3Endpoint string

	flagCollectLogs     bool
	flagLogsDir         string
	flagExperimentName  string

	flagDirtyTrackEnable      bool
	flagDirtyTrackIntervalMs  int
	flagDirtyTrackMaxDuration time.Duration
}

// command builds the root cobra.Command (spec §6 CLI surface), in the
// same shape lxd-migrate assembles its migrate command: a struct of
// bound flags plus a RunE closure.
func (c *cmdRun) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "criu-migrate"
	cmd.Short = "CRIU checkpoint/migration experiment orchestrator"
	cmd.Long = `Description:
  Drives a source and a destination Linux host over SSH through a CRIU
  checkpoint, optional live-migration transfer, and restore, recording
  timing and log telemetry for later analysis.
`
	cmd.RunE = c.run

	cmd.Flags().StringVar(&c.flagConfigFile, "config", "", "Path to a YAML experiment config; flags below fill in fields it leaves blank (--source and --dest override it)")

	cmd.Flags().StringVar(&c.flagSourceAddress, "source", "", "Source host address (falls back to $SOURCE_NODE_IP)")
	cmd.Flags().StringVar(&c.flagSourceUser, "source-user", "ubuntu", "SSH user on the source host")
	cmd.Flags().StringVar(&c.flagSourceKey, "source-key", "", "SSH private key path for the source host")
	cmd.Flags().StringVar(&c.flagSourceDir, "source-dir", "/home/ubuntu/criu-migrate", "Working directory on the source host")

	cmd.Flags().StringVar(&c.flagDestAddress, "dest", "", "Destination host address (falls back to $DEST_NODE_IP)")
	cmd.Flags().StringVar(&c.flagDestUser, "dest-user", "ubuntu", "SSH user on the destination host")
	cmd.Flags().StringVar(&c.flagDestKey, "dest-key", "", "SSH private key path for the destination host")
	cmd.Flags().StringVar(&c.flagDestDir, "dest-dir", "/home/ubuntu/criu-migrate", "Working directory on the destination host")

	cmd.Flags().StringVar(&c.flagWorkloadType, "workload", "memory", "Workload type: memory, matmul, redis, video")

	cmd.Flags().StringVar(&c.flagStrategyMode, "strategy", "full", "Checkpoint strategy: predump or full")
	cmd.Flags().IntVar(&c.flagPredumpIterations, "predump-iterations", 0, "Number of pre-dump iterations (predump strategy)")
	cmd.Flags().DurationVar(&c.flagPredumpInterval, "predump-interval", 5*time.Second, "Minimum pacing interval between pre-dumps")
	cmd.Flags().DurationVar(&c.flagWaitBeforeDump, "wait-before-dump", 0, "Fixed wait before the final dump (full strategy, time-gated)")
	cmd.Flags().IntVar(&c.flagTargetMemoryMB, "target-memory-mb", 0, "Wait until workload VmRSS reaches this many MB before dumping (full strategy, memory-gated)")
	cmd.Flags().StringVar(&c.flagLazyMode, "lazy-mode", string(lazymode.None), "Lazy-pages mode: none, lazy, lazy-prefetch, live-migration, live-migration-prefetch")
	cmd.Flags().IntVar(&c.flagPageServerPort, "page-server-port", 27, "CRIU page-server port")
	cmd.Flags().IntVar(&c.flagPrefetchWorkers, "prefetch-workers", 4, "Async-prefetch worker count")

	cmd.Flags().StringVar(&c.flagTransferMethod, "transfer-method", "rsync", "Transfer method: rsync, s3, efs, ebs")
	cmd.Flags().StringVar(&c.flagEBSPath, "ebs-path", "", "Mounted EBS path on source (ebs transfer method)")

	cmd.Flags().StringVar(&c.flagS3Bucket, "s3-bucket", "", "Object storage bucket")
	cmd.Flags().StringVar(&c.flagS3Prefix, "s3-prefix", "", "Object storage key prefix")
	cmd.Flags().StringVar(&c.flagS3Region, "s3-region", "", "Object storage region (falls back to $REGION)")
	cmd.Flags().StringVar(&c.flagS3Endpoint, "s3-endpoint", "", "Object storage download endpoint")

	cmd.Flags().BoolVar(&c.flagCollectLogs, "collect-logs", true, "Fetch CRIU logs and workload status files after the run")
	cmd.Flags().StringVar(&c.flagLogsDir, "logs-dir", "./results", "Local directory artifacts are written under")
	cmd.Flags().StringVar(&c.flagExperimentName, "experiment-name", "", "Optional name prefix for the artifact directory")

	cmd.Flags().BoolVar(&c.flagDirtyTrackEnable, "dirty-tracking", false, "Enable the remote dirty-page sampler")
	cmd.Flags().IntVar(&c.flagDirtyTrackIntervalMs, "dirty-tracking-interval-ms", 100, "Dirty-page sampler interval, in ms")
	cmd.Flags().DurationVar(&c.flagDirtyTrackMaxDuration, "dirty-tracking-max-duration", time.Hour, "Dirty-page sampler maximum run time")

	return cmd
}

func (c *cmdRun) buildConfig() (config.Config, error) {
	var cfg config.Config

	if c.flagConfigFile != "" {
		loaded, err := config.Load(c.flagConfigFile)
		if err != nil {
			return config.Config{}, err
		}

		cfg = loaded
	}

	if c.flagSourceAddress != "" {
		cfg.Source.Address = c.flagSourceAddress
	}

	if cfg.Source.Address == "" {
		cfg.Source.Address = os.Getenv("SOURCE_NODE_IP")
	}

	if cfg.Source.SSHUser == "" {
		cfg.Source.SSHUser = c.flagSourceUser
	}

	if cfg.Source.SSHKey == "" {
		cfg.Source.SSHKey = c.flagSourceKey
	}

	if cfg.Source.WorkingDir == "" {
		cfg.Source.WorkingDir = c.flagSourceDir
	}

	if c.flagDestAddress != "" {
		cfg.Destination.Address = c.flagDestAddress
	}

	if cfg.Destination.Address == "" {
		cfg.Destination.Address = os.Getenv("DEST_NODE_IP")
	}

	if cfg.Destination.SSHUser == "" {
		cfg.Destination.SSHUser = c.flagDestUser
	}

	if cfg.Destination.SSHKey == "" {
		cfg.Destination.SSHKey = c.flagDestKey
	}

	if cfg.Destination.WorkingDir == "" {
		cfg.Destination.WorkingDir = c.flagDestDir
	}

	if cfg.Workload.Type == "" {
		cfg.Workload.Type = c.flagWorkloadType
	}

	if cfg.Strategy.Mode == "" {
		cfg.Strategy.Mode = c.flagStrategyMode
	}

	if cfg.Strategy.PredumpIterations == 0 {
		cfg.Strategy.PredumpIterations = c.flagPredumpIterations
	}

	if cfg.Strategy.PredumpInterval == 0 {
		cfg.Strategy.PredumpInterval = c.flagPredumpInterval
	}

	if cfg.Strategy.WaitBeforeDump == 0 {
		cfg.Strategy.WaitBeforeDump = c.flagWaitBeforeDump
	}

	if cfg.Strategy.TargetMemoryMB == 0 {
		cfg.Strategy.TargetMemoryMB = c.flagTargetMemoryMB
	}

	if cfg.Strategy.LazyMode == "" {
		cfg.Strategy.LazyMode = lazymode.Mode(c.flagLazyMode)
	}

	if cfg.Strategy.PageServerPort == 0 {
		cfg.Strategy.PageServerPort = c.flagPageServerPort
	}

	if cfg.Strategy.PrefetchWorkers == 0 {
		cfg.Strategy.PrefetchWorkers = c.flagPrefetchWorkers
	}

	if cfg.Transfer.Method == "" {
		cfg.Transfer.Method = c.flagTransferMethod
	}

	if cfg.Transfer.EBSPath == "" {
		cfg.Transfer.EBSPath = c.flagEBSPath
	}

	if cfg.S3.UploadBucket == "" {
		cfg.S3.UploadBucket = c.flagS3Bucket
	}

	if cfg.S3.UploadPrefix == "" {
		cfg.S3.UploadPrefix = c.flagS3Prefix
	}

	if cfg.S3.UploadRegion == "" {
		cfg.S3.UploadRegion = c.flagS3Region
	}

	if cfg.S3.UploadRegion == "" {
		cfg.S3.UploadRegion = os.Getenv("REGION")
	}

	if cfg.S3.DownloadEndpoint == "" {
		cfg.S3.DownloadEndpoint = c.flagS3Endpoint
	}

	cfg.Logging.CollectLogs = cfg.Logging.CollectLogs || c.flagCollectLogs

	if cfg.Logging.LogsDir == "" {
		cfg.Logging.LogsDir = c.flagLogsDir
	}

	if cfg.Logging.ExperimentName == "" {
		cfg.Logging.ExperimentName = c.flagExperimentName
	}

	cfg.DirtyTrack.Enable = cfg.DirtyTrack.Enable || c.flagDirtyTrackEnable

	if cfg.DirtyTrack.Interval == 0 {
		cfg.DirtyTrack.Interval = time.Duration(c.flagDirtyTrackIntervalMs) * time.Millisecond
	}

	if cfg.DirtyTrack.MaxDuration == 0 {
		cfg.DirtyTrack.MaxDuration = c.flagDirtyTrackMaxDuration
	}

	if cfg.Source.Address == "" {
		return config.Config{}, fmt.Errorf("source address is required (--source or $SOURCE_NODE_IP)")
	}

	if cfg.Destination.Address == "" {
		return config.Config{}, fmt.Errorf("destination address is required (--dest or $DEST_NODE_IP)")
	}

	return cfg, nil
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) error {
	cfg, err := c.buildConfig()
	if err != nil {
		return err
	}

	wl, err := workload.New(cfg.Workload.Type, cfg.Workload.Config)
	if err != nil {
		return fmt.Errorf("build workload: %w", err)
	}

	if cfg.Logging.LogsDir != "" {
		if err := os.MkdirAll(cfg.Logging.LogsDir, 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
	}

	logFile := ""
	if cfg.Logging.LogsDir != "" {
		logFile = filepath.Join(cfg.Logging.LogsDir, "criu-migrate.log")
	}

	log, err := telemetry.NewLogger(logFile)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	orch := experiment.New(cfg, wl, log)

	_, runErr := orch.Run()
	orch.Cleanup()

	if runErr != nil {
		return runErr
	}

	return nil
}
