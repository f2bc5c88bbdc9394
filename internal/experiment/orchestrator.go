// Package experiment implements the Experiment Orchestrator (spec
// §4.5): the sequencer that drives prepare → launch → pre-dump(s) →
// final-dump → transfer → restore → verify → finalize across the
// Checkpoint Manager, Transfer Manager, Dirty-Tracker Supervisor, and
// Telemetry Collector. It owns exactly one of each (spec §3
// Ownership).
package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"

	"github.com/ddps-lab/criu-migrate/internal/checkpoint"
	"github.com/ddps-lab/criu-migrate/internal/config"
	"github.com/ddps-lab/criu-migrate/internal/dirtytracker"
	"github.com/ddps-lab/criu-migrate/internal/lazymode"
	"github.com/ddps-lab/criu-migrate/internal/remote"
	"github.com/ddps-lab/criu-migrate/internal/telemetry"
	"github.com/ddps-lab/criu-migrate/internal/transfer"
	"github.com/ddps-lab/criu-migrate/internal/workload"
)

// Orchestrator is the Experiment Orchestrator.
type Orchestrator struct {
	cfg config.Config
	log *telemetry.Logger

	plane         *remote.Plane
	checkpointMgr *checkpoint.Manager
	transferMgr   *transfer.Manager
	dirtySup      *dirtytracker.Supervisor
	metrics       *telemetry.Collector

	wl         workload.Workload
	source     remote.Host
	dest       remote.Host

	workloadPID int
	dirtyHandle *dirtytracker.Handle
	lazyCfg     lazymode.Config

	finalCheckpointDir string
	finalIteration     int
}

// New builds an Orchestrator wired from cfg. It constructs its own
// Plane, Checkpoint Manager, Transfer Manager, Dirty-Tracker
// Supervisor, and Metrics Collector (spec §3 ownership); the caller
// supplies only the Workload (already decoded by the CLI/config
// layer) and a Logger.
func New(cfg config.Config, wl workload.Workload, log *telemetry.Logger) *Orchestrator {
	entry := log.Entry()
	plane := remote.New(entry)

	timeouts := cfg.Timeouts.WithDefaults()
	ckptMgr := checkpoint.New(plane, entry)
	ckptMgr.PreDumpTimeout = timeouts.PreDump
	ckptMgr.FinalDumpTimeout = timeouts.FinalDump
	ckptMgr.RestoreTimeout = timeouts.Restore
	ckptMgr.QuiescenceTimeout = timeouts.Quiescence
	ckptMgr.LazyPagesCompleteTimeout = timeouts.LazyPagesComplete
	ckptMgr.ReadyTimeout = timeouts.ReadyWait

	o := &Orchestrator{
		cfg:           cfg,
		log:           log,
		plane:         plane,
		checkpointMgr: ckptMgr,
		transferMgr:   transfer.New(plane),
		dirtySup:      dirtytracker.New(plane, entry),
		metrics:       telemetry.NewCollector(),
		wl:            wl,
		source: remote.Host{
			Name: "source", Address: cfg.Source.Address, User: cfg.Source.SSHUser,
			KeyPath: cfg.Source.SSHKey, WorkingDir: cfg.Source.WorkingDir,
		},
		dest: remote.Host{
			Name: "destination", Address: cfg.Destination.Address, User: cfg.Destination.SSHUser,
			KeyPath: cfg.Destination.SSHKey, WorkingDir: cfg.Destination.WorkingDir,
		},
		lazyCfg: lazymode.Config{
			Mode:            cfg.Strategy.LazyMode,
			PageServerPort:  cfg.Strategy.PageServerPort,
			PrefetchWorkers: cfg.Strategy.PrefetchWorkers,
		}.Normalize(),
	}

	o.metrics.SetConfig(cfg)
	o.metrics.SetCLIArgs(os.Args[1:])
	o.metrics.SetNodes(cfg.Source.Address, cfg.Destination.Address)

	return o
}

// Run executes the full Init → PreparedNodes → WorkloadRunning →
// [DirtyTracking?] → {PredumpLoop(N) | TriggerWait} → FinalDumped →
// Transferred → Restored → Verified → Finalized sequence (spec §4.5).
// Regardless of where the run fails, it attempts log collection when
// logging.collect_logs is set, and always builds the metrics JSON
// document, writing it to logs_dir/metrics.json when a logs dir is
// configured (spec §7).
func (o *Orchestrator) Run() ([]byte, error) {
	defer o.plane.CloseAll()

	runErr := o.run()

	if runErr != nil {
		o.metrics.MarkFailure(runErr.Error())
		o.log.Error("experiment failed", nil)
	}

	if o.cfg.Logging.CollectLogs {
		o.collectLogs()
	}

	doc, marshalErr := o.metrics.Finalize()
	if marshalErr != nil {
		return nil, fmt.Errorf("serialize metrics: %w", marshalErr)
	}

	fmt.Println(o.metrics.Summary())

	if o.cfg.Logging.LogsDir != "" {
		_ = os.MkdirAll(o.cfg.Logging.LogsDir, 0o755)
		_ = os.WriteFile(filepath.Join(o.cfg.Logging.LogsDir, "metrics.json"), doc, 0o644)
	}

	return doc, runErr
}

func (o *Orchestrator) run() error {
	if err := o.wl.ValidateConfig(); err != nil {
		return fmt.Errorf("workload config: %w", err)
	}

	if o.lazyCfg.RequiresObjectStorage() && o.cfg.S3.UploadBucket == "" {
		return fmt.Errorf("lazy mode %s requires an object storage configuration", o.lazyCfg.Mode)
	}

	if err := o.prepareNodes(); err != nil {
		return err
	}

	if err := o.deployAndStartWorkload(); err != nil {
		return err
	}

	if o.cfg.DirtyTrack.Enable {
		o.startDirtyTracking()
	}

	strategy := o.cfg.Strategy

	switch strategy.Mode {
	case "predump":
		if err := o.runPredumpStrategy(); err != nil {
			return err
		}
	case "full", "":
		if err := o.runFullStrategy(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown checkpoint strategy mode %q", strategy.Mode)
	}

	if o.dirtyHandle != nil {
		o.stopDirtyTracking()
	}

	if err := o.transferCheckpoint(); err != nil {
		return err
	}

	if err := o.restore(); err != nil {
		return err
	}

	o.verify()

	return nil
}

func (o *Orchestrator) prepareNodes() error {
	o.log.Info("preparing nodes", nil)

	if err := o.checkpointMgr.Prepare(o.source); err != nil {
		return fmt.Errorf("prepare source: %w", err)
	}

	if err := o.checkpointMgr.Prepare(o.dest); err != nil {
		return fmt.Errorf("prepare destination: %w", err)
	}

	return nil
}

func (o *Orchestrator) deployAndStartWorkload() error {
	for _, h := range []remote.Host{o.source, o.dest} {
		remotePath := h.WorkingDir + "/" + o.wl.StandaloneScriptName()
		content := []byte(o.wl.StandaloneScriptContent())

		// A freshly-prepared working_dir occasionally isn't visible to
		// the SFTP subsystem on the very next round-trip on cloud
		// images; retry the push a couple of times before failing the
		// deploy outright.
		err := retry.Retry(func(attempt uint) error {
			return o.plane.UploadBytes(h, content, remotePath)
		}, strategy.Limit(3), strategy.Wait(500*time.Millisecond))
		if err != nil {
			return fmt.Errorf("deploy workload script to %s: %w", h.Name, err)
		}
	}

	if deps := o.wl.Dependencies(); len(deps) > 0 {
		pkgCmd := "sudo apt-get install -y " + joinArgs(deps)
		if _, err := o.plane.Exec(o.source, pkgCmd, 5*time.Minute); err != nil {
			return fmt.Errorf("install workload dependencies on source: %w", err)
		}
	}

	cmd := o.wl.Command(o.source.WorkingDir)

	pid, err := o.checkpointMgr.StartWorkload(o.source, cmd)
	if err != nil {
		return fmt.Errorf("start workload: %w", err)
	}

	o.workloadPID = pid

	if err := o.checkpointMgr.WaitForReady(o.source, workload.ReadyFile, o.cfg.Timeouts.WithDefaults().ReadyWait); err != nil {
		return err
	}

	o.log.Info("workload started", map[string]interface{}{"pid": pid})

	return nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}

		out += a
	}

	return out
}

func (o *Orchestrator) startDirtyTracking() {
	interval := int(o.cfg.DirtyTrack.Interval.Milliseconds())
	if interval <= 0 {
		interval = 100
	}

	maxDuration := int(o.cfg.DirtyTrack.MaxDuration.Seconds())
	if maxDuration <= 0 {
		maxDuration = 3600
	}

	handle, err := o.dirtySup.Start(o.source, o.workloadPID, interval, o.wl.Type(), maxDuration)
	if err != nil {
		o.log.Warn("dirty tracker failed to start, continuing without it", map[string]interface{}{"err": err.Error()})
		return
	}

	o.dirtyHandle = handle
}

func (o *Orchestrator) stopDirtyTracking() {
	o.dirtySup.Stop(o.dirtyHandle)

	if o.cfg.Logging.LogsDir != "" {
		local := filepath.Join(o.cfg.Logging.LogsDir, "dirty_pattern.json")
		if err := o.dirtySup.CollectResults(o.dirtyHandle, local); err != nil {
			o.log.Warn("failed to collect dirty tracker results", map[string]interface{}{"err": err.Error()})
		} else {
			o.metrics.SetDirtyPatternFile(local)
		}
	}

	o.dirtyHandle = nil
}

func (o *Orchestrator) runPredumpStrategy() error {
	strategy := o.cfg.Strategy
	n := strategy.PredumpIterations
	interval := strategy.PredumpInterval

	o.log.Info("running pre-dump iterations", map[string]interface{}{"count": n, "interval": interval})

	for i := 1; i <= n; i++ {
		iterStart := time.Now()

		name := fmt.Sprintf("pre_dump_%d", i)
		o.metrics.StartTimer(name)

		result, err := o.checkpointMgr.PreDump(o.source, o.workloadPID, i, o.wl.Type())

		metadata := map[string]interface{}{"dir": result.Dir, "args": result.Args, "success": err == nil}
		if err != nil {
			metadata["error"] = err.Error()
		}

		o.metrics.StopTimer(name, metadata)

		if err != nil {
			return fmt.Errorf("pre-dump %d: %w", i, err)
		}

		o.finalIteration = i

		elapsed := time.Since(iterStart)
		if elapsed < interval && i < n {
			time.Sleep(interval - elapsed)
		}
	}

	return o.runFinalDump()
}

func (o *Orchestrator) runFullStrategy() error {
	strategy := o.cfg.Strategy

	if strategy.TargetMemoryMB > 0 {
		o.log.Info("waiting for target memory", map[string]interface{}{"target_mb": strategy.TargetMemoryMB})

		prober := func() (int, error) {
			res, err := o.plane.Exec(o.source, fmt.Sprintf("grep VmRSS /proc/%d/status | awk '{print $2}'", o.workloadPID), 10*time.Second)
			if err != nil {
				return 0, err
			}

			var kb int
			if _, scanErr := fmt.Sscanf(res.Stdout, "%d", &kb); scanErr != nil {
				return 0, scanErr
			}

			return kb, nil
		}

		reached := pollTargetMemory(prober, strategy.TargetMemoryMB, 2*time.Second, o.cfg.Timeouts.WithDefaults().TargetMemory, time.Now, time.Sleep)
		if !reached {
			o.log.Warn("timed out waiting for target memory, proceeding with dump anyway", map[string]interface{}{"target_mb": strategy.TargetMemoryMB})
		}
	} else if strategy.WaitBeforeDump > 0 {
		o.log.Info("waiting before dump", map[string]interface{}{"wait": strategy.WaitBeforeDump})
		time.Sleep(strategy.WaitBeforeDump)
	}

	return o.runFinalDump()
}

func (o *Orchestrator) runFinalDump() error {
	_ = o.checkpointMgr.CaptureWorkloadLog(o.source, o.workloadPID, "pre_dump", 2*time.Second)

	o.log.Info("performing final dump", map[string]interface{}{"lazy_mode": o.lazyCfg.Mode})

	o.metrics.StartTimer("final_dump")
	result, err := o.checkpointMgr.FinalDump(o.source, o.workloadPID, o.finalIteration, o.lazyCfg, o.wl.Type())

	metadata := map[string]interface{}{
		"dir":         result.Dir,
		"args":        result.Args,
		"lazy_config": o.lazyCfg,
		"success":     err == nil,
	}
	if err != nil {
		metadata["error"] = err.Error()
	}

	o.metrics.StopTimer("final_dump", metadata)

	if err != nil {
		return fmt.Errorf("final dump: %w", err)
	}

	o.finalCheckpointDir = result.Dir
	o.finalIteration++

	return nil
}

func (o *Orchestrator) transferCheckpoint() error {
	o.log.Info("transferring checkpoint", map[string]interface{}{"method": o.cfg.Transfer.Method})

	o.metrics.StartTimer("transfer")

	var (
		result transfer.Result
		err    error
	)

	method := transfer.Method(o.cfg.Transfer.Method)
	switch method {
	case transfer.Rsync:
		destDir := fmt.Sprintf("%s/%d", o.dest.WorkingDir, o.finalIteration)
		result, err = o.transferMgr.Rsync(o.source, o.dest, o.finalCheckpointDir, destDir)
	case transfer.EFS:
		result, err = o.transferMgr.EFS(o.source, o.finalCheckpointDir)
	case transfer.EBS:
		result, err = o.transferMgr.EBS(o.source, o.source.WorkingDir+"/", o.cfg.Transfer.EBSPath, nil)
	case transfer.S3:
		destDir := fmt.Sprintf("%s/%d", o.dest.WorkingDir, o.finalIteration)
		result, err = o.transferMgr.S3(o.source, o.dest, o.finalCheckpointDir, destDir, o.cfg.S3, o.lazyCfg.Mode == lazymode.None)
	default:
		err = fmt.Errorf("unknown transfer method %q", o.cfg.Transfer.Method)
	}

	metadata := map[string]interface{}{"method": string(method)}
	if err == nil {
		metadata["bytes_approx"] = result.BytesApprox
		for k, v := range result.Metadata {
			metadata[k] = v
		}
	} else {
		metadata["error"] = err.Error()
	}

	o.metrics.StopTimer("transfer", metadata)

	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	return nil
}

func (o *Orchestrator) restore() error {
	dir := destCheckpointDir(transfer.Method(o.cfg.Transfer.Method), o.finalCheckpointDir, o.dest.WorkingDir, o.cfg.Transfer.EBSPath, o.finalIteration)

	var pageServerHost string
	if o.lazyCfg.RequiresPageServer() {
		pageServerHost = o.source.Address
	}

	pidfile := o.dest.WorkingDir + "/restore.pidfile"

	o.log.Info("restoring", map[string]interface{}{"dir": dir, "lazy_mode": o.lazyCfg.Mode})

	o.metrics.StartTimer("restore")

	var (
		result checkpoint.RestoreResult
		err    error
	)

	if o.lazyCfg.RequiresObjectStorage() && transfer.Method(o.cfg.Transfer.Method) == transfer.S3 {
		result, err = o.checkpointMgr.RestoreWithS3(o.dest, dir, o.lazyCfg, pageServerHost, o.wl.Type(), pidfile, o.cfg.S3)
	} else {
		result, err = o.checkpointMgr.Restore(o.dest, dir, o.lazyCfg, pageServerHost, o.wl.Type(), pidfile)
	}

	metadata := map[string]interface{}{"args": result.Args, "daemon_args": result.DaemonArgs, "success": err == nil}
	if err != nil {
		metadata["error"] = err.Error()
	}

	o.metrics.StopTimer("restore", metadata)

	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	return nil
}

func (o *Orchestrator) verify() {
	pidfile := o.dest.WorkingDir + "/restore.pidfile"

	res, err := o.plane.Exec(o.dest, fmt.Sprintf("cat %s 2>/dev/null", pidfile), 10*time.Second)

	var restoredPID int
	if err == nil {
		fmt.Sscanf(res.Stdout, "%d", &restoredPID)
	}

	if restoredPID > 0 {
		verified, state, vErr := o.checkpointMgr.VerifyRestore(o.dest, restoredPID, 10*time.Second)
		if vErr != nil || !verified {
			o.log.Warn("restored process verification failed", map[string]interface{}{"pid": restoredPID, "err": vErr})
		} else {
			o.log.Info("restored process verified", map[string]interface{}{"pid": restoredPID, "state": state})
		}

		_ = o.checkpointMgr.CaptureWorkloadLog(o.dest, restoredPID, "post_restore", 2*time.Second)
	}

	healthy, detail, err := o.checkpointMgr.VerifyWorkloadHealth(o.dest, o.wl)
	if err != nil || !healthy {
		o.log.Warn("workload health check failed", map[string]interface{}{"detail": detail, "err": err})
	}

	if reporter, ok := o.wl.(workload.ExtraReporter); ok {
		if extra, rErr := reporter.ReportExtra(nil, o.plane, o.dest); rErr == nil {
			for k, v := range extra {
				o.log.Info("workload extra report", map[string]interface{}{k: v})
			}
		}
	}

	if o.lazyCfg.Mode != lazymode.None {
		o.metrics.StartTimer("lazy_pages_complete")
		complete, elapsed, lErr := o.checkpointMgr.WaitForLazyPagesComplete(o.dest, o.cfg.Timeouts.WithDefaults().LazyPagesComplete)

		metadata := map[string]interface{}{"complete": complete, "elapsed": elapsed.String()}
		if lErr != nil {
			metadata["error"] = lErr.Error()
		}

		o.metrics.StopTimer("lazy_pages_complete", metadata)
	}
}

func (o *Orchestrator) collectLogs() {
	outputDir := o.cfg.Logging.LogsDir
	if outputDir == "" {
		outputDir = "./results"
	}

	runDir, files, err := o.checkpointMgr.CollectLogs(o.source, o.dest, outputDir, o.cfg.Logging.ExperimentName, time.Now())
	if err != nil {
		o.log.Warn("log collection failed", map[string]interface{}{"err": err.Error()})
		return
	}

	o.metrics.SetLogFiles(files)
	o.log.Info("collected logs", map[string]interface{}{"dir": runDir, "count": len(files)})
}

// Cleanup best-effort tears down workload/lazy-pages processes on
// both hosts (spec §4.2 cleanup_processes).
func (o *Orchestrator) Cleanup() {
	o.checkpointMgr.CleanupProcesses(o.source, o.wl)
	o.checkpointMgr.CleanupProcesses(o.dest, o.wl)
}
