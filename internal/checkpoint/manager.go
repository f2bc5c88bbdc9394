// Package checkpoint implements the Checkpoint Manager (spec §4.2):
// it orchestrates the CRIU and page-server subprocesses for pre-dump,
// final dump, transfer-adjacent restore, and verification, across the
// Remote Execution Plane. The lazy-mode argument matrix itself lives
// in internal/lazymode; this package only sequences the commands and
// interprets their exit status, per §9 ("belongs in a pure decision
// function").
package checkpoint

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ddps-lab/criu-migrate/internal/lazymode"
	"github.com/ddps-lab/criu-migrate/internal/objectstorage"
	"github.com/ddps-lab/criu-migrate/internal/remote"
	"github.com/ddps-lab/criu-migrate/internal/workload"
)

// Manager is the Checkpoint Manager. Timeouts default to spec.md's
// documented constants (§9) when left zero; callers (internal/config,
// internal/experiment) are expected to set them from configuration.
type Manager struct {
	plane *remote.Plane
	log   *logrus.Entry

	PreDumpTimeout         time.Duration
	FinalDumpTimeout       time.Duration
	RestoreTimeout         time.Duration
	QuiescenceTimeout      time.Duration
	LazyPagesCompleteTimeout time.Duration
	ReadyTimeout           time.Duration

	settleInterval time.Duration // workload PID-discovery settle, overridable in tests
}

// New creates a Manager bound to plane, with spec.md's documented
// default timeouts.
func New(plane *remote.Plane, log *logrus.Entry) *Manager {
	return &Manager{
		plane:                    plane,
		log:                      log,
		PreDumpTimeout:           120 * time.Second,
		FinalDumpTimeout:         300 * time.Second,
		RestoreTimeout:           300 * time.Second,
		QuiescenceTimeout:        60 * time.Second,
		LazyPagesCompleteTimeout: 120 * time.Second,
		ReadyTimeout:             120 * time.Second,
		settleInterval:           2 * time.Second,
	}
}

// Prepare removes and re-creates host's working_dir (spec §4.2, §3
// Host lifecycle "cleared").
func (m *Manager) Prepare(h remote.Host) error {
	cmd := fmt.Sprintf("rm -rf %s && mkdir -p %s", h.WorkingDir, h.WorkingDir)

	res, err := m.plane.Exec(h, cmd, 30*time.Second)
	if err != nil {
		return err
	}

	if res.ExitCode != 0 {
		return fmt.Errorf("prepare %s: %s", h.Name, res.Stderr)
	}

	return nil
}

// StartWorkload touches checkpoint_flag, launches cmd in background
// inside working_dir, settles briefly, then discovers the PID. The
// checkpoint_ready handshake file's `ready:<pid>` line (written by
// every built-in standalone script) is tried first; the `ps` scrape is
// kept only as the documented fallback.
func (m *Manager) StartWorkload(h remote.Host, cmd string) (int, error) {
	flagPath := h.WorkingDir + "/" + workload.QuitFlag

	if res, err := m.plane.Exec(h, fmt.Sprintf("touch %s", flagPath), 10*time.Second); err != nil {
		return 0, err
	} else if res.ExitCode != 0 {
		return 0, fmt.Errorf("touch %s: %s", flagPath, res.Stderr)
	}

	wrapped := fmt.Sprintf("cd %s && %s", h.WorkingDir, cmd)
	if err := m.plane.ExecBackground(h, wrapped); err != nil {
		return 0, err
	}

	time.Sleep(m.settleInterval)

	if pid, ok := m.pidFromHandshake(h); ok {
		return pid, nil
	}

	pid, err := m.pidFromPS(h, cmd)
	if err != nil {
		return 0, fmt.Errorf("discover workload pid on %s: %w", h.Name, err)
	}

	return pid, nil
}

// readyLinePattern matches the "ready:<pid>" line every built-in
// standalone script writes to checkpoint_ready on startup.
var readyLinePattern = regexp.MustCompile(`^ready:(\d+)$`)

func (m *Manager) pidFromHandshake(h remote.Host) (int, bool) {
	path := h.WorkingDir + "/" + workload.ReadyFile

	res, err := m.plane.Exec(h, fmt.Sprintf("cat %s 2>/dev/null", path), 10*time.Second)
	if err != nil || res.ExitCode != 0 {
		return 0, false
	}

	return parseReadyPID(res.Stdout)
}

// parseReadyPID is the pure part of pidFromHandshake, factored out so
// the handshake parsing is testable without an SSH session.
func parseReadyPID(contents string) (int, bool) {
	for _, line := range strings.Split(contents, "\n") {
		m := readyLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		pid, err := strconv.Atoi(m[1])
		if err != nil || pid <= 0 {
			continue
		}

		return pid, true
	}

	return 0, false
}

var psColumnPattern = regexp.MustCompile(`\s+`)

// pidFromPS scrapes `ps -ef` output for the literal cmd string. This
// is the fragile fallback spec §9 documents: best-effort, matches on
// the exact command text, first hit wins.
func (m *Manager) pidFromPS(h remote.Host, cmd string) (int, error) {
	res, err := m.plane.Exec(h, "ps -ef", 10*time.Second)
	if err != nil {
		return 0, err
	}

	return parsePSForPID(res.Stdout, cmd)
}

// parsePSForPID is the pure part of pidFromPS, factored out so the
// scrape logic is testable without an SSH session.
func parsePSForPID(psOutput, cmd string) (int, error) {
	for _, line := range strings.Split(psOutput, "\n") {
		if !strings.Contains(line, cmd) || strings.Contains(line, "grep") {
			continue
		}

		cols := psColumnPattern.Split(strings.TrimSpace(line), -1)
		if len(cols) < 2 {
			continue
		}

		if pid, err := strconv.Atoi(cols[1]); err == nil {
			return pid, nil
		}
	}

	return 0, fmt.Errorf("no process matching %q found in ps output", cmd)
}

// WaitForReady polls for working_dir/readyFile every 500ms until it
// appears or timeout elapses (spec §4.2, §6 filesystem handshake).
func (m *Manager) WaitForReady(h remote.Host, readyFile string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.ReadyTimeout
	}

	path := h.WorkingDir + "/" + readyFile
	deadline := time.Now().Add(timeout)
	waited := time.Duration(0)

	for {
		if time.Now().After(deadline) {
			return &ReadinessTimeoutError{Host: h.Name, Waited: waited, File: path}
		}

		res, err := m.plane.Exec(h, fmt.Sprintf("test -e %s", path), 10*time.Second)
		if err == nil && res.ExitCode == 0 {
			return nil
		}

		time.Sleep(500 * time.Millisecond)
		waited += 500 * time.Millisecond
	}
}

// relaxPermissions chmod -R a+r's dir so the non-root operator shell
// can read CRIU's root-created logs. Must run whether the phase
// succeeded or failed (spec §9).
func (m *Manager) relaxPermissions(h remote.Host, dir string) {
	if _, err := m.plane.Exec(h, fmt.Sprintf("chmod -R a+r %s", dir), 10*time.Second); err != nil && m.log != nil {
		m.log.WithFields(logrus.Fields{"host": h.Name, "dir": dir, "err": err}).Warn("failed to relax checkpoint dir permissions")
	}
}

// logTail returns the last n lines of the CRIU log at path, best
// effort (an empty string if it cannot be read).
func (m *Manager) logTail(h remote.Host, path string, n int) string {
	res, err := m.plane.Exec(h, fmt.Sprintf("tail -n %d %s 2>/dev/null", n, path), 10*time.Second)
	if err != nil {
		return ""
	}

	return res.Stdout
}

// PreDumpResult is what PreDump returns on success or (partially) on
// failure, so the caller can attach it to the phase metadata.
type PreDumpResult struct {
	Dir      string
	Args     []string
	Duration time.Duration
}

// PreDump creates working_dir/{iteration} and invokes `criu pre-dump`
// into it (spec §4.2). On CRIU failure, permissions are relaxed and
// the last 30 lines of the log are captured into the returned error.
func (m *Manager) PreDump(h remote.Host, pid, iteration int, workloadType string) (PreDumpResult, error) {
	dir := fmt.Sprintf("%s/%d", h.WorkingDir, iteration)

	if res, err := m.plane.Exec(h, fmt.Sprintf("mkdir -p %s", dir), 10*time.Second); err != nil {
		return PreDumpResult{}, err
	} else if res.ExitCode != 0 {
		return PreDumpResult{}, fmt.Errorf("mkdir %s: %s", dir, res.Stderr)
	}

	args := PreDumpArgs(dir, pid, iteration, workloadType)
	cmd := "criu " + strings.Join(args, " ")

	start := time.Now()
	res, err := m.plane.Exec(h, cmd, m.PreDumpTimeout)
	duration := time.Since(start)

	m.relaxPermissions(h, dir)

	if err != nil {
		return PreDumpResult{Dir: dir, Args: args}, err
	}

	if res.ExitCode != 0 {
		tail := m.logTail(h, dir+"/criu-pre-dump.log", 30)
		return PreDumpResult{Dir: dir, Args: args, Duration: duration},
			&CRIUCommandError{Phase: "pre-dump", Host: h.Name, Duration: duration, Stderr: res.Stderr, LogTail: tail}
	}

	return PreDumpResult{Dir: dir, Args: args, Duration: duration}, nil
}

// FinalDumpResult is what FinalDump returns.
type FinalDumpResult struct {
	Dir            string
	Args           []string
	Duration       time.Duration
	PageServerPort int // 0 unless a page-server was started
}

// FinalDump writes to working_dir/{lastIteration+1}. When lazyCfg
// requires a page-server, the dump is launched in the background and
// completion is detected via the mtime-stability quiescence loop;
// otherwise it is invoked synchronously (spec §4.2).
func (m *Manager) FinalDump(h remote.Host, pid, lastIteration int, lazyCfg lazymode.Config, workloadType string) (FinalDumpResult, error) {
	dir := fmt.Sprintf("%s/%d", h.WorkingDir, lastIteration+1)

	if res, err := m.plane.Exec(h, fmt.Sprintf("mkdir -p %s", dir), 10*time.Second); err != nil {
		return FinalDumpResult{}, err
	} else if res.ExitCode != 0 {
		return FinalDumpResult{}, fmt.Errorf("mkdir %s: %s", dir, res.Stderr)
	}

	args := FinalDumpArgs(dir, pid, lastIteration, lazyCfg, workloadType)
	cmd := "criu " + strings.Join(args, " ")

	start := time.Now()

	if lazyCfg.RequiresPageServer() {
		if err := m.plane.ExecBackground(h, cmd); err != nil {
			return FinalDumpResult{Dir: dir, Args: args}, err
		}

		prober := func() (float64, error) {
			res, err := m.plane.Exec(h, fmt.Sprintf("find %s -type f -printf '%%T@\\n' 2>/dev/null | sort -n | tail -1", h.WorkingDir), 10*time.Second)
			if err != nil {
				return 0, err
			}

			v, _ := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
			return v, nil
		}

		err := pollQuiescence(prober, 500*time.Millisecond, 2*time.Second, m.QuiescenceTimeout, h.Name, time.Now, time.Sleep)
		duration := time.Since(start)

		m.relaxPermissions(h, dir)

		if err != nil {
			return FinalDumpResult{Dir: dir, Args: args, Duration: duration}, err
		}

		return FinalDumpResult{Dir: dir, Args: args, Duration: duration, PageServerPort: lazyCfg.Normalize().PageServerPort}, nil
	}

	res, err := m.plane.Exec(h, cmd, m.FinalDumpTimeout)
	duration := time.Since(start)

	m.relaxPermissions(h, dir)

	if err != nil {
		return FinalDumpResult{Dir: dir, Args: args, Duration: duration}, err
	}

	if res.ExitCode != 0 {
		tail := m.logTail(h, dir+"/criu-dump.log", 30)
		return FinalDumpResult{Dir: dir, Args: args, Duration: duration},
			&CRIUCommandError{Phase: "dump", Host: h.Name, Duration: duration, Stderr: res.Stderr, LogTail: tail}
	}

	return FinalDumpResult{Dir: dir, Args: args, Duration: duration}, nil
}

// RestoreResult is what Restore/RestoreWithS3 return.
type RestoreResult struct {
	Args           []string
	DaemonArgs     []string
	Duration       time.Duration
}

// Restore restores checkpointDir on h. When lazyCfg requires
// lazy-pages, the daemon is launched first (settling 2s only when a
// page-server is involved, spec §4.2 restore state machine), then
// `criu restore -d` is invoked so the Manager measures restore
// latency rather than the restored process's lifetime.
func (m *Manager) Restore(h remote.Host, checkpointDir string, lazyCfg lazymode.Config, pageServerHost, workloadType, pidfile string) (RestoreResult, error) {
	var daemonArgs []string

	if lazyCfg.RequiresLazyPages() {
		daemonArgs = LazyPagesDaemonArgs(checkpointDir, lazyCfg, pageServerHost)

		if err := m.plane.ExecBackground(h, "criu "+strings.Join(daemonArgs, " ")); err != nil {
			return RestoreResult{}, fmt.Errorf("launch lazy-pages daemon on %s: %w", h.Name, err)
		}

		if lazyCfg.RequiresPageServer() {
			time.Sleep(2 * time.Second)
		}
	}

	return m.invokeRestore(h, checkpointDir, lazyCfg, workloadType, pidfile, daemonArgs)
}

// RestoreWithS3 is Restore's object-storage variant, for
// LAZY_PREFETCH and LIVE_MIGRATION_PREFETCH: the lazy-pages daemon
// additionally receives objCfg's argument vector plus
// --async-prefetch --prefetch-workers N (spec §4.2).
func (m *Manager) RestoreWithS3(h remote.Host, checkpointDir string, lazyCfg lazymode.Config, pageServerHost, workloadType, pidfile string, objCfg objectstorage.Config) (RestoreResult, error) {
	daemonArgs := LazyPagesDaemonArgsWithObjectStorage(checkpointDir, lazyCfg, pageServerHost, objCfg)

	if err := m.plane.ExecBackground(h, "criu "+strings.Join(daemonArgs, " ")); err != nil {
		return RestoreResult{}, fmt.Errorf("launch lazy-pages daemon on %s: %w", h.Name, err)
	}

	if lazyCfg.RequiresPageServer() {
		time.Sleep(2 * time.Second)
	}

	return m.invokeRestore(h, checkpointDir, lazyCfg, workloadType, pidfile, daemonArgs)
}

func (m *Manager) invokeRestore(h remote.Host, checkpointDir string, lazyCfg lazymode.Config, workloadType, pidfile string, daemonArgs []string) (RestoreResult, error) {
	args := RestoreArgs(checkpointDir, pidfile, lazyCfg, workloadType)
	cmd := "criu " + strings.Join(args, " ")

	start := time.Now()
	res, err := m.plane.Exec(h, cmd, m.RestoreTimeout)
	duration := time.Since(start)

	m.relaxPermissions(h, checkpointDir)

	if err != nil {
		return RestoreResult{Args: args, DaemonArgs: daemonArgs, Duration: duration}, err
	}

	if res.ExitCode != 0 {
		tail := m.logTail(h, checkpointDir+"/criu-restore.log", 30)
		return RestoreResult{Args: args, DaemonArgs: daemonArgs, Duration: duration},
			&CRIUCommandError{Phase: "restore", Host: h.Name, Duration: duration, Stderr: res.Stderr, LogTail: tail}
	}

	return RestoreResult{Args: args, DaemonArgs: daemonArgs, Duration: duration}, nil
}

// VerifyRestore polls `ps -p {pid} -o state=` until the restored
// process is observed alive (any of R, S, D, T, Z) or timeout
// elapses. This is a best-effort check (spec §7): callers should warn
// and continue, not abort the run, on failure.
func (m *Manager) VerifyRestore(h remote.Host, pid int, timeout time.Duration) (verified bool, state string, err error) {
	alive := map[byte]bool{'R': true, 'S': true, 'D': true, 'T': true, 'Z': true}
	deadline := time.Now().Add(timeout)

	for {
		res, execErr := m.plane.Exec(h, fmt.Sprintf("ps -p %d -o state= 2>/dev/null", pid), 10*time.Second)
		if execErr != nil {
			return false, "", execErr
		}

		s := strings.TrimSpace(res.Stdout)
		if len(s) > 0 && alive[s[0]] {
			return true, s, nil
		}

		if time.Now().After(deadline) {
			return false, s, nil
		}

		time.Sleep(500 * time.Millisecond)
	}
}

// VerifyWorkloadHealth runs the protocol-level health check spec §4.2
// describes: a type-specific check if w implements workload.HealthReporter,
// otherwise `pgrep -x ffmpeg` for the video type and
// `pgrep -f '{type}_standalone.py'` for any other type.
func (m *Manager) VerifyWorkloadHealth(h remote.Host, w workload.Workload) (healthy bool, detail map[string]interface{}, err error) {
	if hr, ok := w.(workload.HealthReporter); ok {
		return hr.CheckHealth(context.Background(), m.plane, h)
	}

	pattern := w.Type() + "_standalone.py"
	if w.Type() == "video" {
		res, execErr := m.plane.Exec(h, "pgrep -x ffmpeg", 10*time.Second)
		if execErr != nil {
			return false, nil, execErr
		}

		return res.ExitCode == 0, map[string]interface{}{"pgrep": "ffmpeg"}, nil
	}

	res, execErr := m.plane.Exec(h, fmt.Sprintf("pgrep -f '%s'", pattern), 10*time.Second)
	if execErr != nil {
		return false, nil, execErr
	}

	return res.ExitCode == 0, map[string]interface{}{"pgrep": pattern}, nil
}

// WaitForLazyPagesComplete polls for the absence of a running `criu
// lazy-pages` process, treating its disappearance as the completion
// signal (spec §4.2). Best-effort: timeout is recorded incomplete,
// not an aborting failure.
func (m *Manager) WaitForLazyPagesComplete(h remote.Host, timeout time.Duration) (complete bool, elapsed time.Duration, err error) {
	if timeout <= 0 {
		timeout = m.LazyPagesCompleteTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		res, execErr := m.plane.Exec(h, "pgrep -f 'criu lazy-pages'", 10*time.Second)
		if execErr != nil {
			return false, time.Since(start), execErr
		}

		if res.ExitCode != 0 {
			return true, time.Since(start), nil
		}

		if time.Now().After(deadline) {
			return false, time.Since(start), nil
		}

		time.Sleep(500 * time.Millisecond)
	}
}

// CaptureWorkloadLog attaches strace briefly to pid's writes, plus
// snapshots /proc/{pid}/status, writing both to working_dir under
// label (spec §4.2, §9: "attach briefly, detach before dump").
func (m *Manager) CaptureWorkloadLog(h remote.Host, pid int, label string, straceDuration time.Duration) error {
	logPath := fmt.Sprintf("%s/workload_stdout_%s.log", h.WorkingDir, label)
	statusPath := fmt.Sprintf("%s/workload_status_%s.log", h.WorkingDir, label)

	straceSec := int(straceDuration.Seconds())
	if straceSec <= 0 {
		straceSec = 2
	}

	straceCmd := fmt.Sprintf(
		"timeout %d strace -p %d -e trace=write -e write=1,2 > %s 2>&1",
		straceSec, pid, logPath,
	)
	if _, err := m.plane.Exec(h, straceCmd, time.Duration(straceSec+5)*time.Second); err != nil {
		return fmt.Errorf("capture workload log (%s) on %s: %w", label, h.Name, err)
	}

	statusFields := "VmRSS|VmSize|VmPeak|Threads"
	statusCmd := fmt.Sprintf("grep -E '^(%s):' /proc/%d/status > %s 2>/dev/null", statusFields, pid, statusPath)
	if _, err := m.plane.Exec(h, statusCmd, 10*time.Second); err != nil {
		return fmt.Errorf("capture workload status (%s) on %s: %w", label, h.Name, err)
	}

	return nil
}

// CollectLogs SFTP-fetches every CRIU log and workload status/strace
// file from both hosts into outputDir/{source,dest}, named
// {experimentName?_}YYYYMMDD_HHMMSS (spec §4.2, §6 Artifact output).
// Per-file failures are logged and skipped, never aborting the batch.
func (m *Manager) CollectLogs(sourceHost, destHost remote.Host, outputDir, experimentName string, timestamp time.Time) (runDir string, files []string, err error) {
	stamp := timestamp.Format("20060102_150405")
	if experimentName != "" {
		stamp = experimentName + "_" + stamp
	}

	runDir = outputDir + "/" + stamp
	sourceDir := runDir + "/source"
	destDir := runDir + "/dest"

	sourceFiles, _ := m.plane.DownloadDir(sourceHost, sourceHost.WorkingDir, sourceDir, "")
	files = append(files, sourceFiles...)

	destFiles, _ := m.plane.DownloadDir(destHost, destHost.WorkingDir, destDir, "")
	files = append(files, destFiles...)

	return runDir, files, nil
}

// CleanupProcesses best-effort kills the workload and any lazy-pages
// daemon on h. Idempotent (spec §4.2).
func (m *Manager) CleanupProcesses(h remote.Host, w workload.Workload) {
	if w != nil {
		pattern := w.Type() + "_standalone.py"
		if _, err := m.plane.Exec(h, fmt.Sprintf("pkill -f '%s'", pattern), 10*time.Second); err != nil && m.log != nil {
			m.log.WithFields(logrus.Fields{"host": h.Name, "err": err}).Warn("workload cleanup pkill failed")
		}
	}

	if _, err := m.plane.Exec(h, "sudo pkill -f 'criu lazy-pages'", 10*time.Second); err != nil && m.log != nil {
		m.log.WithFields(logrus.Fields{"host": h.Name, "err": err}).Warn("lazy-pages cleanup pkill failed")
	}
}
