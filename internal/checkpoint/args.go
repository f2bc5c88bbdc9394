package checkpoint

import (
	"fmt"
	"strconv"

	"github.com/ddps-lab/criu-migrate/internal/lazymode"
	"github.com/ddps-lab/criu-migrate/internal/objectstorage"
)

// PreDumpArgs is the pure CRIU argument vector for `criu pre-dump`
// writing to dir (spec §6). iteration is dir's own number: >1 carries
// --prev-images-dir pointing at iteration-1.
func PreDumpArgs(dir string, pid, iteration int, workloadType string) []string {
	args := []string{
		"pre-dump",
		"-D", dir,
		"-t", strconv.Itoa(pid),
		"--shell-job",
		"--track-mem",
		"--log-file", dir + "/criu-pre-dump.log",
		"-v4",
	}

	if iteration > 1 {
		args = append(args, "--prev-images-dir", fmt.Sprintf("../%d", iteration-1))
	}

	if workloadType == "redis" {
		args = append(args, "--tcp-established")
	}

	return args
}

// FinalDumpArgs is the pure CRIU argument vector for `criu dump`
// writing to dir. lastIteration is the highest pre-dump number that
// preceded it (0 if there were no pre-dumps).
func FinalDumpArgs(dir string, pid, lastIteration int, lazyCfg lazymode.Config, workloadType string) []string {
	args := []string{
		"dump",
		"-D", dir,
		"-t", strconv.Itoa(pid),
		"--shell-job",
		"--track-mem",
		"--log-file", dir + "/criu-dump.log",
		"-v4",
	}

	if lastIteration > 0 {
		args = append(args, "--prev-images-dir", fmt.Sprintf("../%d", lastIteration))
	}

	args = append(args, lazyCfg.DumpArgs()...)

	if workloadType == "redis" {
		args = append(args, "--tcp-established")
	}

	return args
}

// RestoreArgs is the pure CRIU argument vector for `criu restore`.
// pidfile may be empty, in which case --pidfile is omitted.
func RestoreArgs(dir, pidfile string, lazyCfg lazymode.Config, workloadType string) []string {
	args := []string{
		"restore",
		"-D", dir,
		"--shell-job",
		"-d",
		"--log-file", dir + "/criu-restore.log",
		"-v4",
	}

	if pidfile != "" {
		args = append(args, "--pidfile", pidfile)
	}

	args = append(args, lazyCfg.RestoreArgs()...)

	if workloadType == "redis" {
		args = append(args, "--tcp-established")
	}

	return args
}

// LazyPagesDaemonArgs is the pure `criu lazy-pages` argument vector
// for the plain (non-object-storage) Restore path: images dir, the
// log file, and the page-server and prefetch args lazymode
// contributes, with no object-storage flags. Restore uses it for every
// mode except NONE (which launches no daemon). The orchestrator sends
// LAZY_PREFETCH/LIVE_MIGRATION_PREFETCH through RestoreWithS3 and
// LazyPagesDaemonArgsWithObjectStorage only when the transfer method
// is s3, since the object-storage flags must be interposed before
// --async-prefetch.
func LazyPagesDaemonArgs(dir string, lazyCfg lazymode.Config, pageServerHost string) []string {
	args := []string{
		"lazy-pages",
		"--images-dir", dir,
		"--log-file", dir + "/criu-lazy-pages.log",
		"-v4",
	}

	return append(args, lazyCfg.LazyPagesDaemonArgs(pageServerHost)...)
}

// LazyPagesDaemonArgsWithObjectStorage is the `criu lazy-pages`
// argument vector used by restore_with_s3 (spec §4.2, §6): the
// object-storage argument vector is interposed between the
// page-server args and --async-prefetch, matching the literal command
// surface §6 documents.
func LazyPagesDaemonArgsWithObjectStorage(dir string, lazyCfg lazymode.Config, pageServerHost string, objCfg objectstorage.Config) []string {
	cfg := lazyCfg.Normalize()

	args := []string{
		"lazy-pages",
		"--images-dir", dir,
		"--log-file", dir + "/criu-lazy-pages.log",
		"-v4",
	}

	if cfg.RequiresPageServer() {
		args = append(args, "--page-server", "--address", pageServerHost, "--port", strconv.Itoa(cfg.PageServerPort))
	}

	args = append(args, objCfg.CRIUArgs()...)

	if cfg.Mode == lazymode.LazyPrefetch || cfg.Mode == lazymode.LiveMigrationPrefetch {
		args = append(args, "--async-prefetch", "--prefetch-workers", strconv.Itoa(cfg.PrefetchWorkers))
	}

	return args
}
