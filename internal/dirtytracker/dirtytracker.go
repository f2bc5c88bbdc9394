// Package dirtytracker implements the Dirty-Tracker Supervisor (spec
// §4.6): it launches a remote soft-dirty page sampler in the
// background, lets it run for the life of the tracked phases, and
// retrieves its JSON result once stopped. The supervisor never reads
// /proc itself — that is the remote binary's job; this package only
// drives it over the Remote Execution Plane.
package dirtytracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/sirupsen/logrus"

	"github.com/ddps-lab/criu-migrate/internal/remote"
)

// Backend is a remote sampler implementation, tried in order until
// one is found on the remote host (spec §4.6: "native-code tracker
// (fastest) ... second native tracker (portable) ... scripted
// tracker (fallback)").
type Backend struct {
	Name   string
	Binary string
}

var backends = []Backend{
	{Name: "native", Binary: "dirty_tracker_native"},
	{Name: "native-portable", Binary: "dirty_tracker_portable"},
	{Name: "scripted", Binary: "dirty_tracker.py"},
}

// Handle identifies a started tracking session so Stop/CollectResults
// can address it without the supervisor needing to track state for
// every (host, pid) pair itself.
type Handle struct {
	Host       remote.Host
	Backend    Backend
	Workload   string
	OutputPath string
	StartedAt  time.Time
}

// Supervisor is the Dirty-Tracker Supervisor.
type Supervisor struct {
	plane *remote.Plane
	log   *logrus.Entry
}

// New creates a Supervisor bound to plane.
func New(plane *remote.Plane, log *logrus.Entry) *Supervisor {
	return &Supervisor{plane: plane, log: log}
}

// selectBackend probes each backend binary's presence on host in
// priority order via `command -v`, retrying each probe through
// Rican7/retry since a freshly-opened SSH session occasionally races
// PATH population on cloud images.
func (s *Supervisor) selectBackend(h remote.Host) (Backend, error) {
	for _, b := range backends {
		var found bool

		err := retry.Retry(func(attempt uint) error {
			res, err := s.plane.Exec(h, fmt.Sprintf("command -v %s", b.Binary), 5*time.Second)
			if err != nil {
				return err
			}

			found = res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != ""
			if !found {
				return fmt.Errorf("%s not found on %s", b.Binary, h.Name)
			}

			return nil
		}, strategy.Limit(2))

		if err != nil {
			continue
		}

		if found {
			if s.log != nil {
				s.log.WithField("backend", b.Name).Info("dirty tracker backend selected")
			}

			return b, nil
		}
	}

	return Backend{}, fmt.Errorf("no dirty tracker backend found on %s", h.Name)
}

// Start probes for a backend and launches it against targetPID,
// sampling every intervalMs for at most maxDurationSec, writing JSON
// output to working_dir/dirty_pattern.json.
func (s *Supervisor) Start(h remote.Host, targetPID int, intervalMs int, workloadName string, maxDurationSec int) (*Handle, error) {
	backend, err := s.selectBackend(h)
	if err != nil {
		return nil, err
	}

	outputPath := fmt.Sprintf("%s/dirty_pattern.json", h.WorkingDir)

	cmd := fmt.Sprintf("%s -p %d -i %d -d %d -w %s -o %s",
		backend.Binary, targetPID, intervalMs, maxDurationSec, workloadName, outputPath)

	if err := s.plane.ExecBackground(h, cmd); err != nil {
		return nil, fmt.Errorf("start dirty tracker: %w", err)
	}

	return &Handle{
		Host:       h,
		Backend:    backend,
		Workload:   workloadName,
		OutputPath: outputPath,
		StartedAt:  time.Now(),
	}, nil
}

// Stop sends SIGTERM to the sampler so it flushes its JSON output,
// per spec §4.6. Like all background-job cancellation in this system
// (§5), this is best-effort: a failure here is logged, not returned.
func (s *Supervisor) Stop(handle *Handle) {
	if handle == nil {
		return
	}

	cmd := fmt.Sprintf("pkill -TERM -f '%s'", handle.Backend.Binary)

	if _, err := s.plane.Exec(handle.Host, cmd, 5*time.Second); err != nil && s.log != nil {
		s.log.WithError(err).Warn("dirty tracker stop signal failed")
	}

	// Give the sampler a moment to flush before CollectResults downloads.
	time.Sleep(500 * time.Millisecond)
}

// CollectResults downloads the sampler's JSON output to localFile.
func (s *Supervisor) CollectResults(handle *Handle, localFile string) error {
	if handle == nil {
		return fmt.Errorf("collect_results: nil handle")
	}

	return s.plane.DownloadFile(handle.Host, handle.OutputPath, localFile)
}
