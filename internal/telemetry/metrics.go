// Package telemetry implements the Telemetry Collector (spec §4.7):
// timed phases, the ExperimentMetrics JSON document, and the CRIU log
// parser (§3 LogEvent, §8 point 8).
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PhaseMetric is spec §3's PhaseMetric record.
type PhaseMetric struct {
	Name     string                 `json:"name"`
	Start    time.Time              `json:"start"`
	End      time.Time              `json:"end,omitempty"`
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Collector accumulates the run's PhaseMetrics and reproducibility
// metadata into one ExperimentMetrics document. Safe for concurrent
// use: every method holds the collector's mutex.
type Collector struct {
	mu sync.Mutex

	runID string

	config   interface{}
	cliArgs  interface{}
	sourceID string
	destID   string

	inFlight    map[string]*PhaseMetric
	preDumps    []PhaseMetric
	finalDump   *PhaseMetric
	transfer    *PhaseMetric
	restore     *PhaseMetric
	lazyPages   *PhaseMetric
	logFiles    []string
	dirtyFile   string

	success bool
	errMsg  string

	startedAt time.Time
}

// NewCollector creates a Collector with a fresh run ID.
func NewCollector() *Collector {
	return &Collector{
		runID:     uuid.NewString(),
		inFlight:  make(map[string]*PhaseMetric),
		success:   true,
		startedAt: time.Now(),
	}
}

// SetConfig attaches a snapshot of the run's configuration.
func (c *Collector) SetConfig(cfg interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
}

// SetCLIArgs attaches the CLI arguments the run was invoked with.
func (c *Collector) SetCLIArgs(args interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cliArgs = args
}

// SetNodes records the two node identifiers (address or name).
func (c *Collector) SetNodes(source, dest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceID = source
	c.destID = dest
}

// SetLogFiles records collected artifact paths after log collection.
func (c *Collector) SetLogFiles(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logFiles = paths
}

// SetDirtyPatternFile records the path to dirty_pattern.json, if any.
func (c *Collector) SetDirtyPatternFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirtyFile = path
}

// StartTimer begins a named phase. Starting the same name twice
// overwrites the earlier start (callers name each pre-dump iteration
// uniquely, e.g. "pre_dump_1", "pre_dump_2").
func (c *Collector) StartTimer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[name] = &PhaseMetric{Name: name, Start: time.Now()}
}

// StopTimer ends a named phase and attaches metadata, committing the
// PhaseMetric into the appropriate slot by exact name: "final_dump",
// "transfer", "restore" and "lazy_pages_complete" fill the named
// singletons, and any other name is appended to the pre-dump list.
func (c *Collector) StopTimer(name string, metadata map[string]interface{}) PhaseMetric {
	c.mu.Lock()
	defer c.mu.Unlock()

	pm, ok := c.inFlight[name]
	if !ok {
		pm = &PhaseMetric{Name: name, Start: time.Now()}
	}

	pm.End = time.Now()
	pm.Duration = pm.End.Sub(pm.Start)
	pm.Metadata = metadata
	delete(c.inFlight, name)

	committed := *pm

	switch {
	case name == "final_dump":
		c.finalDump = pm
	case name == "transfer":
		c.transfer = pm
	case name == "restore":
		c.restore = pm
	case name == "lazy_pages_complete":
		c.lazyPages = pm
	default:
		// Anything else, including "pre_dump_N", is a pre-dump iteration.
		c.preDumps = append(c.preDumps, *pm)
	}

	return committed
}

// MarkFailure records the top-level failure reason. The JSON document
// is still written regardless (spec §7).
func (c *Collector) MarkFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.success = false
	c.errMsg = reason
}

// document is the stable, serializable shape spec §3/§8 point 7 tests
// against.
type document struct {
	RunID            string                 `json:"run_id"`
	Success          bool                   `json:"success"`
	Error            string                 `json:"error,omitempty"`
	Config           interface{}            `json:"config,omitempty"`
	CLIArgs          interface{}            `json:"cli_args,omitempty"`
	SourceNode       string                 `json:"source_node"`
	DestNode         string                 `json:"dest_node"`
	PreDumpIterations []PhaseMetric         `json:"pre_dump_iterations"`
	FinalDump        *PhaseMetric           `json:"final_dump,omitempty"`
	Transfer         *PhaseMetric           `json:"transfer,omitempty"`
	Restore          *PhaseMetric           `json:"restore,omitempty"`
	LazyPagesComplete *PhaseMetric          `json:"lazy_pages_complete,omitempty"`
	LogFiles         []string               `json:"log_files,omitempty"`
	DirtyPatternFile string                 `json:"dirty_pattern_file,omitempty"`
	TotalDuration    time.Duration          `json:"total_duration"`
}

// Finalize stamps total wall duration and returns the serialized
// ExperimentMetrics JSON document for this run.
func (c *Collector) Finalize() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := document{
		RunID:             c.runID,
		Success:           c.success,
		Error:             c.errMsg,
		Config:            c.config,
		CLIArgs:           c.cliArgs,
		SourceNode:        c.sourceID,
		DestNode:          c.destID,
		PreDumpIterations: c.preDumps,
		FinalDump:         c.finalDump,
		Transfer:          c.transfer,
		Restore:           c.restore,
		LazyPagesComplete: c.lazyPages,
		LogFiles:          c.logFiles,
		DirtyPatternFile:  c.dirtyFile,
		TotalDuration:     time.Since(c.startedAt),
	}

	return json.MarshalIndent(doc, "", "  ")
}

// Summary renders the human-readable console summary (spec §4.7).
func (c *Collector) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := "SUCCESS"
	if !c.success {
		status = "FAILED: " + c.errMsg
	}

	return fmt.Sprintf(
		"experiment %s [%s]: %d pre-dumps, final_dump=%v, transfer=%v, restore=%v, total=%s",
		c.runID, status, len(c.preDumps),
		durOrNil(c.finalDump), durOrNil(c.transfer), durOrNil(c.restore),
		time.Since(c.startedAt).Round(time.Millisecond),
	)
}

func durOrNil(pm *PhaseMetric) time.Duration {
	if pm == nil {
		return 0
	}

	return pm.Duration
}
