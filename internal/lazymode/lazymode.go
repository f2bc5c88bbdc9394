// Package lazymode is the single source of truth for the LazyMode →
// CRIU argument mapping (spec §4.4, §9 "belongs in a pure decision
// function"). It has no I/O and no dependency on any other package in
// this module; every other component that needs lazy-pages arguments
// calls into this table instead of deriving them itself.
package lazymode

import "strconv"

// Mode is the closed five-valued enum from spec §3.
type Mode string

const (
	None                   Mode = "none"
	Lazy                   Mode = "lazy"
	LazyPrefetch           Mode = "lazy-prefetch"
	LiveMigration          Mode = "live-migration"
	LiveMigrationPrefetch  Mode = "live-migration-prefetch"
)

// Config is LazyConfig from spec §3/§4.4.
type Config struct {
	Mode              Mode
	PageServerPort    int
	PageServerAddress string // bind address on source, defaults to 0.0.0.0
	PrefetchWorkers   int
}

// Normalize fills in the three defaults spec.md's oracle table assumes
// (port 27, address 0.0.0.0, 4 prefetch workers) when left zero.
func (c Config) Normalize() Config {
	if c.PageServerPort == 0 {
		c.PageServerPort = 27
	}

	if c.PageServerAddress == "" {
		c.PageServerAddress = "0.0.0.0"
	}

	if c.PrefetchWorkers == 0 {
		c.PrefetchWorkers = 4
	}

	return c
}

// RequiresLazyPages reports whether restore must pass --lazy-pages.
func (c Config) RequiresLazyPages() bool { return c.Mode != None }

// RequiresPageServer reports whether dump must start a page-server and
// the destination must run a lazy-pages daemon that connects to it.
func (c Config) RequiresPageServer() bool {
	return c.Mode == LiveMigration || c.Mode == LiveMigrationPrefetch
}

// RequiresObjectStorage reports whether this mode needs an
// ObjectStorageConfig to be present.
func (c Config) RequiresObjectStorage() bool {
	return c.Mode == LazyPrefetch || c.Mode == LiveMigrationPrefetch
}

// DumpArgs returns the CRIU dump argument vector this mode
// contributes. Non-empty only for the two LIVE_MIGRATION* modes.
func (c Config) DumpArgs() []string {
	c = c.Normalize()

	if !c.RequiresPageServer() {
		return nil
	}

	return []string{
		"--lazy-pages",
		"--address", c.PageServerAddress,
		"--port", strconv.Itoa(c.PageServerPort),
	}
}

// RestoreArgs returns the CRIU restore argument vector this mode
// contributes: --lazy-pages for every mode but NONE.
func (c Config) RestoreArgs() []string {
	if !c.RequiresLazyPages() {
		return nil
	}

	return []string{"--lazy-pages"}
}

// LazyPagesDaemonArgs returns the `criu lazy-pages` argument vector,
// excluding any object-storage arguments (those come from
// internal/objectstorage and are appended separately by the
// checkpoint manager — keeping this function free of that
// dependency). pageServerHost is the source node address, required
// only when RequiresPageServer().
func (c Config) LazyPagesDaemonArgs(pageServerHost string) []string {
	c = c.Normalize()

	if !c.RequiresLazyPages() {
		return nil
	}

	var args []string

	if c.RequiresPageServer() && pageServerHost != "" {
		args = append(args, "--page-server", "--address", pageServerHost, "--port", strconv.Itoa(c.PageServerPort))
	}

	if c.Mode == LazyPrefetch || c.Mode == LiveMigrationPrefetch {
		args = append(args, "--async-prefetch", "--prefetch-workers", strconv.Itoa(c.PrefetchWorkers))
	}

	return args
}
