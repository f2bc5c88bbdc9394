package lazymode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOracleTable is the exact oracle from spec §8 point 3.
func TestOracleTable(t *testing.T) {
	cases := []struct {
		mode        Mode
		dumpArgs    []string
		restoreArgs []string
		daemonArgs  []string
	}{
		{None, nil, nil, nil},
		{Lazy, nil, []string{"--lazy-pages"}, nil},
		{LazyPrefetch, nil, []string{"--lazy-pages"}, []string{"--async-prefetch", "--prefetch-workers", "4"}},
		{
			LiveMigration,
			[]string{"--lazy-pages", "--address", "0.0.0.0", "--port", "27"},
			[]string{"--lazy-pages"},
			[]string{"--page-server", "--address", "10.0.0.1", "--port", "27"},
		},
		{
			LiveMigrationPrefetch,
			[]string{"--lazy-pages", "--address", "0.0.0.0", "--port", "27"},
			[]string{"--lazy-pages"},
			[]string{"--page-server", "--address", "10.0.0.1", "--port", "27", "--async-prefetch", "--prefetch-workers", "4"},
		},
	}

	for _, tc := range cases {
		cfg := Config{Mode: tc.mode, PageServerPort: 27}

		assert.Equalf(t, tc.dumpArgs, cfg.DumpArgs(), "%s: DumpArgs()", tc.mode)
		assert.Equalf(t, tc.restoreArgs, cfg.RestoreArgs(), "%s: RestoreArgs()", tc.mode)
		assert.Equalf(t, tc.daemonArgs, cfg.LazyPagesDaemonArgs("10.0.0.1"), "%s: LazyPagesDaemonArgs()", tc.mode)
	}
}

func TestRequiresInvariants(t *testing.T) {
	for _, m := range []Mode{None, Lazy, LazyPrefetch, LiveMigration, LiveMigrationPrefetch} {
		cfg := Config{Mode: m}

		wantS3 := m == LazyPrefetch || m == LiveMigrationPrefetch
		assert.Equalf(t, wantS3, cfg.RequiresObjectStorage(), "%s: RequiresObjectStorage()", m)

		wantPS := m == LiveMigration || m == LiveMigrationPrefetch
		assert.Equalf(t, wantPS, cfg.RequiresPageServer(), "%s: RequiresPageServer()", m)
	}
}

func TestNoneForbidsPageServerAndDaemon(t *testing.T) {
	cfg := Config{Mode: None}

	assert.Empty(t, cfg.DumpArgs(), "NONE must never contribute CRIU arguments")
	assert.Empty(t, cfg.RestoreArgs(), "NONE must never contribute CRIU arguments")
	assert.Empty(t, cfg.LazyPagesDaemonArgs("x"), "NONE must never contribute CRIU arguments")
}
