package checkpoint

import (
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ddps-lab/criu-migrate/internal/lazymode"
	"github.com/ddps-lab/criu-migrate/internal/objectstorage"
)

// TestPredecessorChainArgs pins spec §8 point 1: dir N>1 records
// --prev-images-dir ../{N-1}, dir 1 omits it.
func TestPredecessorChainArgs(t *testing.T) {
	for iteration := 1; iteration <= 3; iteration++ {
		args := PreDumpArgs("/wd/"+strconv.Itoa(iteration), 42, iteration, "memory")

		has := containsSeq(args, "--prev-images-dir", "../"+strconv.Itoa(iteration-1))
		if iteration == 1 {
			assert.Falsef(t, has, "iteration 1 must not carry --prev-images-dir, got %v", args)
		} else {
			assert.Truef(t, has, "iteration %d must carry --prev-images-dir ../%d, got %v", iteration, iteration-1, args)
		}
	}
}

// TestFinalDumpOrdering pins spec §8 point 2: the final dump's
// --prev-images-dir references K iff K>0.
func TestFinalDumpOrdering(t *testing.T) {
	cfg := lazymode.Config{Mode: lazymode.None}

	argsNoPreDumps := FinalDumpArgs("/wd/1", 42, 0, cfg, "memory")
	assert.Falsef(t, contains(argsNoPreDumps, "--prev-images-dir"), "K=0 must omit --prev-images-dir, got %v", argsNoPreDumps)

	argsWithPreDumps := FinalDumpArgs("/wd/4", 42, 3, cfg, "memory")
	assert.Truef(t, containsSeq(argsWithPreDumps, "--prev-images-dir", "../3"), "K=3 must carry --prev-images-dir ../3, got %v", argsWithPreDumps)
}

func TestRedisAddsTCPEstablished(t *testing.T) {
	cfg := lazymode.Config{Mode: lazymode.None}

	pre := PreDumpArgs("/wd/1", 1, 1, "redis")
	assert.Truef(t, contains(pre, "--tcp-established"), "redis pre-dump must carry --tcp-established: %v", pre)

	dump := FinalDumpArgs("/wd/2", 1, 1, cfg, "redis")
	assert.Truef(t, contains(dump, "--tcp-established"), "redis dump must carry --tcp-established: %v", dump)

	restore := RestoreArgs("/wd/2", "", cfg, "redis")
	assert.Truef(t, contains(restore, "--tcp-established"), "redis restore must carry --tcp-established: %v", restore)

	memDump := FinalDumpArgs("/wd/2", 1, 1, cfg, "memory")
	assert.Falsef(t, contains(memDump, "--tcp-established"), "non-redis workload must not carry --tcp-established: %v", memDump)
}

func TestFinalDumpCarriesLazyArgs(t *testing.T) {
	cfg := lazymode.Config{Mode: lazymode.LiveMigration, PageServerPort: 27}

	args := FinalDumpArgs("/wd/2", 1, 1, cfg, "memory")
	assert.Truef(t, containsSeq(args, "--lazy-pages", "--address", "0.0.0.0", "--port", "27"),
		"LIVE_MIGRATION final dump must carry lazy-pages page-server args: %v", args)
}

// TestScenarioCS3DaemonArgs pins §8 Scenario C's exact command shape.
func TestScenarioCS3DaemonArgs(t *testing.T) {
	lazyCfg := lazymode.Config{Mode: lazymode.LazyPrefetch, PrefetchWorkers: 4}
	objCfg := objectstorage.Config{
		Kind:             objectstorage.Standard,
		UploadBucket:     "b",
		UploadPrefix:     "p",
		DownloadEndpoint: "https://s3.example.com",
	}

	args := LazyPagesDaemonArgsWithObjectStorage("/wd/2", lazyCfg, "", objCfg)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--enable-object-storage",
		"--object-storage-endpoint-url https://s3.example.com",
		"--object-storage-bucket b",
		"--object-storage-object-prefix p/",
		"--async-prefetch --prefetch-workers 4",
	} {
		assert.Containsf(t, joined, want, "expected %q in daemon args: %s", want, joined)
	}

	assert.NotContainsf(t, joined, "--page-server", "LAZY_PREFETCH must not carry --page-server: %s", joined)
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}

	return false
}

func containsSeq(args []string, seq ...string) bool {
	if len(seq) == 0 || len(args) < len(seq) {
		return false
	}

	for i := 0; i+len(seq) <= len(args); i++ {
		if reflect.DeepEqual(args[i:i+len(seq)], seq) {
			return true
		}
	}

	return false
}
