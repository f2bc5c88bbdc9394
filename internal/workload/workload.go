// Package workload implements the Workload Contract Adapter (spec
// §4.8): each pluggable Workload deploys a standalone script over
// SFTP, exposes the command line that launches it, names its package
// dependencies, and validates its own config. The orchestrator never
// embeds workload logic beyond the small set of type-conditional CRIU
// flags and health checks spec.md calls out.
package workload

import (
	"context"
	"fmt"

	"github.com/ddps-lab/criu-migrate/internal/remote"
)

// Workload is the contract every pluggable workload satisfies.
type Workload interface {
	Type() string
	StandaloneScriptName() string
	StandaloneScriptContent() string
	Command(workingDir string) string
	Dependencies() []string
	ValidateConfig() error
}

// ReadyFile and QuitFlag are the filesystem handshake names every
// workload and the checkpoint manager agree on (spec §4.8, §6).
const (
	ReadyFile = "checkpoint_ready"
	QuitFlag  = "checkpoint_flag"
)

// HealthReporter is implemented by workloads that supply extra
// protocol-level health checks beyond "process is alive" (spec §4.2
// verify_workload_health). A Workload need not implement it.
type HealthReporter interface {
	CheckHealth(ctx context.Context, plane *remote.Plane, h remote.Host) (healthy bool, detail map[string]interface{}, err error)
}

// ExtraReporter is implemented by workloads that report type-specific
// result fields after post-restore verification (SPEC_FULL.md's
// generalization of the Redis-only dbsize capture). The orchestrator
// writes each field to the run log; the fields are not added to the
// metrics document.
type ExtraReporter interface {
	ReportExtra(ctx context.Context, plane *remote.Plane, h remote.Host) (map[string]interface{}, error)
}

// RequiresTCPEstablished reports whether w's CRIU dump/restore
// invocations must carry --tcp-established (spec §4.2: "currently
// only for Redis").
func RequiresTCPEstablished(w Workload) bool {
	return w.Type() == "redis"
}

// New constructs the built-in Workload for typeName with the given
// config map (already decoded from config.Workload.Config).
func New(typeName string, cfg map[string]interface{}) (Workload, error) {
	switch typeName {
	case "memory":
		return newMemoryWorkload(cfg)
	case "matmul":
		return newMatmulWorkload(cfg)
	case "redis":
		return newRedisWorkload(cfg)
	case "video":
		return newVideoWorkload(cfg)
	default:
		return nil, fmt.Errorf("unknown workload type %q", typeName)
	}
}
