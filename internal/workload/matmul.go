package workload

import (
	"context"
	"fmt"

	"github.com/ddps-lab/criu-migrate/internal/remote"
)

// matmulWorkload runs repeated matrix multiplications, grounded on
// workloads/matmul_standalone.py.
type matmulWorkload struct {
	MatrixSize int `mapstructure:"matrix_size"`
}

func newMatmulWorkload(cfg map[string]interface{}) (Workload, error) {
	w := &matmulWorkload{MatrixSize: 1024}
	if err := decode(cfg, w); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *matmulWorkload) Type() string { return "matmul" }

func (w *matmulWorkload) StandaloneScriptName() string { return "matmul_standalone.py" }

func (w *matmulWorkload) Command(workingDir string) string {
	return fmt.Sprintf("python3 %s --matrix_size %d --working_dir %s", w.StandaloneScriptName(), w.MatrixSize, workingDir)
}

func (w *matmulWorkload) Dependencies() []string { return []string{"numpy"} }

func (w *matmulWorkload) ValidateConfig() error {
	if w.MatrixSize <= 0 {
		return fmt.Errorf("matmul workload: matrix_size must be positive, got %d", w.MatrixSize)
	}

	return nil
}

// ReportExtra attaches the FLOPs estimate the original's
// matmul_workload.py reports, generalizing spec §4.2's Redis-only
// dbsize capture (SPEC_FULL.md supplement).
func (w *matmulWorkload) ReportExtra(_ context.Context, _ *remote.Plane, _ remote.Host) (map[string]interface{}, error) {
	flops := 2.0 * float64(w.MatrixSize) * float64(w.MatrixSize) * float64(w.MatrixSize)
	return map[string]interface{}{"matrix_size": w.MatrixSize, "estimated_flops_per_iter": flops}, nil
}

func (w *matmulWorkload) StandaloneScriptContent() string {
	return `#!/usr/bin/env python3
"""Matrix multiplication workload with the checkpoint handshake."""
import argparse
import os
import random
import time


def matmul(a, b, n):
    c = [[0.0] * n for _ in range(n)]
    for i in range(n):
        for k in range(n):
            aik = a[i][k]
            for j in range(n):
                c[i][j] += aik * b[k][j]
    return c


def main():
    p = argparse.ArgumentParser()
    p.add_argument("--matrix_size", type=int, default=1024)
    p.add_argument("--working_dir", default=".")
    args = p.parse_args()

    n = min(args.matrix_size, 128)  # bounded for a pure-python fallback
    a = [[random.random() for _ in range(n)] for _ in range(n)]
    b = [[random.random() for _ in range(n)] for _ in range(n)]

    ready_path = os.path.join(args.working_dir, "checkpoint_ready")
    flag_path = os.path.join(args.working_dir, "checkpoint_flag")

    with open(ready_path, "w") as f:
        f.write("ready:%d\n" % os.getpid())

    iterations = 0
    while os.path.exists(flag_path):
        matmul(a, b, n)
        iterations += 1
        time.sleep(0.1)

    print("[matmul] completed %d iterations" % iterations)


if __name__ == "__main__":
    main()
`
}
