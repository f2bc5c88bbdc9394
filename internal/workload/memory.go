package workload

import "fmt"

// memoryWorkload progressively allocates memory, grounded on
// workloads/memory_standalone.py.
type memoryWorkload struct {
	MBSize       int  `mapstructure:"mb_size"`
	IntervalSec  int  `mapstructure:"interval"`
	MaxMemoryMB  int  `mapstructure:"max_memory_mb"`
	CheckLazy    bool `mapstructure:"check_lazy_loading"`
}

func newMemoryWorkload(cfg map[string]interface{}) (Workload, error) {
	w := &memoryWorkload{MBSize: 256, IntervalSec: 5, MaxMemoryMB: 8192}
	if err := decode(cfg, w); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *memoryWorkload) Type() string { return "memory" }

func (w *memoryWorkload) StandaloneScriptName() string { return "memory_standalone.py" }

func (w *memoryWorkload) Command(workingDir string) string {
	cmd := fmt.Sprintf("python3 %s --mb_size %d --interval %d --max_memory_mb %d --working_dir %s",
		w.StandaloneScriptName(), w.MBSize, w.IntervalSec, w.MaxMemoryMB, workingDir)

	if w.CheckLazy {
		cmd += " --check_lazy_loading"
	}

	return cmd
}

func (w *memoryWorkload) Dependencies() []string { return nil }

func (w *memoryWorkload) ValidateConfig() error {
	if w.MBSize <= 0 {
		return fmt.Errorf("memory workload: mb_size must be positive, got %d", w.MBSize)
	}

	if w.MaxMemoryMB < w.MBSize {
		return fmt.Errorf("memory workload: max_memory_mb (%d) must be >= mb_size (%d)", w.MaxMemoryMB, w.MBSize)
	}

	return nil
}

func (w *memoryWorkload) StandaloneScriptContent() string {
	return `#!/usr/bin/env python3
"""Memory allocation workload. Allocates memory in blocks until
max_memory_mb, honoring the checkpoint_ready / checkpoint_flag
handshake."""
import argparse
import os
import time


def main():
    p = argparse.ArgumentParser()
    p.add_argument("--mb_size", type=int, default=256)
    p.add_argument("--interval", type=int, default=5)
    p.add_argument("--max_memory_mb", type=int, default=8192)
    p.add_argument("--check_lazy_loading", action="store_true")
    p.add_argument("--working_dir", default=".")
    args = p.parse_args()

    ready_path = os.path.join(args.working_dir, "checkpoint_ready")
    flag_path = os.path.join(args.working_dir, "checkpoint_flag")

    blocks = []
    total_mb = 0

    with open(ready_path, "w") as f:
        f.write("ready:%d\n" % os.getpid())

    while os.path.exists(flag_path):
        if total_mb < args.max_memory_mb:
            blocks.append(bytearray(args.mb_size * 1024 * 1024))
            total_mb += args.mb_size
        time.sleep(args.interval)

    if args.check_lazy_loading:
        touched = 0
        for block in blocks:
            for i in range(0, len(block), 4096):
                _ = block[i]
                touched += 1
        print("[memory] touched %d pages after restore" % touched)


if __name__ == "__main__":
    main()
`
}
