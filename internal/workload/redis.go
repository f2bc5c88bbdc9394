package workload

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ddps-lab/criu-migrate/internal/remote"
)

// redisWorkload runs redis-server as the checkpointed process. Unlike
// the other workloads it is not itself the standalone script — the
// script's job is only to drive redis-server and populate it, per
// workloads/redis_standalone.py.
type redisWorkload struct {
	Port     int    `mapstructure:"port"`
	KeyCount int    `mapstructure:"key_count"`
	DataDir  string `mapstructure:"data_dir"`
}

func newRedisWorkload(cfg map[string]interface{}) (Workload, error) {
	w := &redisWorkload{Port: 6379, KeyCount: 1000}
	if err := decode(cfg, w); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *redisWorkload) Type() string { return "redis" }

func (w *redisWorkload) StandaloneScriptName() string { return "redis_standalone.py" }

func (w *redisWorkload) Command(workingDir string) string {
	return fmt.Sprintf("python3 %s --port %d --key_count %d --working_dir %s",
		w.StandaloneScriptName(), w.Port, w.KeyCount, workingDir)
}

func (w *redisWorkload) Dependencies() []string { return []string{"redis", "redis-server"} }

func (w *redisWorkload) ValidateConfig() error {
	if w.Port <= 0 || w.Port > 65535 {
		return fmt.Errorf("redis workload: invalid port %d", w.Port)
	}

	return nil
}

// CheckHealth implements the redis branch of verify_workload_health
// (spec §4.2): `redis-cli -p {port} ping` must return PONG.
func (w *redisWorkload) CheckHealth(ctx context.Context, plane *remote.Plane, h remote.Host) (bool, map[string]interface{}, error) {
	res, err := plane.Exec(h, fmt.Sprintf("redis-cli -p %d ping", w.Port), 0)
	if err != nil {
		return false, nil, err
	}

	healthy := strings.TrimSpace(res.Stdout) == "PONG"
	detail := map[string]interface{}{"response": strings.TrimSpace(res.Stdout)}

	return healthy, detail, nil
}

// ReportExtra captures dbsize, the example spec §4.2 names explicitly.
func (w *redisWorkload) ReportExtra(ctx context.Context, plane *remote.Plane, h remote.Host) (map[string]interface{}, error) {
	res, err := plane.Exec(h, fmt.Sprintf("redis-cli -p %d dbsize", w.Port), 0)
	if err != nil {
		return nil, err
	}

	n, _ := strconv.Atoi(strings.TrimSpace(res.Stdout))

	return map[string]interface{}{"dbsize": n}, nil
}

func (w *redisWorkload) StandaloneScriptContent() string {
	return `#!/usr/bin/env python3
"""Drives a local redis-server and seeds it, then idles across the
checkpoint/restore handshake."""
import argparse
import os
import subprocess
import time


def main():
    p = argparse.ArgumentParser()
    p.add_argument("--port", type=int, default=6379)
    p.add_argument("--key_count", type=int, default=1000)
    p.add_argument("--working_dir", default=".")
    args = p.parse_args()

    subprocess.Popen(
        ["redis-server", "--port", str(args.port), "--daemonize", "no"],
        cwd=args.working_dir,
        stdout=subprocess.DEVNULL,
        stderr=subprocess.DEVNULL,
    )
    time.sleep(1)

    for i in range(args.key_count):
        subprocess.run(["redis-cli", "-p", str(args.port), "set", "key:%d" % i, "value:%d" % i], stdout=subprocess.DEVNULL)

    ready_path = os.path.join(args.working_dir, "checkpoint_ready")
    flag_path = os.path.join(args.working_dir, "checkpoint_flag")

    with open(ready_path, "w") as f:
        f.write("ready:%d\n" % os.getpid())

    while os.path.exists(flag_path):
        time.sleep(1)

    print("[redis] exiting")


if __name__ == "__main__":
    main()
`
}
