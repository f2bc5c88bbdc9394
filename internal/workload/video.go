package workload

import (
	"context"
	"fmt"
	"strings"

	"github.com/ddps-lab/criu-migrate/internal/remote"
)

// videoWorkload drives an ffmpeg transcode, grounded on
// workloads/video_standalone.py.
type videoWorkload struct {
	InputPath string `mapstructure:"input_path"`
	Bitrate   string `mapstructure:"bitrate"`
}

func newVideoWorkload(cfg map[string]interface{}) (Workload, error) {
	w := &videoWorkload{Bitrate: "1M"}
	if err := decode(cfg, w); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *videoWorkload) Type() string { return "video" }

func (w *videoWorkload) StandaloneScriptName() string { return "video_standalone.py" }

func (w *videoWorkload) Command(workingDir string) string {
	return fmt.Sprintf("python3 %s --input %s --bitrate %s --working_dir %s",
		w.StandaloneScriptName(), w.InputPath, w.Bitrate, workingDir)
}

func (w *videoWorkload) Dependencies() []string { return []string{"ffmpeg"} }

func (w *videoWorkload) ValidateConfig() error {
	if w.InputPath == "" {
		return fmt.Errorf("video workload: input_path is required")
	}

	return nil
}

// CheckHealth implements the video branch of verify_workload_health
// (spec §4.2): `pgrep -x ffmpeg` must find a PID.
func (w *videoWorkload) CheckHealth(ctx context.Context, plane *remote.Plane, h remote.Host) (bool, map[string]interface{}, error) {
	res, err := plane.Exec(h, "pgrep -x ffmpeg", 0)
	if err != nil {
		return false, nil, err
	}

	pid := strings.TrimSpace(res.Stdout)

	return res.ExitCode == 0 && pid != "", map[string]interface{}{"pid": pid}, nil
}

func (w *videoWorkload) StandaloneScriptContent() string {
	return `#!/usr/bin/env python3
"""Drives a long-running ffmpeg transcode across the checkpoint
handshake."""
import argparse
import os
import subprocess
import time


def main():
    p = argparse.ArgumentParser()
    p.add_argument("--input", default="input.mp4")
    p.add_argument("--bitrate", default="1M")
    p.add_argument("--working_dir", default=".")
    args = p.parse_args()

    output = os.path.join(args.working_dir, "output.mp4")
    proc = subprocess.Popen(
        ["ffmpeg", "-y", "-i", args.input, "-b:v", args.bitrate, output],
        cwd=args.working_dir,
        stdout=subprocess.DEVNULL,
        stderr=subprocess.DEVNULL,
    )

    ready_path = os.path.join(args.working_dir, "checkpoint_ready")
    flag_path = os.path.join(args.working_dir, "checkpoint_flag")

    with open(ready_path, "w") as f:
        f.write("ready:%d\n" % os.getpid())

    while os.path.exists(flag_path) and proc.poll() is None:
        time.sleep(1)

    print("[video] exiting, ffmpeg exit code: %s" % proc.poll())


if __name__ == "__main__":
    main()
`
}
