package experiment

import (
	"fmt"

	"github.com/ddps-lab/criu-migrate/internal/transfer"
)

// destCheckpointDir computes where the restore phase reads the
// checkpoint from on the destination, which depends on the transfer
// method (grounded on the original's _restore(): efs shares the
// source path verbatim, ebs reads from the mounted volume, rsync/s3
// land under the destination's own working_dir).
func destCheckpointDir(method transfer.Method, finalCheckpointDirOnSource, destWorkingDir, ebsMountPath string, iteration int) string {
	switch method {
	case transfer.EFS:
		return finalCheckpointDirOnSource
	case transfer.EBS:
		return fmt.Sprintf("%s/%d", ebsMountPath, iteration)
	default:
		return fmt.Sprintf("%s/%d", destWorkingDir, iteration)
	}
}
