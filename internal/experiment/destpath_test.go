package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ddps-lab/criu-migrate/internal/transfer"
)

func TestDestCheckpointDirByMethod(t *testing.T) {
	cases := []struct {
		method transfer.Method
		want   string
	}{
		{transfer.EFS, "/shared/exp/3"},
		{transfer.EBS, "/mnt/ebs_test/3"},
		{transfer.Rsync, "/home/ubuntu/exp/3"},
		{transfer.S3, "/home/ubuntu/exp/3"},
	}

	for _, tc := range cases {
		got := destCheckpointDir(tc.method, "/shared/exp/3", "/home/ubuntu/exp", "/mnt/ebs_test", 3)
		assert.Equalf(t, tc.want, got, "%s", tc.method)
	}
}
