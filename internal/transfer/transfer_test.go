package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddps-lab/criu-migrate/internal/objectstorage"
)

func TestParseCommaInt(t *testing.T) {
	cases := map[string]int64{
		"1,048,576": 1048576,
		"512":       512,
		"0":         0,
	}

	for in, want := range cases {
		assert.Equalf(t, want, parseCommaInt(in), "parseCommaInt(%q)", in)
	}
}

func TestRsyncTotalSizeExtraction(t *testing.T) {
	stdout := "building file list ... done\n...\ntotal size is 1,234,567  speedup is 12.34\n"

	match := rsyncTotalSizePattern.FindStringSubmatch(stdout)
	require.NotNilf(t, match, "expected a match in %q", stdout)

	assert.Equal(t, int64(1234567), parseCommaInt(match[1]))
}

// TestS3ExcludePagesOracle pins spec §8 point 4: exclude pages-*.img
// iff lazy_mode != NONE.
func TestS3ExcludePagesOracle(t *testing.T) {
	cfg := objectstorage.Config{
		Kind:             objectstorage.Standard,
		UploadBucket:     "ckpt-bucket",
		UploadPrefix:     "run-1",
		DownloadEndpoint: "s3.amazonaws.com",
	}

	withPrefetch := S3DownloadCmd(cfg, "/tmp/ckpt", false)
	assert.Containsf(t, withPrefetch, "--exclude 'pages-*.img'", "lazy mode != NONE must exclude pages: %s", withPrefetch)

	withoutPrefetch := S3DownloadCmd(cfg, "/tmp/ckpt", true)
	assert.NotContainsf(t, withoutPrefetch, "--exclude", "lazy mode == NONE must not exclude pages: %s", withoutPrefetch)
}

func TestS3UploadCmdShape(t *testing.T) {
	cfg := objectstorage.Config{
		Kind:         objectstorage.Standard,
		UploadBucket: "ckpt-bucket",
		UploadPrefix: "run-1",
	}

	cmd := S3UploadCmd(cfg, "/tmp/ckpt")

	assert.Equal(t, "aws s3 sync /tmp/ckpt/ s3://ckpt-bucket/run-1/ --quiet", cmd)
}
