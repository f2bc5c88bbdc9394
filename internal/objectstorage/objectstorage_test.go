package objectstorage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownloadCmdExclusionRule(t *testing.T) {
	cfg := Config{Kind: Standard, UploadBucket: "b", UploadPrefix: "p/"}

	withLazy := cfg.DownloadCmd("/tmp/dest", true)
	assert.Containsf(t, withLazy, "--exclude 'pages-*.img'", "lazy download command must exclude page images: %q", withLazy)

	withoutLazy := cfg.DownloadCmd("/tmp/dest", false)
	assert.NotContainsf(t, withoutLazy, "--exclude", "non-lazy download command must not exclude anything: %q", withoutLazy)
}

func TestCRIUArgsExpressOneZone(t *testing.T) {
	cfg := Config{
		Kind:             SingleZoneFast,
		UploadBucket:     "b",
		UploadPrefix:     "p",
		UploadRegion:     "us-east-1",
		DownloadEndpoint: "https://s3express.example.com",
		AccessKey:        "ak",
		SecretKey:        "sk",
	}

	args := cfg.CRIUArgs()
	joined := strings.Join(args, " ")

	for _, want := range []string{"--enable-object-storage", "--express-one-zone", "--aws-access-key ak", "--aws-secret-key sk", "--aws-region us-east-1", "--object-storage-object-prefix p/"} {
		assert.Containsf(t, joined, want, "CRIUArgs() missing %q", want)
	}
}

func TestCDNSkipsBucketArg(t *testing.T) {
	cfg := Config{Kind: CDN, UploadBucket: "b", DownloadEndpoint: "https://cdn.example.com"}

	args := cfg.CRIUArgs()
	assert.NotContainsf(t, args, "--object-storage-bucket", "CDN kind must not emit --object-storage-bucket: %v", args)
}
