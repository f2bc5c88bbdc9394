// Package objectstorage models ObjectStorageConfig (spec §3): the
// object-storage endpoint pair (upload/download) used by the
// LAZY_PREFETCH and LIVE_MIGRATION_PREFETCH lazy modes and by the s3
// transfer method. It derives the upload/download command strings and
// the CRIU --object-storage-* argument vector; it performs no I/O
// itself.
package objectstorage

import (
	"fmt"
	"strings"
)

// Kind is the storage backend behind the object-storage endpoint.
// Names follow spec §3; grounded on the original's S3Type
// (standard/cloudfront/express-one-zone).
type Kind string

const (
	Standard       Kind = "standard"
	CDN            Kind = "cdn"
	SingleZoneFast Kind = "single-zone-fast"
)

// Config is ObjectStorageConfig from spec §3.
type Config struct {
	Kind Kind

	UploadBucket string
	UploadPrefix string
	UploadRegion string

	DownloadEndpoint string
	DownloadBucket string // defaults to UploadBucket unless Kind == CDN

	// Fast-zone credentials, only meaningful for Kind == SingleZoneFast.
	AccessKey string
	SecretKey string
}

// Normalize trims slashes from the prefix and fills DownloadBucket.
func (c Config) Normalize() Config {
	c.UploadPrefix = strings.Trim(c.UploadPrefix, "/")

	if c.DownloadBucket == "" && c.Kind != CDN {
		c.DownloadBucket = c.UploadBucket
	}

	return c
}

// S3URI is the canonical s3://bucket/prefix/ location for the
// checkpoint under this config.
func (c Config) S3URI() string {
	c = c.Normalize()

	if c.UploadPrefix != "" {
		return fmt.Sprintf("s3://%s/%s/", c.UploadBucket, c.UploadPrefix)
	}

	return fmt.Sprintf("s3://%s/", c.UploadBucket)
}

// UploadCmd is the shell command that uploads localDir's contents to
// this config's S3 location.
func (c Config) UploadCmd(localDir string) string {
	return fmt.Sprintf("aws s3 sync %s/ %s --quiet", localDir, c.S3URI())
}

// DownloadCmd is the shell command that downloads this config's S3
// location into localDir. excludePages controls whether pages-*.img
// files are excluded, per spec §8 point 4 (true iff lazy_mode != NONE).
func (c Config) DownloadCmd(localDir string, excludePages bool) string {
	cmd := fmt.Sprintf("aws s3 sync %s %s/ --quiet", c.S3URI(), localDir)

	if excludePages {
		cmd += " --exclude 'pages-*.img'"
	}

	return cmd
}

// CRIUArgs is the --object-storage-* / --express-one-zone argument
// vector consumed by `criu lazy-pages` (spec §6).
func (c Config) CRIUArgs() []string {
	c = c.Normalize()

	args := []string{"--enable-object-storage", "--object-storage-endpoint-url", c.DownloadEndpoint}

	if c.Kind != CDN && c.DownloadBucket != "" {
		args = append(args, "--object-storage-bucket", c.DownloadBucket)
	}

	if c.UploadPrefix != "" {
		args = append(args, "--object-storage-object-prefix", c.UploadPrefix+"/")
	}

	if c.Kind == SingleZoneFast {
		args = append(args, "--express-one-zone")

		if c.AccessKey != "" {
			args = append(args, "--aws-access-key", c.AccessKey)
		}

		if c.SecretKey != "" {
			args = append(args, "--aws-secret-key", c.SecretKey)
		}

		if c.UploadRegion != "" {
			args = append(args, "--aws-region", c.UploadRegion)
		}
	}

	return args
}
