package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"echo hi":     `'echo hi'`,
		"it's a test": `'it'\''s a test'`,
		"":            `''`,
	}

	for in, want := range cases {
		assert.Equalf(t, want, shellQuote(in), "shellQuote(%q)", in)
	}
}

func TestMatchGlob(t *testing.T) {
	ok, err := matchGlob("pages-*.img", "pages-00042.img")
	require.NoError(t, err)
	assert.True(t, ok, "expected pages-00042.img to match pages-*.img")

	ok, err = matchGlob("pages-*.img", "criu-dump.log")
	require.NoError(t, err)
	assert.False(t, ok, "did not expect criu-dump.log to match pages-*.img")
}
