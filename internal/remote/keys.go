package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

func loadSigner(keyPath string) (ssh.Signer, error) {
	if strings.HasPrefix(keyPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		keyPath = filepath.Join(home, keyPath[2:])
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}

	return signer, nil
}

// matchGlob reports whether name matches the shell glob pattern.
func matchGlob(pattern, name string) (bool, error) {
	return filepath.Match(pattern, name)
}

// shellQuote wraps cmd in single quotes for safe embedding inside a
// remote `sh -c '...'` invocation.
func shellQuote(cmd string) string {
	return "'" + strings.ReplaceAll(cmd, "'", `'\''`) + "'"
}
