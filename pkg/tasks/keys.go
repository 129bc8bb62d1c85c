package tasks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/onepush/onepush/pkg/engine"
)

// DefaultPublicKeyPaths returns the operator's usual public key files.
func DefaultPublicKeyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_rsa.pub"),
		filepath.Join(home, ".ssh", "id_dsa.pub"),
		filepath.Join(home, ".ssh", "id_ed25519.pub"),
	}
}

// LoadPublicKeys reads authorized_keys lines from the files that exist.
// Missing files are skipped; a line that is not a public key is a
// configuration error.
func LoadPublicKeys(paths ...string) ([]string, error) {
	var keys []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read public key %s", p), err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err != nil {
				return nil, engine.NewConfigurationError(fmt.Sprintf("invalid public key in %s", p), err).
					WithCode(engine.ErrCodeValidation)
			}
			keys = append(keys, line)
		}
	}
	return keys, nil
}

// mergeKeys appends every key not already present, keeping existing lines
// and their order.
func mergeKeys(existing string, keys []string) string {
	var lines []string
	if existing != "" {
		lines = strings.Split(existing, "\n")
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		seen[l] = true
	}
	for _, k := range keys {
		if !seen[k] {
			lines = append(lines, k)
			seen[k] = true
		}
	}
	return strings.Join(lines, "\n")
}
