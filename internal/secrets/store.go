// Package secrets resolves credential material from mounted secret files.
//
// Targets reference credentials by name; the material itself lives in a
// directory of mounted secrets (Docker secrets or a Kubernetes secret volume)
// and is read at the moment a rollout branch needs it. Nothing is cached, so
// rotated secrets are picked up on the next run, and nothing is persisted.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"shipyard/internal/apperrors"
)

// Store reads secrets by reference name from a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Get returns the secret value for the given reference name.
// The reference must be a bare file name; path separators are rejected to
// keep lookups inside the store directory.
func (s *Store) Get(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", apperrors.Validation("credentialRef", "credential reference must be a bare file name")
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NotFound("credential", name)
		}
		return "", apperrors.Internal("secrets.read", err)
	}
	return strings.TrimSpace(string(data)), nil
}
