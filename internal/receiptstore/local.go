package receiptstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore reads receipts from a directory. References resolve against
// Root and may not leave it; "file://" prefixes are stripped.
type LocalStore struct {
	Root string
}

// NewLocalStore creates a local store rooted at dir
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Root: dir}
}

// Fetch reads the referenced file
func (s *LocalStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	// OpenInRoot also refuses symlinks that point outside the root
	f, err := os.OpenInRoot(s.root(), rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	defer f.Close()

	data, err := readLimited(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

func (s *LocalStore) root() string {
	if s.Root == "" {
		return "."
	}
	return s.Root
}

// resolve maps ref to a path relative to the root. Absolute paths are
// accepted only when they lie under the root.
func (s *LocalStore) resolve(ref string) (string, error) {
	p := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(ref, "file://")))
	if filepath.IsAbs(p) {
		root, err := filepath.Abs(s.root())
		if err != nil {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", fmt.Errorf("%s: %w", ref, ErrOutsideRoot)
		}
		p = rel
	}
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("%s: %w", ref, ErrOutsideRoot)
	}
	return p, nil
}
