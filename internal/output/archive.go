package output

import (
	"fmt"
	"os"
	"path/filepath"

	"auto-transcriber/internal/fsutil"
)

// Archive moves src into dir as {name}{ext}, or fail_{name}{ext} when failed.
// A taken destination gets a numeric suffix; nothing is overwritten.
func Archive(src, dir, name string, failed bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	ext := filepath.Ext(src)
	if failed {
		name = FailPrefix + name
	}

	dest := filepath.Join(dir, name+ext)
	for counter := 1; fsutil.Exists(dest); counter++ {
		if counter > maxSaveAttempts {
			return "", ErrNameExhausted
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, counter, ext))
	}

	if err := fsutil.MoveFile(src, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	return dest, nil
}
