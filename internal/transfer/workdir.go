package transfer

import (
	"io/fs"
	"os"
	"path/filepath"
)

// makeWorkdir creates a private temporary directory for one mapping's
// mirror clone.
func makeWorkdir(targetName string) (string, error) {
	return os.MkdirTemp("", "repoferry-"+targetName+"-")
}

// removeWorkdir deletes the mirror clone. Git object files are created
// read-only, which makes a plain RemoveAll fail on some platforms; on
// failure the tree is re-permissioned and removal retried once.
func removeWorkdir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err == nil {
		return nil
	}
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			_ = os.Chmod(path, 0o755)
		} else {
			_ = os.Chmod(path, 0o644)
		}
		return nil
	})
	return os.RemoveAll(dir)
}
