package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkdirLifecycle(t *testing.T) {
	dir, err := makeWorkdir("billing")
	if err != nil {
		t.Fatalf("makeWorkdir failed: %v", err)
	}
	if !strings.Contains(filepath.Base(dir), "repoferry-billing-") {
		t.Fatalf("Unexpected workdir name %q", dir)
	}

	// Mirror clones leave read-only object files behind.
	objects := filepath.Join(dir, "objects", "ab")
	if err := os.MkdirAll(objects, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	packed := filepath.Join(objects, "cdef0123")
	if err := os.WriteFile(packed, []byte("blob"), 0o444); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Chmod(objects, 0o555); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}

	if err := removeWorkdir(dir); err != nil {
		t.Fatalf("removeWorkdir failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("Workdir still present: %v", err)
	}
}

func TestRemoveWorkdirIgnoresEmptyPath(t *testing.T) {
	if err := removeWorkdir(""); err != nil {
		t.Fatalf("removeWorkdir(\"\") failed: %v", err)
	}
}
