package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/unionfs/data"
)

func newTestBackend(t *testing.T) (*LocalBackend, string) {
	t.Helper()

	root := t.TempDir()
	lb := NewLocalBackend(root)
	if err := lb.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	return lb, root
}

func TestLocalOpenRequiresDirectory(t *testing.T) {
	ctx := context.Background()

	if err := NewLocalBackend("/does/not/exist").Open(ctx); !errors.Is(err, data.ErrMountFailed) {
		t.Fatalf("open of a missing root returned %v", err)
	}

	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewLocalBackend(file).Open(ctx); !errors.Is(err, data.ErrNotDirectory) {
		t.Fatalf("open of a file root returned %v", err)
	}
}

func TestLocalObjectLifecycle(t *testing.T) {
	lb, root := newTestBackend(t)
	ctx := context.Background()

	if _, err := lb.MakeObject(ctx, "docs", data.ModeDir|0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := lb.MakeObject(ctx, "docs/a.txt", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := lb.WriteObjectAt(ctx, "docs/a.txt", 0, []byte("content")); err != nil {
		t.Fatal(err)
	}

	// The object is a real file under the root.
	hostData, err := os.ReadFile(filepath.Join(root, "docs", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(hostData) != "content" {
		t.Fatalf("host file holds %q", hostData)
	}

	buf := make([]byte, 7)
	if _, err := lb.ReadObjectAt(ctx, "docs/a.txt", 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "content" {
		t.Fatalf("read back %q", buf)
	}

	children, err := lb.ListObjects(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Key != "docs/a.txt" {
		t.Fatalf("unexpected listing: %+v", children)
	}

	if err := lb.DeleteObject(ctx, "docs/a.txt", false); err != nil {
		t.Fatal(err)
	}
	if _, err := lb.HeadObject(ctx, "docs/a.txt"); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("head after delete returned %v", err)
	}
}

func TestLocalKeyEscapeBlocked(t *testing.T) {
	lb, root := newTestBackend(t)
	ctx := context.Background()

	// Climbing keys resolve inside the root instead of escaping it.
	if _, err := lb.MakeObject(ctx, "../escape.txt", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(filepath.Join(root, "escape.txt")); err != nil {
		t.Fatal("climbing key was not confined to the backend root")
	}
}

func TestLocalFifoIsHostFifo(t *testing.T) {
	lb, root := newTestBackend(t)
	ctx := context.Background()

	stat, err := lb.MakeObject(ctx, "queue", data.ModeNamedPipe|0o644)
	if err != nil {
		t.Fatal(err)
	}
	if !stat.Mode.IsNamedPipe() {
		t.Fatalf("created node reports mode %s", stat.Mode)
	}

	info, err := os.Lstat(filepath.Join(root, "queue"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Fatal("node on the host is not a FIFO")
	}

	h, err := lb.OpenSpecial(ctx, "queue", data.AccessModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if h.Table == nil || h.Table.Open == nil {
		t.Fatal("handle carries no native table")
	}

	if _, err := lb.OpenSpecial(ctx, "missing", data.AccessModeRead); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("special open of a missing key returned %v", err)
	}
}
