package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

func TestMemoryObjectLifecycle(t *testing.T) {
	mb := NewMemoryBackend()
	ctx := context.Background()

	if _, err := mb.MakeObject(ctx, "docs", data.ModeDir|0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.MakeObject(ctx, "docs/a.txt", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.MakeObject(ctx, "docs/a.txt", 0o644); !errors.Is(err, data.ErrExist) {
		t.Fatalf("duplicate create returned %v", err)
	}

	if _, err := mb.WriteObjectAt(ctx, "docs/a.txt", 0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	stat, err := mb.HeadObject(ctx, "docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size != 5 {
		t.Fatalf("size %d after write", stat.Size)
	}

	buf := make([]byte, 5)
	if _, err := mb.ReadObjectAt(ctx, "docs/a.txt", 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("read %q", buf)
	}

	if err := mb.TruncateObject(ctx, "docs/a.txt", 2); err != nil {
		t.Fatal(err)
	}
	stat, _ = mb.HeadObject(ctx, "docs/a.txt")
	if stat.Size != 2 {
		t.Fatalf("size %d after truncate", stat.Size)
	}

	if err := mb.DeleteObject(ctx, "docs/a.txt", false); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.HeadObject(ctx, "docs/a.txt"); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("head after delete returned %v", err)
	}
}

func TestMemoryListDirectChildrenOnly(t *testing.T) {
	mb := NewMemoryBackend()
	ctx := context.Background()

	for _, dir := range []string{"a", "a/b"} {
		if _, err := mb.MakeObject(ctx, dir, data.ModeDir|0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, file := range []string{"a/one.txt", "a/b/two.txt"} {
		if _, err := mb.MakeObject(ctx, file, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	children, err := mb.ListObjects(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("listed %d children of a, want 2 (b, one.txt)", len(children))
	}
	for _, child := range children {
		if child.Key == "a/b/two.txt" {
			t.Fatal("listing leaked a deeper descendant")
		}
	}

	if _, err := mb.ListObjects(ctx, "a/one.txt"); !errors.Is(err, data.ErrNotDirectory) {
		t.Fatalf("listing a file returned %v", err)
	}
}

func TestMemoryDeleteDirectory(t *testing.T) {
	mb := NewMemoryBackend()
	ctx := context.Background()

	if _, err := mb.MakeObject(ctx, "tmp", data.ModeDir|0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.MakeObject(ctx, "tmp/junk", 0o644); err != nil {
		t.Fatal(err)
	}

	if err := mb.DeleteObject(ctx, "tmp", false); !errors.Is(err, data.ErrDirectoryNotEmpty) {
		t.Fatalf("non-forced delete returned %v", err)
	}
	if err := mb.DeleteObject(ctx, "tmp", true); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.HeadObject(ctx, "tmp/junk"); !errors.Is(err, data.ErrNotExist) {
		t.Fatal("forced delete left a child behind")
	}
}

func TestMemorySetObjectTimes(t *testing.T) {
	mb := NewMemoryBackend()
	ctx := context.Background()

	if _, err := mb.MakeObject(ctx, "f", 0o644); err != nil {
		t.Fatal(err)
	}

	atime := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := mb.SetObjectTimes(ctx, "f", atime, time.Time{}); err != nil {
		t.Fatal(err)
	}

	stat, _ := mb.HeadObject(ctx, "f")
	if !stat.AccessTime.Equal(atime) {
		t.Fatalf("atime %v, want %v", stat.AccessTime, atime)
	}
	if stat.ModifyTime.IsZero() {
		t.Fatal("zero mtime argument clobbered the modify time")
	}
}

func TestMemoryOpenSpecial(t *testing.T) {
	mb := NewMemoryBackend()
	ctx := context.Background()

	if _, err := mb.MakeObject(ctx, "fifo", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.MakeObject(ctx, "plain", 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := mb.OpenSpecial(ctx, "fifo", data.AccessModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if h.Table == nil || h.Table.Open == nil {
		t.Fatal("handle carries no native table")
	}

	// Two handles for the same key must share the pipe object.
	h2, err := mb.OpenSpecial(ctx, "fifo", data.AccessModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if h.Object.(*backend.PipeEnds).Pipe != h2.Object.(*backend.PipeEnds).Pipe {
		t.Fatal("handles for one FIFO got different pipes")
	}

	if _, err := mb.OpenSpecial(ctx, "plain", data.AccessModeRead); !errors.Is(err, data.ErrNotSupported) {
		t.Fatalf("special open of a regular file returned %v", err)
	}
	if _, err := mb.OpenSpecial(ctx, "ghost", data.AccessModeRead); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("special open of a missing key returned %v", err)
	}
}
