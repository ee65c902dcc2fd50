package unionfs

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mwantia/unionfs/backend/memory"
	"github.com/mwantia/unionfs/data"
)

// newUnionForTest builds a union over memory backends with the given
// writabilities, index 0 first.
func newUnionForTest(t *testing.T, writable ...bool) (*UnionFS, []*memory.MemoryBackend) {
	t.Helper()

	fs := New(WithoutTerminalLog())
	backends := make([]*memory.MemoryBackend, len(writable))
	for i, w := range writable {
		backends[i] = memory.NewMemoryBackend()
		if _, err := fs.AddBranch(context.Background(), backends[i], w); err != nil {
			t.Fatal(err)
		}
	}
	return fs, backends
}

func seedFile(t *testing.T, mb *memory.MemoryBackend, key string, content []byte) {
	t.Helper()

	ctx := context.Background()
	if _, err := mb.MakeObject(ctx, key, 0o644); err != nil {
		t.Fatal(err)
	}
	if len(content) > 0 {
		if _, err := mb.WriteObjectAt(ctx, key, 0, content); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCopyUpBranchSelection(t *testing.T) {
	fs, _ := newUnionForTest(t, false, false, true, false, false, true)

	if got := fs.pickCopyUpBranch(); got != 2 {
		t.Fatalf("picked branch %d, want 2 (first writable in scan order)", got)
	}
}

func TestCopyUpNoWritableBranch(t *testing.T) {
	fs, _ := newUnionForTest(t, false, false)

	if got := fs.pickCopyUpBranch(); got != -1 {
		t.Fatalf("picked branch %d on an all-read-only table", got)
	}
}

func TestCopyUpReplicatesContentAndTimes(t *testing.T) {
	ctx := context.Background()
	fs, backends := newUnionForTest(t, true, false)

	content := []byte("lower branch payload")
	seedFile(t, backends[1], "report.txt", content)

	past := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := backends[1].SetObjectTimes(ctx, "report.txt", past, past); err != nil {
		t.Fatal(err)
	}

	e, err := fs.lookupEntry(ctx, "/report.txt")
	if err != nil {
		t.Fatal(err)
	}

	sg := fs.lockSuperShared()
	eg := sg.LockEntry(e, true)
	err = fs.copyUp(ctx, sg, e, 0)
	eg.Release()
	sg.Release()
	if err != nil {
		t.Fatal(err)
	}

	stat, err := backends[0].HeadObject(ctx, "report.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !stat.ModifyTime.Equal(past) {
		t.Fatalf("modify time not preserved: got %v, want %v", stat.ModifyTime, past)
	}

	buf := make([]byte, len(content))
	if _, err := backends[0].ReadObjectAt(ctx, "report.txt", 0, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, content) {
		t.Fatalf("copied content mismatch: %q", buf)
	}

	if e.statAt(0) == nil {
		t.Fatal("entry does not record the copied node")
	}
	if e.topBranch() != 0 {
		t.Fatalf("top branch is %d after copy-up", e.topBranch())
	}
}

func TestCopyUpIdempotent(t *testing.T) {
	ctx := context.Background()
	fs, backends := newUnionForTest(t, true, false)

	seedFile(t, backends[1], "cfg.txt", []byte("v1"))

	e, err := fs.lookupEntry(ctx, "/cfg.txt")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		sg := fs.lockSuperShared()
		eg := sg.LockEntry(e, true)
		err = fs.copyUp(ctx, sg, e, 0)
		eg.Release()
		sg.Release()
		if err != nil {
			t.Fatalf("copy-up round %d: %v", i+1, err)
		}
	}

	stat, err := backends[0].HeadObject(ctx, "cfg.txt")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size != 2 {
		t.Fatalf("size %d after repeated copy-up", stat.Size)
	}
}

func TestCopyUpMaterializesAncestors(t *testing.T) {
	ctx := context.Background()
	fs, backends := newUnionForTest(t, true, false)

	if _, err := backends[1].MakeObject(ctx, "deep", data.ModeDir|0o700); err != nil {
		t.Fatal(err)
	}
	if _, err := backends[1].MakeObject(ctx, "deep/nested", data.ModeDir|0o700); err != nil {
		t.Fatal(err)
	}
	seedFile(t, backends[1], "deep/nested/file.txt", []byte("x"))

	e, err := fs.lookupEntry(ctx, "/deep/nested/file.txt")
	if err != nil {
		t.Fatal(err)
	}

	sg := fs.lockSuperShared()
	eg := sg.LockEntry(e, true)
	err = fs.copyUp(ctx, sg, e, 0)
	eg.Release()
	sg.Release()
	if err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{"deep", "deep/nested"} {
		stat, err := backends[0].HeadObject(ctx, dir)
		if err != nil {
			t.Fatalf("ancestor %s missing on target branch: %v", dir, err)
		}
		if !stat.Mode.IsDir() {
			t.Fatalf("ancestor %s is not a directory", dir)
		}
		if stat.Mode.Perm() != 0o700 {
			t.Fatalf("ancestor %s lost its mode: %s", dir, stat.Mode)
		}
	}

	if _, err := backends[0].HeadObject(ctx, "deep/nested/file.txt"); err != nil {
		t.Fatal("file missing on target branch after copy-up")
	}
}
