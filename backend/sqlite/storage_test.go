package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	sb, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "branch.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sb.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sb
}

func TestSQLiteObjectLifecycle(t *testing.T) {
	sb := newTestBackend(t)
	ctx := context.Background()

	if _, err := sb.MakeObject(ctx, "etc", data.ModeDir|0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.MakeObject(ctx, "etc/app.conf", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.MakeObject(ctx, "etc/app.conf", 0o644); !errors.Is(err, data.ErrExist) {
		t.Fatalf("duplicate create returned %v", err)
	}

	if _, err := sb.WriteObjectAt(ctx, "etc/app.conf", 0, []byte("workers=8")); err != nil {
		t.Fatal(err)
	}

	stat, err := sb.HeadObject(ctx, "etc/app.conf")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size != 9 || !stat.Mode.IsRegular() {
		t.Fatalf("unexpected stat: size=%d mode=%s", stat.Size, stat.Mode)
	}

	buf := make([]byte, 9)
	if _, err := sb.ReadObjectAt(ctx, "etc/app.conf", 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "workers=8" {
		t.Fatalf("read back %q", buf)
	}

	children, err := sb.ListObjects(ctx, "etc")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Key != "etc/app.conf" {
		t.Fatalf("unexpected listing: %+v", children)
	}

	if err := sb.DeleteObject(ctx, "etc/app.conf", false); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.HeadObject(ctx, "etc/app.conf"); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("head after delete returned %v", err)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "branch.db")

	sb, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := sb.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.MakeObject(ctx, "kept.txt", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.WriteObjectAt(ctx, "kept.txt", 0, []byte("survives")); err != nil {
		t.Fatal(err)
	}
	if err := sb.Close(ctx); err != nil {
		t.Fatal(err)
	}

	sb, err = NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := sb.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer sb.Close(ctx)

	buf := make([]byte, 8)
	if _, err := sb.ReadObjectAt(ctx, "kept.txt", 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "survives" {
		t.Fatalf("read back %q after reopen", buf)
	}
}

func TestSQLiteFifoPipeRegistry(t *testing.T) {
	sb := newTestBackend(t)
	ctx := context.Background()

	if _, err := sb.MakeObject(ctx, "fifo", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := sb.OpenSpecial(ctx, "fifo", data.AccessModeRead)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := sb.OpenSpecial(ctx, "fifo", data.AccessModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if h1.Object.(*backend.PipeEnds).Pipe != h2.Object.(*backend.PipeEnds).Pipe {
		t.Fatal("handles for one FIFO got different pipes")
	}

	if _, err := sb.MakeObject(ctx, "plain", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.OpenSpecial(ctx, "plain", data.AccessModeRead); !errors.Is(err, data.ErrNotSupported) {
		t.Fatalf("special open of a regular row returned %v", err)
	}
}
