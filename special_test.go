package unionfs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwantia/unionfs/data"
)

func TestMknodOnlyFifos(t *testing.T) {
	fs, _ := newUnionForTest(t, true)
	ctx := context.Background()

	if err := fs.Mknod(ctx, "/queue", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}
	stat, err := fs.Stat(ctx, "/queue")
	if err != nil {
		t.Fatal(err)
	}
	if !stat.Mode.IsNamedPipe() {
		t.Fatalf("created node has mode %s", stat.Mode)
	}

	if err := fs.Mknod(ctx, "/sock", data.ModeSocket|0o644); !errors.Is(err, data.ErrNotSupported) {
		t.Fatalf("socket mknod returned %v", err)
	}
}

func TestFifoEndToEnd(t *testing.T) {
	fs, _ := newUnionForTest(t, true)
	ctx := context.Background()

	if err := fs.Mknod(ctx, "/jobs", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}

	type result struct {
		payload []byte
		err     error
	}
	got := make(chan result, 1)

	go func() {
		reader, err := fs.Open(ctx, "/jobs", data.AccessModeRead)
		if err != nil {
			got <- result{err: err}
			return
		}
		defer reader.Close(ctx)

		buf := make([]byte, 64)
		n, err := reader.Read(ctx, buf)
		got <- result{payload: buf[:n], err: err}
	}()

	writer, err := fs.Open(ctx, "/jobs", data.AccessModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Write(ctx, []byte("build #42")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if string(r.payload) != "build #42" {
			t.Fatalf("reader got %q", r.payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never completed")
	}

	if !fs.superLock.idle() {
		t.Fatal("superblock lock still held after I/O")
	}
}

func TestFifoCopyUpFromReadOnlyBranch(t *testing.T) {
	fs, backends := newUnionForTest(t, true, false)
	ctx := context.Background()

	// The FIFO exists only on the read-only lower branch.
	if _, err := backends[1].MakeObject(ctx, "queue", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		reader, err := fs.Open(ctx, "/queue", data.AccessModeRead)
		if err != nil {
			done <- err
			return
		}
		done <- reader.Close(ctx)
	}()

	writer, err := fs.Open(ctx, "/queue", data.AccessModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if writer.Branch() != 0 {
		t.Fatalf("writer opened on branch %d, want the writable branch 0", writer.Branch())
	}
	if err := writer.Close(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never completed")
	}

	// Copy-up must have materialized the node on the writable branch,
	// preserving its kind.
	stat, err := backends[0].HeadObject(ctx, "queue")
	if err != nil {
		t.Fatal(err)
	}
	if !stat.Mode.IsNamedPipe() {
		t.Fatalf("copied node has mode %s", stat.Mode)
	}
}

func TestFifoOpenFailsWithoutWritableBranch(t *testing.T) {
	fs, backends := newUnionForTest(t, false)
	ctx := context.Background()

	if _, err := backends[0].MakeObject(ctx, "queue", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Open(ctx, "/queue", data.AccessModeRead); !errors.Is(err, data.ErrReadOnly) {
		t.Fatalf("open returned %v, want ErrReadOnly", err)
	}
	if !fs.superLock.idle() {
		t.Fatal("superblock lock leaked on the failure path")
	}
}

func TestFifoOpenHonorsContext(t *testing.T) {
	fs, _ := newUnionForTest(t, true)

	if err := fs.Mknod(context.Background(), "/lonely", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// No writer will ever appear; the blocking native open must give up
	// when the context expires.
	_, err := fs.Open(ctx, "/lonely", data.AccessModeRead)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("open returned %v, want context.DeadlineExceeded", err)
	}

	if !fs.superLock.idle() {
		t.Fatal("superblock lock still held after abandoned open")
	}
	fs.openMu.Lock()
	open := len(fs.openFiles)
	fs.openMu.Unlock()
	if open != 0 {
		t.Fatalf("%d open files remain after abandoned open", open)
	}
}

func TestFifoDuplexOpenDoesNotBlock(t *testing.T) {
	fs, _ := newUnionForTest(t, true)
	ctx := context.Background()

	if err := fs.Mknod(ctx, "/duplex", data.ModeNamedPipe|0o644); err != nil {
		t.Fatal(err)
	}

	f, err := fs.Open(ctx, "/duplex", data.AccessModeRead|data.AccessModeWrite)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.Write(ctx, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := f.Read(ctx, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("read back %q", buf)
	}

	if err := f.Close(ctx); err != nil {
		t.Fatal(err)
	}
}
