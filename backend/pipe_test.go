package backend

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mwantia/unionfs/data"
)

func TestPipeOpenHandshake(t *testing.T) {
	p := NewPipe()
	ctx := context.Background()

	readerOpen := make(chan error, 1)
	go func() {
		readerOpen <- p.OpenReader(ctx)
	}()

	select {
	case err := <-readerOpen:
		t.Fatalf("reader open returned %v before any writer", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.OpenWriter(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-readerOpen:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after writer opened")
	}
}

func TestPipeOpenCancel(t *testing.T) {
	p := NewPipe()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := p.OpenReader(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("open returned %v", err)
	}

	// The abandoned open must not leave a phantom reader behind.
	if _, err := p.Write(context.Background(), []byte("x")); !errors.Is(err, data.ErrPipeClosed) {
		t.Fatalf("write with no reader returned %v", err)
	}
}

func TestPipeReadWriteAndEOF(t *testing.T) {
	p := NewPipe()
	ctx := context.Background()
	p.OpenDuplex()

	if _, err := p.Write(ctx, []byte("abc")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2)
	n, err := p.Read(ctx, buf)
	if err != nil || n != 2 || string(buf) != "ab" {
		t.Fatalf("first read: n=%d err=%v buf=%q", n, err, buf)
	}

	p.CloseWriter()

	// Remaining buffered data drains before EOF.
	n, err = p.Read(ctx, buf)
	if err != nil || n != 1 || buf[0] != 'c' {
		t.Fatalf("drain read: n=%d err=%v", n, err)
	}
	if _, err := p.Read(ctx, buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read after last writer left returned %v", err)
	}
}

func TestPipeWriteWithoutReader(t *testing.T) {
	p := NewPipe()
	p.OpenDuplex()
	p.CloseReader()

	if _, err := p.Write(context.Background(), []byte("x")); !errors.Is(err, data.ErrPipeClosed) {
		t.Fatalf("write returned %v, want ErrPipeClosed", err)
	}
}

func TestPipeEndsMatchAccessMode(t *testing.T) {
	p := NewPipe()
	ctx := context.Background()

	rw := &PipeEnds{Pipe: p}
	if err := rw.OpenEnds(ctx, data.AccessModeRead|data.AccessModeWrite); err != nil {
		t.Fatal(err)
	}
	if !rw.Reader || !rw.Writer {
		t.Fatal("duplex open did not hold both ends")
	}

	ro := &PipeEnds{Pipe: p}
	if err := ro.OpenEnds(ctx, data.AccessModeRead); err != nil {
		t.Fatal(err)
	}
	if !ro.Reader || ro.Writer {
		t.Fatal("read open held the wrong ends")
	}

	ro.CloseEnds()
	ro.CloseEnds() // closing twice must not double-release
	rw.CloseEnds()

	if _, err := p.Write(ctx, []byte("x")); !errors.Is(err, data.ErrPipeClosed) {
		t.Fatalf("pipe still has readers after CloseEnds: %v", err)
	}
}

func TestPipeTableDispatch(t *testing.T) {
	table := NewPipeTable()
	ctx := context.Background()

	p := NewPipe()
	h := NewObjectHandle("fifo", data.ModeNamedPipe|0o644, data.AccessModeRead|data.AccessModeWrite, nil)
	h.Table = table
	h.Object = &PipeEnds{Pipe: p}

	if err := table.Open(ctx, h); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Write(ctx, h, []byte("hi"), 0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if _, err := table.Read(ctx, h, buf, 99); err != nil {
		t.Fatal(err) // pipes ignore the offset
	}
	if string(buf) != "hi" {
		t.Fatalf("read %q", buf)
	}
	if err := table.Release(ctx, h); err != nil {
		t.Fatal(err)
	}

	// A handle without pipe state is rejected, not crashed on.
	bad := NewObjectHandle("fifo", data.ModeNamedPipe, data.AccessModeRead, nil)
	if err := table.Open(ctx, bad); !errors.Is(err, data.ErrInvalid) {
		t.Fatalf("open with no pipe state returned %v", err)
	}
}
