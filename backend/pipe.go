package backend

import (
	"context"
	"io"
	"sync"

	"github.com/mwantia/unionfs/data"
)

// Pipe is the in-process FIFO object shared by backends that cannot hand
// named pipes to the host (memory, sqlite). It mimics Unix FIFO behavior:
// opening one end blocks until the peer end is open, reads block until
// data arrives or the last writer leaves, and writes without any reader
// fail with data.ErrPipeClosed.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf     []byte
	readers int
	writers int
}

func NewPipe() *Pipe {
	p := &Pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// wake makes cond waits abort when ctx is canceled. The returned stop
// function must be called once the wait loop is done.
func (p *Pipe) wake(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cond.Broadcast()
	})
}

// OpenReader registers a reading end and blocks until a writer is open.
func (p *Pipe) OpenReader(ctx context.Context) error {
	defer p.wake(ctx)()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.readers++
	p.cond.Broadcast()

	for p.writers == 0 {
		if err := ctx.Err(); err != nil {
			p.readers--
			p.cond.Broadcast()
			return err
		}
		p.cond.Wait()
	}

	return nil
}

// OpenWriter registers a writing end and blocks until a reader is open.
func (p *Pipe) OpenWriter(ctx context.Context) error {
	defer p.wake(ctx)()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.writers++
	p.cond.Broadcast()

	for p.readers == 0 {
		if err := ctx.Err(); err != nil {
			p.writers--
			p.cond.Broadcast()
			return err
		}
		p.cond.Wait()
	}

	return nil
}

// OpenDuplex registers both ends without blocking, matching O_RDWR opens
// of a FIFO which never wait for a peer.
func (p *Pipe) OpenDuplex() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readers++
	p.writers++
	p.cond.Broadcast()
}

// Read blocks until data is available or the last writer closed its end,
// in which case it returns io.EOF once the buffer drained.
func (p *Pipe) Read(ctx context.Context, b []byte) (int, error) {
	defer p.wake(ctx)()

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 {
		if p.writers == 0 {
			return 0, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p.cond.Wait()
	}

	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	p.cond.Broadcast()
	return n, nil
}

// Write appends to the pipe buffer. Writing with no reader present
// reports data.ErrPipeClosed, the union-layer equivalent of EPIPE.
func (p *Pipe) Write(ctx context.Context, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.readers == 0 {
		return 0, data.ErrPipeClosed
	}

	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

// CloseReader drops one reading end.
func (p *Pipe) CloseReader() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readers > 0 {
		p.readers--
	}
	p.cond.Broadcast()
}

// CloseWriter drops one writing end. The last writer leaving wakes
// blocked readers so they observe EOF.
func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writers > 0 {
		p.writers--
	}
	p.cond.Broadcast()
}

// PipeEnds tracks which ends of a pipe an object handle holds. Backends
// store it in ObjectHandle.Object.
type PipeEnds struct {
	Pipe   *Pipe
	Reader bool
	Writer bool
}

// OpenEnds opens the pipe ends matching the access mode.
func (pe *PipeEnds) OpenEnds(ctx context.Context, access data.AccessMode) error {
	switch {
	case access.IsReadWrite():
		pe.Pipe.OpenDuplex()
		pe.Reader = true
		pe.Writer = true
	case access.IsReadOnly():
		if err := pe.Pipe.OpenReader(ctx); err != nil {
			return err
		}
		pe.Reader = true
	case access.IsWriteOnly():
		if err := pe.Pipe.OpenWriter(ctx); err != nil {
			return err
		}
		pe.Writer = true
	}
	return nil
}

// CloseEnds closes whichever ends are held.
func (pe *PipeEnds) CloseEnds() {
	if pe.Reader {
		pe.Pipe.CloseReader()
		pe.Reader = false
	}
	if pe.Writer {
		pe.Pipe.CloseWriter()
		pe.Writer = false
	}
}

// NewPipeTable returns the native operation table for pipe-backed FIFOs.
// Read ignores the offset: pipes have no position.
func NewPipeTable() *OperationTable {
	return &OperationTable{
		Open: func(ctx context.Context, h *ObjectHandle) error {
			ends, ok := h.Object.(*PipeEnds)
			if !ok {
				return data.ErrInvalid
			}
			return ends.OpenEnds(ctx, h.Access)
		},
		Read: func(ctx context.Context, h *ObjectHandle, p []byte, offset int64) (int, error) {
			ends, ok := h.Object.(*PipeEnds)
			if !ok || !ends.Reader {
				return 0, data.ErrInvalid
			}
			return ends.Pipe.Read(ctx, p)
		},
		Write: func(ctx context.Context, h *ObjectHandle, p []byte, offset int64) (int, error) {
			ends, ok := h.Object.(*PipeEnds)
			if !ok || !ends.Writer {
				return 0, data.ErrInvalid
			}
			return ends.Pipe.Write(ctx, p)
		},
		Release: func(ctx context.Context, h *ObjectHandle) error {
			ends, ok := h.Object.(*PipeEnds)
			if !ok {
				return data.ErrInvalid
			}
			ends.CloseEnds()
			return nil
		},
	}
}
