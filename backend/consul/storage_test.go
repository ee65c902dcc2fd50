package consul

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/mwantia/unionfs/data"
)

// The contract test needs a reachable Consul agent and is skipped
// without one: UNIONFS_TEST_CONSUL_ADDR=127.0.0.1:8500.
func newLiveBackend(t *testing.T) *ConsulBackend {
	t.Helper()

	addr := os.Getenv("UNIONFS_TEST_CONSUL_ADDR")
	if addr == "" {
		t.Skip("UNIONFS_TEST_CONSUL_ADDR not set")
	}

	cb, err := NewConsulBackend(&ConsulBackendConfig{
		Address: addr,
		Prefix:  "unionfs-test/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := cb.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	// context.Background() is already canceled once cleanups run.
	t.Cleanup(func() { cb.Close(context.Background()) })
	return cb
}

func TestConsulObjectContract(t *testing.T) {
	cb := newLiveBackend(t)
	ctx := context.Background()

	t.Cleanup(func() { cb.DeleteObject(context.Background(), "contract", true) })

	if _, err := cb.MakeObject(ctx, "contract", data.ModeDir|0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := cb.MakeObject(ctx, "contract/app.conf", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cb.WriteObjectAt(ctx, "contract/app.conf", 0, []byte("workers=8")); err != nil {
		t.Fatal(err)
	}

	stat, err := cb.HeadObject(ctx, "contract/app.conf")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size != 9 || !stat.Mode.IsRegular() {
		t.Fatalf("unexpected stat: size=%d mode=%s", stat.Size, stat.Mode)
	}

	buf := make([]byte, 9)
	if _, err := cb.ReadObjectAt(ctx, "contract/app.conf", 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "workers=8" {
		t.Fatalf("read back %q", buf)
	}

	children, err := cb.ListObjects(ctx, "contract")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Key != "contract/app.conf" {
		t.Fatalf("unexpected listing: %+v", children)
	}

	if err := cb.DeleteObject(ctx, "contract/app.conf", false); err != nil {
		t.Fatal(err)
	}
	if _, err := cb.HeadObject(ctx, "contract/app.conf"); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("head after delete returned %v", err)
	}
}

func TestConsulNoSpecialFiles(t *testing.T) {
	cb := newLiveBackend(t)

	// Pipe buffers cannot live in a KV store.
	if _, err := cb.MakeObject(context.Background(), "contract-fifo", data.ModeNamedPipe|0o644); !errors.Is(err, data.ErrNotSupported) {
		t.Fatalf("FIFO create on consul returned %v", err)
	}
}
