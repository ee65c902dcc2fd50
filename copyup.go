package unionfs

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/branch"
	"github.com/mwantia/unionfs/data"
)

// pickCopyUpBranch returns the target branch for materializing the
// entry on writable storage: the lowest-index (highest-priority)
// writable branch in the table. The scan always starts at index 0 and
// stops at the first writable branch, so concurrent callers racing on
// the same branch table converge on the same target. Returns -1 when no
// branch is writable.
func (fs *UnionFS) pickCopyUpBranch() int {
	for i := 0; i < fs.branches.Len(); i++ {
		if fs.branches.Writable(i) {
			return i
		}
	}
	return -1
}

// copyUp replicates the entry's top node onto the target branch,
// preserving its timestamps, and records the new node on the entry.
// The caller holds the entry guard exclusively; copyUp additionally
// takes the parent entry exclusively and pins the target branch for the
// duration.
//
// copyUp is idempotent: when the node already exists on the target (a
// concurrent copy-up won), it returns without touching storage.
func (fs *UnionFS) copyUp(ctx context.Context, sg *SuperGuard, e *Entry, target int) error {
	if e.statAt(target) != nil {
		return nil
	}

	src := e.topBranch()
	if src < 0 {
		return data.ErrNotExist
	}
	if target == src {
		return nil
	}
	if target < 0 || target >= fs.branches.Len() {
		return data.ErrBranchUnknown
	}

	parent, err := fs.parentEntry(ctx, e)
	if err != nil {
		return err
	}
	var pg *EntryGuard
	if parent != e {
		pg = sg.LockEntry(parent, true)
		defer pg.Release()
	}

	if err := fs.materializeAncestors(ctx, e.path, target); err != nil {
		return err
	}

	pin, err := fs.branches.Pin(target, branch.UDBANone, branch.PinDirLocked|branch.PinMountWrite)
	if err != nil {
		return err
	}
	defer pin.Release()

	dst, err := fs.branches.Storage(target)
	if err != nil {
		return err
	}

	srcStorage, err := fs.branches.Storage(src)
	if err != nil {
		return err
	}

	key := branchKey(e.path)
	stat := e.statAt(src)

	if _, err := dst.MakeObject(ctx, key, stat.Mode); err != nil {
		if errors.Is(err, data.ErrExist) {
			return fs.refreshBranchStat(ctx, e, target)
		}
		return err
	}

	if stat.Mode.IsRegular() && stat.Size > 0 {
		if err := fs.copyContent(ctx, srcStorage, dst, key, stat.Size); err != nil {
			return err
		}
	}

	// Copied nodes keep the original's timestamps.
	if err := dst.SetObjectTimes(ctx, key, stat.AccessTime, stat.ModifyTime); err != nil {
		fs.log.Warn("copy-up %s: preserve times on branch %d: %v", e.path, target, err)
	}

	if pg != nil {
		if err := fs.refreshBranchStat(ctx, parent, target); err != nil {
			fs.log.Warn("copy-up %s: refresh parent on branch %d: %v", e.path, target, err)
		}
	}

	fs.log.Debug("copied up %s: branch %d -> %d", e.path, src, target)
	return fs.refreshBranchStat(ctx, e, target)
}

// materializeAncestors creates every missing ancestor directory of the
// path on the target branch, top-down, copying each directory's mode and
// times from its highest-priority source node when one exists.
func (fs *UnionFS) materializeAncestors(ctx context.Context, pathname string, target int) error {
	dst, err := fs.branches.Storage(target)
	if err != nil {
		return err
	}

	dir := path.Dir(pathname)
	if dir == "/" {
		return nil
	}

	var prefix string
	for _, part := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		prefix = path.Join(prefix, part)

		if _, err := dst.HeadObject(ctx, prefix); err == nil {
			continue
		} else if !errors.Is(err, data.ErrNotExist) {
			return err
		}

		mode := data.ModeDir | 0o755
		srcStat := fs.probeBranches(ctx, prefix, target)
		if srcStat != nil {
			mode = srcStat.Mode
		}

		if _, err := dst.MakeObject(ctx, prefix, mode); err != nil && !errors.Is(err, data.ErrExist) {
			return err
		}
		if srcStat != nil {
			if err := dst.SetObjectTimes(ctx, prefix, srcStat.AccessTime, srcStat.ModifyTime); err != nil {
				fs.log.Warn("copy-up dirs: preserve times on %s: %v", prefix, err)
			}
		}
	}
	return nil
}

// probeBranches finds the highest-priority node for a key on any branch
// other than the excluded one, nil when absent everywhere.
func (fs *UnionFS) probeBranches(ctx context.Context, key string, exclude int) *data.FileStat {
	for i := 0; i < fs.branches.Len(); i++ {
		if i == exclude {
			continue
		}
		storage, err := fs.branches.Storage(i)
		if err != nil {
			continue
		}
		if stat, err := storage.HeadObject(ctx, key); err == nil {
			return stat
		}
	}
	return nil
}

// copyContent streams a regular object's bytes between branches in
// copyBufSize chunks.
func (fs *UnionFS) copyContent(ctx context.Context, src, dst backend.ObjectStorage, key string, size int64) error {
	buf := make([]byte, fs.copyBufSize)
	var offset int64
	for offset < size {
		n, err := src.ReadObjectAt(ctx, key, offset, buf)
		if n > 0 {
			if _, werr := dst.WriteObjectAt(ctx, key, offset, buf[:n]); werr != nil {
				return werr
			}
			offset += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// refreshBranchStat re-reads a node's stat from one branch into the
// entry.
func (fs *UnionFS) refreshBranchStat(ctx context.Context, e *Entry, index int) error {
	storage, err := fs.branches.Storage(index)
	if err != nil {
		return err
	}
	stat, err := storage.HeadObject(ctx, branchKey(e.path))
	if err != nil {
		return err
	}
	e.setBranchStat(index, stat)
	return nil
}
