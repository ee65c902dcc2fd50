package unionfs

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"

	"github.com/mwantia/unionfs/data"
)

// Lookup resolves a path and reports the branch index holding its top
// node together with that node's stat.
func (fs *UnionFS) Lookup(ctx context.Context, pathname string) (int, *data.FileStat, error) {
	if err := fs.requireBranches(); err != nil {
		return -1, nil, err
	}

	sg := fs.lockSuperShared()
	defer sg.Release()

	e, err := fs.lookupEntry(ctx, pathname)
	if err != nil {
		return -1, nil, err
	}

	eg := sg.LockEntry(e, false)
	defer eg.Release()

	return e.topBranch(), e.topStat(), nil
}

// Stat returns the stat of a path's top node.
func (fs *UnionFS) Stat(ctx context.Context, pathname string) (*data.FileStat, error) {
	_, stat, err := fs.Lookup(ctx, pathname)
	return stat, err
}

// ReadDir returns the merged listing of a directory: children from
// every branch, with higher-priority branches shadowing same-named
// children below. The result is sorted by key.
func (fs *UnionFS) ReadDir(ctx context.Context, pathname string) ([]*data.FileStat, error) {
	if err := fs.requireBranches(); err != nil {
		return nil, err
	}

	pathname, err := normalizePath(pathname)
	if err != nil {
		return nil, err
	}

	sg := fs.lockSuperShared()
	defer sg.Release()

	e, err := fs.lookupEntry(ctx, pathname)
	if err != nil {
		return nil, err
	}

	eg := sg.LockEntry(e, false)
	if top := e.topStat(); top == nil || !top.Mode.IsDir() {
		eg.Release()
		return nil, data.ErrNotDirectory
	}
	eg.Release()

	key := branchKey(pathname)
	merged := make(map[string]*data.FileStat)
	found := false
	for i := 0; i < fs.branches.Len(); i++ {
		storage, err := fs.branches.Storage(i)
		if err != nil {
			continue
		}
		children, err := storage.ListObjects(ctx, key)
		if err != nil {
			if errors.Is(err, data.ErrNotExist) || errors.Is(err, data.ErrNotDirectory) {
				continue
			}
			return nil, err
		}
		found = true
		for _, child := range children {
			if _, shadowed := merged[child.Key]; !shadowed {
				merged[child.Key] = child
			}
		}
	}
	if !found {
		return nil, data.ErrNotExist
	}

	result := make([]*data.FileStat, 0, len(merged))
	for _, stat := range merged {
		result = append(result, stat)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Mkdir creates a directory on the highest-priority writable branch,
// materializing missing ancestors there first.
func (fs *UnionFS) Mkdir(ctx context.Context, pathname string, perm data.FileMode) error {
	_, err := fs.makeNode(ctx, pathname, data.ModeDir|perm.Perm())
	return err
}

// Mknod creates a named pipe on the highest-priority writable branch
// and registers its special open hook. Only FIFOs can be created;
// devices and sockets have no I/O path in the union layer.
func (fs *UnionFS) Mknod(ctx context.Context, pathname string, mode data.FileMode) error {
	if !mode.IsNamedPipe() {
		return data.ErrNotSupported
	}
	e, err := fs.makeNode(ctx, pathname, mode)
	if err != nil {
		return err
	}
	fs.installInitialCallbacks(e, mode, e.topBranch())
	return nil
}

// makeNode creates a node of the given mode on the first writable
// branch and returns its fresh entry.
func (fs *UnionFS) makeNode(ctx context.Context, pathname string, mode data.FileMode) (*Entry, error) {
	if err := fs.requireBranches(); err != nil {
		return nil, err
	}

	pathname, err := normalizePath(pathname)
	if err != nil {
		return nil, err
	}

	sg := fs.lockSuperShared()
	defer sg.Release()

	return fs.makeNodeLocked(ctx, sg, pathname, mode)
}

// Unlink removes a path from every writable branch holding it. A node
// that also exists on a read-only branch cannot be fully removed and
// the call fails with ErrReadOnly after deleting the writable copies.
func (fs *UnionFS) Unlink(ctx context.Context, pathname string) error {
	if err := fs.requireBranches(); err != nil {
		return err
	}

	pathname, err := normalizePath(pathname)
	if err != nil {
		return err
	}

	sg := fs.lockSuperShared()
	defer sg.Release()

	e, err := fs.lookupEntry(ctx, pathname)
	if err != nil {
		return err
	}

	eg := sg.LockEntry(e, true)
	defer eg.Release()
	defer fs.invalidateEntry(pathname)

	key := branchKey(pathname)
	var blocked bool
	for i := 0; i < fs.branches.Len(); i++ {
		if e.statAt(i) == nil {
			continue
		}
		if !fs.branches.Writable(i) {
			blocked = true
			continue
		}
		storage, err := fs.branches.Storage(i)
		if err != nil {
			return err
		}
		if err := storage.DeleteObject(ctx, key, false); err != nil && !errors.Is(err, data.ErrNotExist) {
			return err
		}
		e.dropBranch(i)
	}

	if blocked {
		return data.ErrReadOnly
	}
	return nil
}

// ReadFile reads a regular file's entire content through its top node.
func (fs *UnionFS) ReadFile(ctx context.Context, pathname string) ([]byte, error) {
	if err := fs.requireBranches(); err != nil {
		return nil, err
	}

	sg := fs.lockSuperShared()
	defer sg.Release()

	e, err := fs.lookupEntry(ctx, pathname)
	if err != nil {
		return nil, err
	}

	eg := sg.LockEntry(e, false)
	defer eg.Release()

	stat := e.topStat()
	if stat == nil {
		return nil, data.ErrNotExist
	}
	if stat.Mode.IsDir() {
		return nil, data.ErrIsDirectory
	}
	if !stat.Mode.IsRegular() {
		return nil, data.ErrNotSupported
	}

	storage, err := fs.branches.Storage(e.topBranch())
	if err != nil {
		return nil, err
	}

	buf := make([]byte, stat.Size)
	var offset int64
	for offset < stat.Size {
		n, err := storage.ReadObjectAt(ctx, branchKey(e.path), offset, buf[offset:])
		if n > 0 {
			offset += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return buf[:offset], nil
}

// WriteFile replaces a regular file's content, creating it when absent.
// A file whose top node sits on a read-only branch is copied up first,
// so the write always lands on writable storage.
func (fs *UnionFS) WriteFile(ctx context.Context, pathname string, content []byte, mode data.FileMode) error {
	if err := fs.requireBranches(); err != nil {
		return err
	}

	pathname, err := normalizePath(pathname)
	if err != nil {
		return err
	}

	sg := fs.lockSuperShared()
	defer sg.Release()

	e, err := fs.lookupEntry(ctx, pathname)
	if errors.Is(err, data.ErrNotExist) {
		e, err = fs.makeNodeLocked(ctx, sg, pathname, mode.Perm())
	}
	if err != nil {
		return err
	}

	eg := sg.LockEntry(e, true)
	defer eg.Release()

	stat := e.topStat()
	if stat == nil {
		return data.ErrNotExist
	}
	if !stat.Mode.IsRegular() {
		return data.ErrNotSupported
	}

	target := e.topBranch()
	if !fs.branches.Writable(target) {
		target = fs.pickCopyUpBranch()
		if target < 0 {
			return data.ErrReadOnly
		}
		if err := fs.copyUp(ctx, sg, e, target); err != nil {
			return err
		}
	}

	storage, err := fs.branches.Storage(target)
	if err != nil {
		return err
	}

	key := branchKey(pathname)
	if err := storage.TruncateObject(ctx, key, 0); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := storage.WriteObjectAt(ctx, key, 0, content); err != nil {
			return err
		}
	}
	return fs.refreshBranchStat(ctx, e, target)
}

// makeNodeLocked is makeNode for callers already holding the superblock
// guard.
func (fs *UnionFS) makeNodeLocked(ctx context.Context, sg *SuperGuard, pathname string, mode data.FileMode) (*Entry, error) {
	target := fs.pickCopyUpBranch()
	if target < 0 {
		return nil, data.ErrReadOnly
	}
	storage, err := fs.branches.Storage(target)
	if err != nil {
		return nil, err
	}
	if err := fs.materializeAncestors(ctx, pathname, target); err != nil {
		return nil, err
	}
	if _, err := storage.MakeObject(ctx, branchKey(pathname), mode); err != nil {
		return nil, err
	}
	fs.invalidateEntry(pathname)
	fs.invalidateEntry(path.Dir(pathname))
	return fs.lookupEntry(ctx, pathname)
}
