package unionfs

import (
	"context"
	"errors"
	"path"

	"github.com/mwantia/unionfs/data"
)

// Entry is one logical path position in the merged namespace. It records,
// per branch index, whether the path is materialized there, and keeps
// bstart: the highest-priority branch with a real node. Entries carry the
// per-entry metadata lock tier.
type Entry struct {
	path string
	lock *rwLock

	// specialOpen is the classification-level open hook, installed when
	// the entry is recognized as a supported special kind.
	specialOpen specialOpenHook

	// stats and bstart are guarded by the entry lock.
	stats  []*data.FileStat
	bstart int
}

func newEntry(pathname string, branchCount int) *Entry {
	return &Entry{
		path:   pathname,
		lock:   newRWLock(),
		stats:  make([]*data.FileStat, branchCount),
		bstart: -1,
	}
}

// Path returns the entry's absolute path in the union namespace.
func (e *Entry) Path() string {
	return e.path
}

// topBranch returns bstart, the highest-priority branch holding a node,
// or -1 when nothing is materialized.
func (e *Entry) topBranch() int {
	return e.bstart
}

// statAt returns the node stat on a branch, nil when absent.
func (e *Entry) statAt(index int) *data.FileStat {
	if index < 0 || index >= len(e.stats) {
		return nil
	}
	return e.stats[index]
}

// topStat returns the stat of the top branch node.
func (e *Entry) topStat() *data.FileStat {
	return e.statAt(e.bstart)
}

// setBranchStat records a node on a branch and maintains the bstart
// invariant: bstart is always the lowest index with a present node.
func (e *Entry) setBranchStat(index int, stat *data.FileStat) {
	for index >= len(e.stats) {
		e.stats = append(e.stats, nil)
	}
	e.stats[index] = stat

	e.bstart = -1
	for i, st := range e.stats {
		if st != nil {
			e.bstart = i
			break
		}
	}
}

// dropBranch forgets the node on a branch.
func (e *Entry) dropBranch(index int) {
	if index < 0 || index >= len(e.stats) {
		return
	}
	e.setBranchStat(index, nil)
}

// lookupEntry resolves a path to its cached entry, probing every branch
// on first sight. Negative results are not cached.
func (fs *UnionFS) lookupEntry(ctx context.Context, pathname string) (*Entry, error) {
	pathname, err := normalizePath(pathname)
	if err != nil {
		return nil, err
	}

	fs.entryMu.Lock()
	if e, exists := fs.entries.Get(pathname); exists {
		fs.entryMu.Unlock()
		return e, nil
	}
	fs.entryMu.Unlock()

	// Probe branches outside the cache lock; backend stats may be slow.
	e := newEntry(pathname, fs.branches.Len())
	key := branchKey(pathname)
	for i := 0; i < fs.branches.Len(); i++ {
		storage, err := fs.branches.Storage(i)
		if err != nil {
			continue
		}
		stat, err := storage.HeadObject(ctx, key)
		if err != nil {
			if errors.Is(err, data.ErrNotExist) {
				continue
			}
			return nil, err
		}
		e.setBranchStat(i, stat)
	}

	if e.topBranch() < 0 {
		return nil, data.ErrNotExist
	}

	if top := e.topStat(); top.Mode.IsSpecial() {
		fs.installInitialCallbacks(e, top.Mode, e.topBranch())
	}

	fs.entryMu.Lock()
	defer fs.entryMu.Unlock()
	if cached, exists := fs.entries.Get(pathname); exists {
		return cached, nil // another thread won the race
	}
	fs.entries.Set(pathname, e)
	return e, nil
}

// parentEntry resolves the parent directory entry. The root has itself
// as parent.
func (fs *UnionFS) parentEntry(ctx context.Context, e *Entry) (*Entry, error) {
	if e.path == "/" {
		return e, nil
	}
	return fs.lookupEntry(ctx, path.Dir(e.path))
}

// invalidateEntry evicts a path from the entry cache.
func (fs *UnionFS) invalidateEntry(pathname string) {
	pathname, err := normalizePath(pathname)
	if err != nil {
		return
	}

	fs.entryMu.Lock()
	defer fs.entryMu.Unlock()
	fs.entries.Delete(pathname)
}
