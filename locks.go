package unionfs

import "sync"

// rwLock is a reader/writer lock with an exclusive-to-shared downgrade,
// which sync.RWMutex does not offer. Readers and the single writer
// coordinate through one condition variable; fairness is best effort.
type rwLock struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers int
	writer  bool
}

func newRWLock() *rwLock {
	l := &rwLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *rwLock) lockShared() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.writer {
		l.cond.Wait()
	}
	l.readers++
}

func (l *rwLock) unlockShared() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readers--
	l.cond.Broadcast()
}

func (l *rwLock) lockExclusive() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.writer || l.readers > 0 {
		l.cond.Wait()
	}
	l.writer = true
}

func (l *rwLock) unlockExclusive() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer = false
	l.cond.Broadcast()
}

// downgrade atomically converts the held exclusive lock into a shared
// one: no writer can slip in between.
func (l *rwLock) downgrade() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer = false
	l.readers++
	l.cond.Broadcast()
}

// idle reports whether nothing holds the lock. Test helper.
func (l *rwLock) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return !l.writer && l.readers == 0
}

// The union layer holds up to three lock tiers, always acquired in the
// order superblock, open file, directory entry, and released in reverse.
// Each tier has a guard type, and a guard can only be obtained through
// the guard of the tier above it, so misordered acquisition does not
// compile. Release is idempotent, which keeps error paths simple.

// SuperGuard holds the superblock-wide lock.
type SuperGuard struct {
	fs        *UnionFS
	exclusive bool
	held      bool
}

// lockSuperShared takes the superblock lock shared, waiting out any
// administrative writer.
func (fs *UnionFS) lockSuperShared() *SuperGuard {
	fs.superLock.lockShared()
	return &SuperGuard{fs: fs, held: true}
}

// lockSuperSharedNoFlush is the reacquire-path variant: it skips the
// flush barrier a fresh shared acquisition implies, because the caller
// held the lock moments ago and only dropped it around a delegated call.
func (fs *UnionFS) lockSuperSharedNoFlush() *SuperGuard {
	fs.superLock.lockShared()
	return &SuperGuard{fs: fs, held: true}
}

// lockSuperExclusive takes the superblock lock exclusively, for branch
// management.
func (fs *UnionFS) lockSuperExclusive() *SuperGuard {
	fs.superLock.lockExclusive()
	return &SuperGuard{fs: fs, exclusive: true, held: true}
}

func (g *SuperGuard) Release() {
	if g == nil || !g.held {
		return
	}
	g.held = false
	if g.exclusive {
		g.fs.superLock.unlockExclusive()
	} else {
		g.fs.superLock.unlockShared()
	}
}

// FileGuard holds one open file's lock. Obtainable only under a
// SuperGuard.
type FileGuard struct {
	of        *OpenFile
	exclusive bool
	held      bool
}

func (g *SuperGuard) LockFile(of *OpenFile, exclusive bool) *FileGuard {
	if exclusive {
		of.lock.lockExclusive()
	} else {
		of.lock.lockShared()
	}
	return &FileGuard{of: of, exclusive: exclusive, held: true}
}

func (g *FileGuard) Release() {
	if g == nil || !g.held {
		return
	}
	g.held = false
	if g.exclusive {
		g.of.lock.unlockExclusive()
	} else {
		g.of.lock.unlockShared()
	}
}

// EntryGuard holds one directory entry's metadata lock. Obtainable under
// a FileGuard, or directly under a SuperGuard for paths that carry no
// open file (copy-up of parents).
type EntryGuard struct {
	entry     *Entry
	exclusive bool
	held      bool
}

func lockEntry(e *Entry, exclusive bool) *EntryGuard {
	if exclusive {
		e.lock.lockExclusive()
	} else {
		e.lock.lockShared()
	}
	return &EntryGuard{entry: e, exclusive: exclusive, held: true}
}

func (g *FileGuard) LockEntry(e *Entry, exclusive bool) *EntryGuard {
	return lockEntry(e, exclusive)
}

func (g *SuperGuard) LockEntry(e *Entry, exclusive bool) *EntryGuard {
	return lockEntry(e, exclusive)
}

// Downgrade converts a held exclusive entry guard into a shared one
// without letting a writer in between.
func (g *EntryGuard) Downgrade() {
	if !g.held || !g.exclusive {
		return
	}
	g.entry.lock.downgrade()
	g.exclusive = false
}

func (g *EntryGuard) Release() {
	if g == nil || !g.held {
		return
	}
	g.held = false
	if g.exclusive {
		g.entry.lock.unlockExclusive()
	} else {
		g.entry.lock.unlockShared()
	}
}

// suspendLocks releases the held guards in reverse acquisition order
// (entry, file, superblock) ahead of a delegated call that may block
// arbitrarily long. The returned resume function reacquires all three in
// hierarchy order and must run on every exit path.
func (fs *UnionFS) suspendLocks(sg *SuperGuard, fg *FileGuard, eg *EntryGuard) func() (*SuperGuard, *FileGuard, *EntryGuard) {
	of := fg.of
	entry := eg.entry

	eg.Release()
	fg.Release()
	sg.Release()

	return func() (*SuperGuard, *FileGuard, *EntryGuard) {
		nsg := fs.lockSuperSharedNoFlush()
		nfg := nsg.LockFile(of, true)
		neg := nfg.LockEntry(entry, false)
		return nsg, nfg, neg
	}
}
