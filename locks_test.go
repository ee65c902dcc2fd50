package unionfs

import (
	"testing"
	"time"
)

func TestLockDowngradeAdmitsReaders(t *testing.T) {
	l := newRWLock()
	l.lockExclusive()
	l.downgrade()

	acquired := make(chan struct{})
	go func() {
		l.lockShared()
		close(acquired)
		l.unlockShared()
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("reader blocked after downgrade")
	}

	l.unlockShared()
	if !l.idle() {
		t.Fatal("lock not idle after release")
	}
}

func TestLockDowngradeExcludesWriters(t *testing.T) {
	l := newRWLock()
	l.lockExclusive()
	l.downgrade()

	acquired := make(chan struct{})
	go func() {
		l.lockExclusive()
		close(acquired)
		l.unlockExclusive()
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired while downgraded shared lock held")
	case <-time.After(50 * time.Millisecond):
	}

	l.unlockShared()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired after release")
	}
}

func TestGuardReleaseIdempotent(t *testing.T) {
	fs := New(WithoutTerminalLog())

	sg := fs.lockSuperExclusive()
	sg.Release()
	sg.Release()
	if !fs.superLock.idle() {
		t.Fatal("superblock lock not idle after double release")
	}

	e := newEntry("/x", 1)
	of := newOpenFile(e, 0)

	sg = fs.lockSuperShared()
	fg := sg.LockFile(of, true)
	eg := fg.LockEntry(e, false)

	eg.Release()
	eg.Release()
	fg.Release()
	fg.Release()
	sg.Release()
	sg.Release()

	if !fs.superLock.idle() || !of.lock.idle() || !e.lock.idle() {
		t.Fatal("locks not idle after guard releases")
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	fs := New(WithoutTerminalLog())
	e := newEntry("/x", 1)
	of := newOpenFile(e, 0)

	sg := fs.lockSuperShared()
	fg := sg.LockFile(of, true)
	eg := fg.LockEntry(e, false)

	resume := fs.suspendLocks(sg, fg, eg)
	if !fs.superLock.idle() || !of.lock.idle() || !e.lock.idle() {
		t.Fatal("locks still held while suspended")
	}

	sg, fg, eg = resume()
	if fs.superLock.idle() || of.lock.idle() || e.lock.idle() {
		t.Fatal("locks not reacquired by resume")
	}

	eg.Release()
	fg.Release()
	sg.Release()
	if !fs.superLock.idle() || !of.lock.idle() || !e.lock.idle() {
		t.Fatal("locks not idle after final release")
	}
}
