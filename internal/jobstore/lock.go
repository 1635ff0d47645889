package jobstore

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// fileLock is a per-path advisory lock backed by flock(2) on a dedicated
// ".lock" file, kept distinct from the data file so the lock's lifetime is
// orthogonal to the data file's write-tmp-then-rename cycle.
type fileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newFileLock(dataPath string) *fileLock {
	return &fileLock{path: dataPath + ".lock"}
}

// lockExclusive acquires an exclusive lock, blocking until available. Used
// by save.
func (l *fileLock) lockExclusive() error {
	return l.lock(unix.LOCK_EX)
}

// lockShared acquires a shared lock, blocking until available. Used by load.
// Across processes shared holders do not block each other; within this
// process the per-job mutex held until unlock serializes every locker.
func (l *fileLock) lockShared() error {
	return l.lock(unix.LOCK_SH)
}

func (l *fileLock) lock(how int) error {
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		l.mu.Unlock()
		return err
	}

	l.file = f
	return nil
}

// unlock releases the lock and removes the lock file.
func (l *fileLock) unlock() error {
	if l.file == nil {
		return nil
	}

	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	os.Remove(l.path)

	l.file = nil
	l.mu.Unlock()
	return nil
}
