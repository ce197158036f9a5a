package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// EnvInheritLock names the descriptor of an instance lock handed to a
// detached child.
const EnvInheritLock = "DITTOLOG_LOCK_FD"

// ErrAlreadyRunning is returned when another process holds the instance lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// InstanceLock is an exclusive flock on a pid file.
//
// The lock belongs to the open file description, so a child that inherits
// the descriptor keeps holding it after the parent exits.
type InstanceLock struct {
	path string
	f    *os.File
}

// AcquireLock creates path if needed, locks it without blocking and writes the
// current pid into it.
func AcquireLock(path string) (*InstanceLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is locked", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	l := &InstanceLock{path: path, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

// InheritedLock adopts a lock passed through EnvInheritLock. It returns false
// when the variable is not set.
func InheritedLock(path string) (*InstanceLock, bool, error) {
	value, ok := os.LookupEnv(EnvInheritLock)
	if !ok || value == "" {
		return nil, false, nil
	}
	_ = os.Unsetenv(EnvInheritLock)

	fd, err := strconv.Atoi(value)
	if err != nil || fd < 0 {
		return nil, true, fmt.Errorf("invalid lock descriptor %q", value)
	}
	unix.CloseOnExec(fd)

	l := &InstanceLock{path: path, f: os.NewFile(uintptr(fd), path)}
	if err := l.writePID(); err != nil {
		_ = l.Close()
		return nil, true, err
	}
	return l, true, nil
}

func (l *InstanceLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to write lock file %s: %w", l.path, err)
	}
	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("failed to write lock file %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file location.
func (l *InstanceLock) Path() string {
	return l.path
}

// File returns the locked file for exec.Cmd.ExtraFiles.
func (l *InstanceLock) File() *os.File {
	return l.f
}

// Close drops this process' descriptor without unlocking, leaving the lock to
// any process that inherited it.
func (l *InstanceLock) Close() error {
	return l.f.Close()
}

// Release removes the lock file and unlocks it.
func (l *InstanceLock) Release() error {
	// Removing first keeps a new instance from locking a file about to vanish.
	removeErr := os.Remove(l.path)
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return errors.Join(removeErr, unlockErr, l.f.Close())
}
