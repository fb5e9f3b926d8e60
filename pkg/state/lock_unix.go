//go:build unix

package state

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"
)

// acquireLock takes an exclusive flock on path, waiting at most timeout.
// The blocking flock runs on its own goroutine so the caller can give up on
// ctx or the timeout; an abandoned attempt releases the lock as soon as it
// is granted. The returned func releases the lock.
func acquireLock(ctx context.Context, path, document string, timeout time.Duration) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, NewStorageError("file", "lock", document, err)
	}
	release := func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}

	start := time.Now()
	granted := make(chan error, 1)
	go func() {
		granted <- flockExclusive(f)
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	abandon := func() {
		go func() {
			if err := <-granted; err == nil {
				release()
				return
			}
			_ = f.Close()
		}()
	}

	select {
	case err := <-granted:
		if err != nil {
			_ = f.Close()
			return nil, NewStorageError("file", "lock", document, err)
		}
		return release, nil
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-deadline:
		abandon()
		return nil, &LockTimeoutError{Document: document, Waited: time.Since(start)}
	}
}

// flockExclusive blocks until the exclusive lock is granted, retrying when a
// signal interrupts the wait.
func flockExclusive(f *os.File) error {
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
		if !errors.Is(err, syscall.EINTR) {
			return err
		}
	}
}
