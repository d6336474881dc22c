package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devac/internal/logging"
)

// LockTimeout reports that the partition lock could not be acquired within
// the bounded wait. Nothing was modified; retrying is the caller's call.
type LockTimeout struct {
	Dir    string
	Waited time.Duration
	Holder string
}

func (e *LockTimeout) Error() string {
	return fmt.Sprintf("lock timeout: partition %s held by %s after %v", e.Dir, e.Holder, e.Waited)
}

// lockInfo is written into the lock file so a stuck lock names its owner.
type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Host       string    `json:"host"`
}

// staleAfter is how old a lock file must be before a waiter may break it.
// A writer holds the lock only for the duration of one serialize+rename
// pass, so anything this old belongs to a dead process.
const staleAfter = 5 * time.Minute

// dirLock is an exclusive, directory-scoped advisory lock backed by an
// O_CREATE|O_EXCL lock file.
type dirLock struct {
	path string
}

// acquireLock blocks until the partition lock is held, ctx is done, or
// timeout passes. On timeout it returns *LockTimeout and the partition is
// untouched.
func acquireLock(ctx context.Context, dir string, timeout, retry time.Duration) (*dirLock, error) {
	path := filepath.Join(dir, ".lock")
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			host, _ := os.Hostname()
			info := lockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC(), Host: host}
			data, _ := json.Marshal(info)
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", errFirst(werr, cerr))
			}
			return &dirLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		// Break locks left behind by dead writers.
		if info, serr := os.Stat(path); serr == nil && time.Since(info.ModTime()) > staleAfter {
			logging.Get(logging.CategoryStore).Warn("breaking stale lock %s (age %v)", path, time.Since(info.ModTime()))
			os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, &LockTimeout{Dir: dir, Waited: timeout, Holder: lockHolder(path)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

// release removes the lock file.
func (l *dirLock) release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logging.Get(logging.CategoryStore).Error("release lock %s: %v", l.path, err)
	}
}

// lockHolder describes the current lock owner for error messages.
func lockHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "unknown"
	}
	return fmt.Sprintf("pid %d on %s since %s", info.PID, info.Host, info.AcquiredAt.Format(time.RFC3339))
}

func errFirst(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
