//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// hubLock is an flock held for the life of the hub. The file keeps the owner's pid so a refused
// start can say who holds it; the kernel drops the lock if the hub dies.
type hubLock struct {
	f *os.File
}

func acquireLock(path string) (*hubLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		raw, _ := os.ReadFile(path)
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			owner := strings.TrimSpace(string(raw))
			if owner == "" {
				owner = "unknown"
			}
			return nil, fmt.Errorf("meetinghub is already running (pid %s holds %s)", owner, path)
		}
		return nil, err
	}
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	return &hubLock{f: f}, nil
}

func (l *hubLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Truncate(0)
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}
