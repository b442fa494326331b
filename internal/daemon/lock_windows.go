//go:build windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// hubLock is an exclusively created lock file holding the owner's pid. A lock left behind by a
// crashed hub is taken over once its pid is gone.
type hubLock struct {
	f    *os.File
	path string
}

func acquireLock(path string) (*hubLock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			return &hubLock{f: f, path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		raw, _ := os.ReadFile(path)
		if owner, _ := strconv.Atoi(strings.TrimSpace(string(raw))); owner > 0 && alive(owner) {
			return nil, fmt.Errorf("meetinghub is already running (pid %d holds %s)", owner, path)
		}
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("meetinghub lock %s is contended", path)
}

func (l *hubLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Close()
	_ = os.Remove(l.path)
}
