package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// runFiles are the files a running hub keeps next to its database under <home>/protected:
// the singleton lock, the pid, the listen addresses (HTTP first, then gRPC) and the background log.
type runFiles struct {
	dir string
}

func runFilesFor(home string) runFiles {
	return runFiles{dir: filepath.Join(home, "protected")}
}

func (f runFiles) lock() string { return filepath.Join(f.dir, "meetinghub.lock") }
func (f runFiles) pid() string  { return filepath.Join(f.dir, "meetinghub.pid") }
func (f runFiles) addr() string { return filepath.Join(f.dir, "meetinghub.addr") }
func (f runFiles) log() string  { return filepath.Join(f.dir, "meetinghub.log") }

func (f runFiles) ensureDir() error {
	return os.MkdirAll(f.dir, 0o755)
}

// record publishes pid and the listen addresses for Status. Empty addresses are skipped.
func (f runFiles) record(pid int, addrs ...string) error {
	if err := os.WriteFile(f.pid(), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	var b strings.Builder
	for _, a := range addrs {
		if a != "" {
			b.WriteString(a + "\n")
		}
	}
	return os.WriteFile(f.addr(), []byte(b.String()), 0o644)
}

func (f runFiles) clear() {
	_ = os.Remove(f.pid())
	_ = os.Remove(f.addr())
}

var errNoPID = errors.New("no pid recorded")

// recordedPID returns the pid written by record. A stale pid (no such process) is removed.
func (f runFiles) recordedPID() (int, error) {
	raw, err := os.ReadFile(f.pid())
	if err != nil {
		return 0, errNoPID
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, errNoPID
	}
	if !alive(pid) {
		_ = os.Remove(f.pid())
		return 0, errNoPID
	}
	return pid, nil
}

// recordedAddrs returns the HTTP and gRPC addresses; either may be empty.
func (f runFiles) recordedAddrs() (httpAddr, grpcAddr string) {
	raw, err := os.ReadFile(f.addr())
	if err != nil {
		return "", ""
	}
	lines := strings.Fields(string(raw))
	if len(lines) > 0 {
		httpAddr = lines[0]
	}
	if len(lines) > 1 {
		grpcAddr = lines[1]
	}
	return httpAddr, grpcAddr
}
