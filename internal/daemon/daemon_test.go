package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/rpc"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestOpenCore_sqliteAndRoster(t *testing.T) {
	home := t.TempDir()
	rosterPath := filepath.Join(home, "team.yaml")
	yaml := "agents:\n  - id: ops\n    name: Ops Bot\n    role: Operator\n"
	if err := os.WriteFile(rosterPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	core, err := OpenCore(StartOptions{Home: home, RosterPath: rosterPath, StrictAgents: true})
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}
	defer func() { _ = core.Close() }()

	if !core.Roster.Strict {
		t.Error("StrictAgents should force a strict roster")
	}
	m, err := core.Neuron.Post(context.Background(), neuron.PostInput{SenderAgent: "ops", MessageType: "announcement", Subject: "hi"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.SenderName != "Ops Bot" {
		t.Errorf("sender name: %q", m.SenderName)
	}
	if _, err := core.Neuron.Post(context.Background(), neuron.PostInput{SenderAgent: "stranger", MessageType: "announcement", Subject: "hi"}); err == nil {
		t.Error("strict roster should reject unknown sender")
	}
}

func TestOpenCore_unknownDriver(t *testing.T) {
	if _, err := OpenCore(StartOptions{Home: t.TempDir(), DBDriver: "mysql"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOptionsFromSettings(t *testing.T) {
	s := config.Settings{Port: 4000, GRPCPort: 4001, DBDriver: "sqlite", KafkaBrokers: []string{"k:9092"}, KafkaTopic: "t", Metrics: true}
	o := OptionsFromSettings("/tmp/h", s)
	if o.Port != 4000 || o.GRPCPort != 4001 || !o.EnableOtel || o.KafkaTopic != "t" {
		t.Errorf("options: %+v", o)
	}
	if o.RosterPath != filepath.Join("/tmp/h", "roster.yaml") {
		t.Errorf("roster path: %q", o.RosterPath)
	}
}

func TestStatus_notRunning(t *testing.T) {
	st, err := Status(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if st.Running {
		t.Fatal("expected not running")
	}
	stopped, err := Stop(context.Background(), t.TempDir())
	if err != nil || stopped {
		t.Fatalf("Stop: stopped=%v err=%v", stopped, err)
	}
}

func TestStartForeground_servesHTTPAndGRPC(t *testing.T) {
	home := t.TempDir()
	opts := StartOptions{Home: home, Port: freePort(t), GRPCPort: freePort(t)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartForeground(ctx, opts) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", opts.Port)
	var up bool
	for i := 0; i < 100; i++ {
		resp, err := http.Get(base + "/health")
		if err == nil {
			_ = resp.Body.Close()
			up = resp.StatusCode == http.StatusOK
			if up {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !up {
		cancel()
		t.Fatal("daemon did not become healthy")
	}

	st, err := Status(ctx, home)
	if err != nil || !st.Running || st.PID != os.Getpid() {
		t.Errorf("Status: %+v err=%v", st, err)
	}
	if !strings.HasSuffix(st.GRPCAddr, fmt.Sprintf(":%d", opts.GRPCPort)) {
		t.Errorf("grpc addr: %q", st.GRPCAddr)
	}

	// Second instance must not start.
	if err := StartForeground(context.Background(), opts); err == nil {
		t.Error("second StartForeground should fail on the lock")
	}

	resp, err := http.Post(base+"/api/neuron/post", "application/json",
		strings.NewReader(`{"sender_agent":"replit","message_type":"announcement","subject":"hello","target_agent":"claude"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var env struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || env.Data.ID == "" {
		t.Fatalf("post: status %d id %q", resp.StatusCode, env.Data.ID)
	}

	c, err := rpc.Dial(fmt.Sprintf("127.0.0.1:%d", opts.GRPCPort))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	q, err := c.AgentQueue(rctx, "claude")
	rcancel()
	_ = c.Close()
	if err != nil || len(q) != 1 || q[0].ID != env.Data.ID {
		t.Errorf("grpc queue: %v err=%v", q, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("StartForeground: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(runFilesFor(home).pid()); !os.IsNotExist(err) {
		t.Errorf("pid file should be removed, stat err=%v", err)
	}
}

func TestRunFiles_recordAndStatus(t *testing.T) {
	home := t.TempDir()
	files := runFilesFor(home)
	if err := files.ensureDir(); err != nil {
		t.Fatal(err)
	}
	if err := files.record(os.Getpid(), "127.0.0.1:3847", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	st, err := Status(context.Background(), home)
	if err != nil || !st.Running || st.PID != os.Getpid() || st.Addr != "127.0.0.1:3847" || st.GRPCAddr != "" {
		t.Fatalf("Status: %+v err=%v", st, err)
	}
	files.clear()
	if st, _ := Status(context.Background(), home); st.Running {
		t.Fatal("cleared files should read as not running")
	}
}

func TestRunFiles_stalePIDIsDropped(t *testing.T) {
	files := runFilesFor(t.TempDir())
	if err := files.ensureDir(); err != nil {
		t.Fatal(err)
	}
	// Pids are well below this on every supported platform.
	if err := os.WriteFile(files.pid(), []byte("2147483646\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := files.recordedPID(); !errors.Is(err, errNoPID) {
		t.Fatalf("recordedPID: %v", err)
	}
	if _, err := os.Stat(files.pid()); !os.IsNotExist(err) {
		t.Fatalf("stale pid file should be removed, stat err=%v", err)
	}
}

func TestAcquireLock_reportsOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetinghub.lock")
	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	_, err = acquireLock(path)
	if err == nil || !strings.Contains(err.Error(), fmt.Sprintf("pid %d", os.Getpid())) {
		t.Fatalf("second acquire: %v", err)
	}
	first.release()
	again, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again.release()
}

func TestStartProfiler(t *testing.T) {
	p, err := startProfiler("")
	if err != nil || p != nil {
		t.Fatalf("empty addr: %v %v", p, err)
	}
	p, err = startProfiler("127.0.0.1:0")
	if err != nil {
		t.Fatalf("startProfiler: %v", err)
	}
	defer func() { _ = p.Close() }()
	resp, err := http.Get("http://" + p.Addr() + "/debug/pprof/cmdline")
	if err != nil {
		t.Fatalf("GET cmdline: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cmdline status %d", resp.StatusCode)
	}
	if _, err := startProfiler(p.Addr()); err == nil {
		t.Fatal("busy addr should fail")
	}
}
