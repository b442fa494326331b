package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/meetinghub")
	if got := MustHomeFrom(ctx); got != "/meetinghub" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv(HomeEnv, "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".meetinghub")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestLoadSettings_defaults(t *testing.T) {
	for _, k := range []string{"PORT", "GRPC_PORT", "DB_DRIVER", "KAFKA_BROKERS", "KAFKA_TOPIC", "METRICS"} {
		t.Setenv(EnvPrefix+"_"+k, "")
		_ = os.Unsetenv(EnvPrefix + "_" + k)
	}
	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Port != 3847 || s.GRPCPort != 3848 || s.DBDriver != "sqlite" || !s.Metrics {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if s.KafkaTopic != "meetinghub.events" || len(s.KafkaBrokers) != 0 {
		t.Fatalf("unexpected kafka defaults: %+v", s)
	}
	if got := s.Roster("/h"); got != filepath.Join("/h", "roster.yaml") {
		t.Fatalf("Roster: got %q", got)
	}
}

func TestLoadSettings_env(t *testing.T) {
	t.Setenv("MEETINGHUB_PORT", "9000")
	t.Setenv("MEETINGHUB_DB_DRIVER", "postgres")
	t.Setenv("MEETINGHUB_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MEETINGHUB_ROSTER", "/etc/hub/roster.yaml")
	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Port != 9000 || s.DBDriver != "postgres" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if len(s.KafkaBrokers) != 2 || s.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("KafkaBrokers: %v", s.KafkaBrokers)
	}
	if got := s.Roster("/h"); got != "/etc/hub/roster.yaml" {
		t.Fatalf("Roster: got %q", got)
	}
}

func TestLoadSettings_invalidDriver(t *testing.T) {
	t.Setenv("MEETINGHUB_DB_DRIVER", "mysql")
	if _, err := LoadSettings(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
