package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every setting's environment variable, e.g. MEETINGHUB_PORT.
const EnvPrefix = "MEETINGHUB"

// Settings is the daemon's runtime configuration. Flags on `meetinghub start` override it.
type Settings struct {
	Port     int `envconfig:"PORT" default:"3847"`
	GRPCPort int `envconfig:"GRPC_PORT" default:"3848"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`

	// DatabaseURL is the postgres DSN. When empty, postgres.Open falls back to DATABASE_URL.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	APIKey       string `envconfig:"API_KEY"`
	RosterPath   string `envconfig:"ROSTER"`
	StrictAgents bool   `envconfig:"STRICT_AGENTS"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"meetinghub.events"`

	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`

	Metrics bool `envconfig:"METRICS" default:"true"`
	Dev     bool `envconfig:"DEV"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	switch strings.ToLower(s.DBDriver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid %s_DB_DRIVER %q: want sqlite or postgres", EnvPrefix, s.DBDriver)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid %s_PORT %d", EnvPrefix, s.Port)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("invalid %s_GRPC_PORT %d", EnvPrefix, s.GRPCPort)
	}
	return nil
}

// Roster returns the roster file path: RosterPath when set, else roster.yaml in home.
func (s Settings) Roster(home string) string {
	if s.RosterPath != "" {
		return s.RosterPath
	}
	return filepath.Join(home, "roster.yaml")
}
