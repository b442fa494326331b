package daemon

import "github.com/plfl21/openclaw-meeting-hub/internal/config"

// StartOptions configures the daemon (home, ports, storage, integrations).
type StartOptions struct {
	Home         string
	Port         int
	GRPCPort     int // 0 disables the gRPC listener
	Dev          bool
	PprofAddr    string
	DBDriver     string // "sqlite" (default) or "postgres"
	DBURL        string // for postgres: connection string (or DATABASE_URL env)
	APIKey       string
	RosterPath   string // defaults to <home>/roster.yaml
	StrictAgents bool   // reject senders missing from the roster
	// Kafka relay: enabled when at least one broker is set.
	KafkaBrokers    []string
	KafkaTopic      string
	SlackWebhookURL string // escalates critical messages and conflict flags when set
	EnableOtel      bool   // OpenTelemetry metrics (Prometheus exporter + otelhttp)
}

// OptionsFromSettings maps environment settings onto StartOptions for home.
func OptionsFromSettings(home string, s config.Settings) StartOptions {
	return StartOptions{
		Home:            home,
		Port:            s.Port,
		GRPCPort:        s.GRPCPort,
		Dev:             s.Dev,
		DBDriver:        s.DBDriver,
		DBURL:           s.DatabaseURL,
		APIKey:          s.APIKey,
		RosterPath:      s.Roster(home),
		StrictAgents:    s.StrictAgents,
		KafkaBrokers:    s.KafkaBrokers,
		KafkaTopic:      s.KafkaTopic,
		SlackWebhookURL: s.SlackWebhookURL,
		EnableOtel:      s.Metrics,
	}
}

// StatusInfo is the result of Status (running or not, PID, listen addrs).
type StatusInfo struct {
	Running  bool
	PID      int
	Addr     string
	GRPCAddr string
}
