package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/daemon"
)

// serverFlags are the settings `start` and the hidden `daemon` command accept as flags.
// A flag only wins over the environment when it was set explicitly.
type serverFlags struct {
	port       int
	grpcPort   int
	dev        bool
	pprofAddr  string
	dbDriver   string
	dbURL      string
	enableOtel bool
}

func (f *serverFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.port, "port", 3847, "HTTP port (env: MEETINGHUB_PORT)")
	cmd.Flags().IntVar(&f.grpcPort, "grpc-port", 3848, "gRPC port, 0 to disable (env: MEETINGHUB_GRPC_PORT)")
	cmd.Flags().BoolVar(&f.dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&f.pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&f.dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&f.dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&f.enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP instrumentation)")
}

func (f *serverFlags) options(cmd *cobra.Command) (daemon.StartOptions, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return daemon.StartOptions{}, err
	}
	opts := daemon.OptionsFromSettings(config.MustHomeFrom(cmd.Context()), s)
	changed := cmd.Flags().Changed
	if changed("port") {
		opts.Port = f.port
	}
	if changed("grpc-port") {
		opts.GRPCPort = f.grpcPort
	}
	if changed("dev") {
		opts.Dev = f.dev
	}
	if changed("db-driver") {
		opts.DBDriver = f.dbDriver
	}
	if changed("db-url") {
		opts.DBURL = f.dbURL
	}
	if changed("otel") {
		opts.EnableOtel = f.enableOtel
	}
	opts.PprofAddr = f.pprofAddr
	return opts, nil
}

func newStartCmd() *cobra.Command {
	var (
		flags      serverFlags
		foreground bool
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the meeting hub (HTTP API, SSE stream and gRPC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			api := fmt.Sprintf("http://localhost:%d", opts.Port)

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting meetinghub in foreground on %s\n", api)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "meetinghub started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
