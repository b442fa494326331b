package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
)

func newApikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the key that protects the HTTP API",
	}
	cmd.AddCommand(newApikeyGenerateCmd())
	return cmd
}

// appendEnv appends KEY=value to path, creating it with owner-only permissions.
func appendEnv(path, key, value string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%s=%s\n", key, value); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func newApikeyGenerateCmd() *cobra.Command {
	var (
		envFile string
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key := hex.EncodeToString(b)
			envKey := config.EnvPrefix + "_API_KEY"

			out := cmd.OutOrStdout()
			if quiet {
				_, _ = fmt.Fprintln(out, key)
			} else {
				_, _ = fmt.Fprintf(out, "API key:\n\n  %s\n\n", key)
			}
			if envFile != "" {
				if err := appendEnv(envFile, envKey, key); err != nil {
					return err
				}
				if !quiet {
					_, _ = fmt.Fprintf(out, "Appended %s to %s; run: meetinghub start --env-file %s\n", envKey, envFile, envFile)
				}
				return nil
			}
			if !quiet {
				_, _ = fmt.Fprintf(out, "Server: export %s=<key>\n", envKey)
				_, _ = fmt.Fprintln(out, "Clients: send header X-API-Key: <key> (or ?api_key=<key>); /health and /metrics stay open")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Append the key to this env file (e.g. .env)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the key")
	return cmd
}
