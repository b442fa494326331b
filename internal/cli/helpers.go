package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/plfl21/openclaw-meeting-hub/internal/config"
	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/daemon"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// openCore opens the store under the resolved home with the environment's settings.
// Data commands work without a running daemon.
func openCore(cmd *cobra.Command) (*coord.Core, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	home := config.MustHomeFrom(cmd.Context())
	return daemon.OpenCore(daemon.OptionsFromSettings(home, s))
}

// withCore runs fn against a freshly opened core and closes it afterwards.
func withCore(cmd *cobra.Command, fn func(c *coord.Core) error) error {
	c, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// emit prints v as indented JSON under --json, otherwise calls text.
func emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if wantJSON(cmd) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

var (
	critical = color.New(color.FgRed, color.Bold)
	high     = color.New(color.FgYellow)
	low      = color.New(color.FgHiBlack)
)

// paint colors a priority label; unknown and normal priorities print plain.
func paint(priority string) string {
	label := strings.ToUpper(priority)
	switch priority {
	case string(models.PriorityCritical):
		return critical.Sprint(label)
	case string(models.PriorityHigh):
		return high.Sprint(label)
	case string(models.PriorityLow):
		return low.Sprint(label)
	}
	return label
}

func printMessage(w io.Writer, m models.Message) {
	ack := ""
	if m.Acknowledged {
		ack = " (ack " + deref(m.AcknowledgedBy) + ")"
	}
	_, _ = fmt.Fprintf(w, "%s  %-8s %-16s %s -> %s  #%s  %s%s\n",
		m.CreatedAt.Local().Format("01-02 15:04"), paint(string(m.Priority)), m.MessageType,
		m.SenderAgent, m.TargetAgent, m.Channel, m.Subject, ack)
	_, _ = fmt.Fprintf(w, "    id %s\n", m.ID)
}

func printTask(w io.Writer, t models.Task) {
	_, _ = fmt.Fprintf(w, "%s  %-8s %-11s %-10s %s\n", t.ID, paint(string(t.Priority)), t.Status, deref(t.AssignedTo), t.Title)
}
