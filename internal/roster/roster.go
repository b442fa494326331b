// Package roster holds the configured set of agents. The roster is data, not code: it is read from
// <home>/roster.yaml and falls back to the built-in team when that file is absent.
package roster

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Roster is the agent roster. With Strict set, the bus rejects senders that are not listed.
type Roster struct {
	Strict bool           `yaml:"strict"`
	Agents []models.Agent `yaml:"agents"`
}

// Default returns the built-in five-member team.
func Default() *Roster {
	return &Roster{Agents: []models.Agent{
		{ID: "johnny", Name: "Johnny", Role: "Sales Expert", Color: "#ffbf00", Domains: []string{"sales logic", "leads", "customer engagement"}},
		{ID: "claude", Name: "Claude", Role: "Local Admin", Color: "#00ffd5", Domains: []string{"system administration", "VPS commands", "file operations"}},
		{ID: "replit", Name: "Replit", Role: "Tech Wizard", Color: "#a78bfa", Domains: []string{"code", "infrastructure", "APIs", "deployment"}},
		{ID: "lovable", Name: "Lovable", Role: "UI/UX Wizard", Color: "#ec4899", Domains: []string{"frontend design", "dashboards", "user experience"}},
		{ID: "petro", Name: "Petro", Role: "Owner", Color: "#10b981", Domains: []string{"strategic decisions", "approvals", "business direction"}},
	}}
}

// Path returns <home>/roster.yaml.
func Path(home string) string {
	return filepath.Join(home, "roster.yaml")
}

// Load reads the roster at path. A missing file yields Default().
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return &r, nil
}

// Save writes r to path as YAML.
func Save(path string, r *Roster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that every agent has a unique, non-empty id that is not the broadcast target.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Agents))
	for i, a := range r.Agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("agent %d: id required", i)
		}
		if id == models.TargetAll {
			return fmt.Errorf("agent id %q is reserved", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate agent id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// Lookup returns the agent with the given id.
func (r *Roster) Lookup(id string) (models.Agent, bool) {
	if r == nil {
		return models.Agent{}, false
	}
	for _, a := range r.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return models.Agent{}, false
}

// DisplayName returns the agent's name, or id itself when the agent is unknown or unnamed.
func (r *Roster) DisplayName(id string) string {
	if a, ok := r.Lookup(id); ok && a.Name != "" {
		return a.Name
	}
	return id
}

// Allows reports whether id may act as a sender. Non-strict rosters allow anyone.
func (r *Roster) Allows(id string) bool {
	if r == nil || !r.Strict {
		return true
	}
	_, ok := r.Lookup(id)
	return ok || id == models.SenderSystem
}

// IDs returns the agent ids sorted.
func (r *Roster) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		out = append(out, a.ID)
	}
	sort.Strings(out)
	return out
}
