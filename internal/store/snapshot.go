package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/pkg/schema"
)

// Snapshots keeps the dev in-memory store on disk between restarts, one JSON
// file per table.
type Snapshots struct {
	Dir string
	mu  sync.Mutex
}

// NewSnapshots ensures dir exists.
func NewSnapshots(dir string) (*Snapshots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Snapshots{Dir: dir}, nil
}

type tables struct {
	Profiles      []schema.Profile
	Activities    []schema.ActivityLog
	Reports       []schema.AIReport
	Subscriptions []schema.Subscription
	Sessions      []schema.RecoverySession
	Usage         []schema.UsageEvent
}

func (t *tables) files() map[string]any {
	return map[string]any{
		"profiles":      &t.Profiles,
		"activities":    &t.Activities,
		"reports":       &t.Reports,
		"subscriptions": &t.Subscriptions,
		"sessions":      &t.Sessions,
		"usage":         &t.Usage,
	}
}

// writeFile replaces path atomically: either the old file or the new one
// survives a crash, never a torn write.
func writeFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Save writes every table of m.
func (s *Snapshots) Save(m *Memory) error {
	t := m.export()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range t.files() {
		if err := writeFile(filepath.Join(s.Dir, name+".json"), v); err != nil {
			return fmt.Errorf("snapshot %s: %w", name, err)
		}
	}
	return nil
}

// Load fills m from the snapshot files. Missing files are skipped; unreadable
// ones are logged and skipped.
func (s *Snapshots) Load(m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.WithComponent("store")
	var t tables
	for name, v := range t.files() {
		b, err := os.ReadFile(filepath.Join(s.Dir, name+".json"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str("table", name).Msg("Could not read snapshot")
			continue
		}
		if err := json.Unmarshal(b, v); err != nil {
			logger.Warn().Err(err).Str("table", name).Msg("Could not decode snapshot")
			continue
		}
	}
	m.restore(t)
	return nil
}

func (m *Memory) export() tables {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var t tables
	for _, p := range m.profiles {
		t.Profiles = append(t.Profiles, p)
	}
	for _, s := range m.subscriptions {
		t.Subscriptions = append(t.Subscriptions, s)
	}
	for _, list := range m.activities {
		t.Activities = append(t.Activities, list...)
	}
	for _, list := range m.reports {
		t.Reports = append(t.Reports, list...)
	}
	for _, list := range m.sessions {
		t.Sessions = append(t.Sessions, list...)
	}
	for _, list := range m.usage {
		t.Usage = append(t.Usage, list...)
	}
	return t
}

// restore adds the rows of t to m, keeping their order per user.
func (m *Memory) restore(t tables) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range t.Profiles {
		m.profiles[p.ID] = p
	}
	for _, s := range t.Subscriptions {
		m.subscriptions[s.UserID] = s
	}
	for _, a := range t.Activities {
		m.activities[a.UserID] = append(m.activities[a.UserID], a)
	}
	for _, r := range t.Reports {
		m.reports[r.UserID] = append(m.reports[r.UserID], r)
	}
	for _, s := range t.Sessions {
		m.sessions[s.UserID] = append(m.sessions[s.UserID], s)
	}
	for _, e := range t.Usage {
		m.usage[e.UserID] = append(m.usage[e.UserID], e)
	}
}
