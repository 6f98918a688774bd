package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "audit_schedule.json"

// SiteState records the last audit run for one site.
type SiteState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	RunID          string    `json:"run_id,omitempty"`
	PagesAudited   int       `json:"pages_audited"`
	Verdicts       int       `json:"verdicts"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

type scheduleState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager persists the audit schedule across restarts so an interval
// is honored even when the process is bounced between runs.
type StateManager struct {
	stateDir  string
	statePath string
	state     scheduleState
	mu        sync.RWMutex
}

func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     scheduleState{Sites: make(map[string]SiteState)},
	}
}

// Load reads the schedule from disk. A missing file means a fresh start.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = scheduleState{Sites: make(map[string]SiteState)}
			return nil
		}
		return fmt.Errorf("reading schedule state: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("parsing schedule state: %w", err)
	}
	if m.state.Sites == nil {
		m.state.Sites = make(map[string]SiteState)
	}
	return nil
}

// Save writes the schedule to disk.
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schedule state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0o644); err != nil {
		return fmt.Errorf("writing schedule state: %w", err)
	}
	return nil
}

// SiteState returns the recorded state for a site.
func (m *StateManager) SiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// RecordRun updates a site's state after an audit run.
func (m *StateManager) RecordRun(siteKey string, state SiteState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.LastRunTime.IsZero() {
		state.LastRunTime = time.Now()
	}
	m.state.Sites[siteKey] = state
}

// Due reports whether a site's last run is older than the interval. Sites
// never run before are always due.
func (m *StateManager) Due(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return time.Since(state.LastRunTime) >= interval
}

// NextRunTime returns when the site should next be audited.
func (m *StateManager) NextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return state.LastRunTime.Add(interval)
}
