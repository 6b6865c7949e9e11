package discovery

import (
	"sync"
	"time"
)

// LoopState is a snapshot of the discovery loop lifecycle. The version
// counter bumps on every mutation so pollers can detect staleness.
type LoopState struct {
	Running         bool   `json:"running"`
	StopRequested   bool   `json:"stop_requested"`
	Runs            int    `json:"runs"`
	Discovered      int    `json:"discovered"`
	LastStartedAt   string `json:"last_started_at,omitempty"`
	LastCompletedAt string `json:"last_completed_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	Version         int    `json:"version"`
	LastReason      string `json:"last_reason,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// StateManager coordinates the loop's status across the running loop, the
// stop endpoint, and the stats endpoint.
type StateManager struct {
	mu    sync.Mutex
	state LoopState
}

func NewStateManager() *StateManager {
	return &StateManager{}
}

func stateNow() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// MarkStarted flips the loop to running and clears any prior stop request
// and outcome.
func (m *StateManager) MarkStarted() LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := stateNow()
	m.state.Running = true
	m.state.StopRequested = false
	m.state.Runs = 0
	m.state.Discovered = 0
	m.state.LastStartedAt = now
	m.state.UpdatedAt = now
	m.state.Version++
	m.state.LastReason = ""
	m.state.LastError = ""
	return m.state
}

// UpdateProgress records page and discovery counts mid-loop.
func (m *StateManager) UpdateProgress(runs, discovered int) LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Runs = max(0, runs)
	m.state.Discovered = max(0, discovered)
	m.state.UpdatedAt = stateNow()
	m.state.Version++
	return m.state
}

// RequestStop asks a running loop to stop before its next page. A no-op
// when nothing is running.
func (m *StateManager) RequestStop() LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Running {
		m.state.StopRequested = true
		m.state.UpdatedAt = stateNow()
		m.state.Version++
	}
	return m.state
}

// StopRequested is the cooperative cancellation check made between pages.
func (m *StateManager) StopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.StopRequested
}

// MarkCompleted records the loop outcome. An empty reason derives one from
// the stop flag; errMsg marks the run as failed.
func (m *StateManager) MarkCompleted(runs, discovered int, reason, errMsg string) LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason == "" {
		switch {
		case errMsg != "":
			reason = "error"
		case m.state.StopRequested:
			reason = "stopped"
		default:
			reason = "completed"
		}
	}
	now := stateNow()
	m.state.Running = false
	m.state.StopRequested = false
	m.state.Runs = max(0, runs)
	m.state.Discovered = max(0, discovered)
	m.state.LastCompletedAt = now
	m.state.UpdatedAt = now
	m.state.Version++
	m.state.LastReason = reason
	m.state.LastError = errMsg
	return m.state
}

// Snapshot returns the current state.
func (m *StateManager) Snapshot() LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
