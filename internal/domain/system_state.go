// Package domain defines the core entities of the execution engine: the
// system state machine, signals, orders, positions, risk counters and the
// audit trail.
package domain

import (
	"fmt"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Mode & run status
// ──────────────────────────────────────────────────────────────────────────────

// Mode selects the execution venue.
type Mode string

const (
	ModeDemo Mode = "DEMO" // virtual wallet
	ModeLive Mode = "LIVE" // exchange adapter
)

// IsValid returns true if the mode is DEMO or LIVE.
func (m Mode) IsValid() bool {
	return m == ModeDemo || m == ModeLive
}

// RunStatus is the persisted status column of system_state.
type RunStatus string

const (
	StatusRunning RunStatus = "RUNNING"
	StatusPaused  RunStatus = "PAUSED"
	StatusHalted  RunStatus = "HALTED"
)

// ──────────────────────────────────────────────────────────────────────────────
// Phase: explicit state derived from the flat row
// ──────────────────────────────────────────────────────────────────────────────

// Phase is the effective state of the engine. It is derived from the flat
// columns of system_state so callers switch on one value instead of combining
// booleans.
type Phase string

const (
	PhaseLocked       Phase = "LOCKED"        // kill switch engaged
	PhaseAwaitingSync Phase = "AWAITING_SYNC" // startup sync missing or stale
	PhaseArmed        Phase = "ARMED"         // halted, clear to resume
	PhaseRunning      Phase = "RUNNING"
	PhasePaused       Phase = "PAUSED"
)

// ──────────────────────────────────────────────────────────────────────────────
// SystemState
// ──────────────────────────────────────────────────────────────────────────────

// SystemState is the singleton row gating all order placement. Version is
// bumped on every write so concurrent writers detect each other.
type SystemState struct {
	ID            int       `json:"-"               db:"id"`
	Mode          Mode      `json:"mode"            db:"mode"`
	Status        RunStatus `json:"status"          db:"status"`
	KillSwitch    bool      `json:"kill_switch"     db:"kill_switch"`
	StartupSyncOK bool      `json:"startup_sync_ok" db:"startup_sync_ok"`
	SyncedMode    *Mode     `json:"synced_mode"     db:"synced_mode"`
	Version       int64     `json:"version"         db:"version"`
	UpdatedAt     time.Time `json:"updated_at"      db:"updated_at"`
}

// NewInitialSystemState returns the fail-safe state a fresh store starts in.
func NewInitialSystemState() *SystemState {
	return &SystemState{
		ID:         1,
		Mode:       ModeDemo,
		Status:     StatusHalted,
		KillSwitch: true,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Phase derives the effective state. The kill switch dominates everything,
// then the sync gate, then the persisted status.
func (s *SystemState) Phase() Phase {
	switch {
	case s.KillSwitch:
		return PhaseLocked
	case !s.StartupSyncOK || s.NeedsResync():
		return PhaseAwaitingSync
	}
	switch s.Status {
	case StatusRunning:
		return PhaseRunning
	case StatusPaused:
		return PhasePaused
	default:
		return PhaseArmed
	}
}

// NeedsResync is true when the last successful sync validated a different
// mode than the one currently configured.
func (s *SystemState) NeedsResync() bool {
	return s.SyncedMode == nil || *s.SyncedMode != s.Mode
}

// Admits reports whether a signal of the given kind may be turned into an
// order. When it may not, reason explains why.
func (s *SystemState) Admits(kind SignalKind, pausedAllowClose bool) (ok bool, reason string) {
	switch s.Phase() {
	case PhaseRunning:
		return true, ""
	case PhasePaused:
		if kind == KindClose && pausedAllowClose {
			return true, ""
		}
		return false, "system is paused: opening signals are not accepted"
	case PhaseLocked:
		return false, "kill switch is engaged"
	case PhaseAwaitingSync:
		if s.StartupSyncOK {
			return false, fmt.Sprintf("mode %s has not been synced", s.Mode)
		}
		return false, "startup sync has not succeeded"
	default:
		return false, "system is halted"
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────────────────────────────────

// Resume moves HALTED or PAUSED to RUNNING. Requires a clear kill switch and
// a sync that matches the current mode.
func (s *SystemState) Resume() error {
	if s.KillSwitch {
		return ErrKillSwitchEngaged
	}
	if !s.StartupSyncOK || s.NeedsResync() {
		return ErrSyncRequired
	}
	if s.Status == StatusRunning {
		return fmt.Errorf("%w: already running", ErrInvalidTransition)
	}
	s.Status = StatusRunning
	return nil
}

// Pause moves RUNNING to PAUSED.
func (s *SystemState) Pause() error {
	if s.Status != StatusRunning {
		return fmt.Errorf("%w: pause requires RUNNING, status is %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusPaused
	return nil
}

// Halt moves RUNNING or PAUSED to HALTED.
func (s *SystemState) Halt() error {
	if s.Status == StatusHalted {
		return fmt.Errorf("%w: already halted", ErrInvalidTransition)
	}
	s.Status = StatusHalted
	return nil
}

// TripKillSwitch engages the kill switch and halts. Always allowed.
func (s *SystemState) TripKillSwitch() {
	s.KillSwitch = true
	s.Status = StatusHalted
}

// ClearKillSwitch releases the kill switch. The status stays HALTED; a
// separate Resume is required.
func (s *SystemState) ClearKillSwitch() error {
	if !s.KillSwitch {
		return fmt.Errorf("%w: kill switch is not engaged", ErrInvalidTransition)
	}
	s.KillSwitch = false
	s.Status = StatusHalted
	return nil
}

// MarkSynced records a successful sync for the current mode.
func (s *SystemState) MarkSynced() {
	m := s.Mode
	s.StartupSyncOK = true
	s.SyncedMode = &m
}

// MarkSyncFailed clears the sync gate and halts.
func (s *SystemState) MarkSyncFailed() {
	s.StartupSyncOK = false
	s.Status = StatusHalted
}

// SetMode switches the venue mode. The sync gate is cleared so the next
// signal cannot be accepted before a new sync.
func (s *SystemState) SetMode(m Mode) error {
	if !m.IsValid() {
		return ErrInvalidMode
	}
	if s.Mode == m {
		return fmt.Errorf("%w: mode is already %s", ErrInvalidTransition, m)
	}
	s.Mode = m
	s.MarkSyncFailed()
	return nil
}

// Summary renders the state for audit messages.
func (s *SystemState) Summary() string {
	return fmt.Sprintf("mode=%s status=%s kill_switch=%t startup_sync_ok=%t phase=%s",
		s.Mode, s.Status, s.KillSwitch, s.StartupSyncOK, s.Phase())
}
