package syncstatus

import "github.com/openscribe/syncd/internal/realtime"

type DerivedStatus string

const (
	StatusSynced       DerivedStatus = "synced"
	StatusSyncing      DerivedStatus = "syncing"
	StatusOffline      DerivedStatus = "offline"
	StatusReconnecting DerivedStatus = "reconnecting"
	StatusError        DerivedStatus = "error"
)

// Derive collapses the three sources of truth into one user-facing status.
// The priority order is fixed: an error wins over everything, transport state
// wins over backlog, backlog wins over local pending edits.
func Derive(raw realtime.SessionState, pending int, progress *realtime.ReconnectProgress, lastErr error) DerivedStatus {
	switch {
	case lastErr != nil:
		return StatusError
	case raw == realtime.StateOffline:
		return StatusOffline
	case raw == realtime.StateReconnecting:
		return StatusReconnecting
	case progress != nil && progress.TotalUpdates > 0 && progress.SyncedUpdates < progress.TotalUpdates:
		return StatusSyncing
	case pending > 0:
		return StatusSyncing
	default:
		return StatusSynced
	}
}
