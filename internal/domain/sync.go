package domain

import "time"

// SyncState is the per-device sync record for one remote endpoint. It is
// passed explicitly into the sync coordinator, never held as package state,
// so a device can track multiple sync targets.
type SyncState struct {
	DeviceID string `json:"device_id"`
	Endpoint string `json:"endpoint"`
	Enabled  bool   `json:"enabled"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	LastSequence int64     `json:"last_sequence"`
}

// Cursor returns the pull cursor encoded in the state.
func (s SyncState) Cursor() Cursor {
	return Cursor{Timestamp: s.LastSyncedAt, Sequence: s.LastSequence}
}

// Advance moves the state's cursor forward. Positions behind the current
// cursor are ignored so the cursor is monotonically non-decreasing.
func (s *SyncState) Advance(c Cursor) {
	if c.Before(s.Cursor()) {
		return
	}
	s.LastSyncedAt = c.Timestamp
	s.LastSequence = c.Sequence
}
