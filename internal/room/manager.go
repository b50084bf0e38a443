// Package room enforces the single-focus model: the viewer is in zero or one
// conversation room at a time. It only issues join/leave commands on the
// transport; it never registers listeners, so there is exactly one listener
// registration point in the sync layer.
package room

import (
	"log/slog"
	"sync"

	"chatsync/internal/domain"
)

// ReadMarker is the slice of the store the manager needs: joining a room
// marks its conversation as read.
type ReadMarker interface {
	MarkAsRead(id string)
}

// Manager tracks the active room and drives leave-before-join transitions
// from a stream of desired-room changes.
type Manager struct {
	mu        sync.Mutex
	commander domain.RoomCommander
	marker    ReadMarker
	logger    *slog.Logger
	current   string // "" means no room
}

func New(commander domain.RoomCommander, marker ReadMarker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{commander: commander, marker: marker, logger: logger}
}

// SetDesiredRoom moves focus to the given conversation. IDs arriving from
// routes may be URL-encoded; they are normalized before comparison, so an
// encoding difference never produces a spurious leave/join pair. An empty ID
// means "no room". Transitions are idempotent.
func (m *Manager) SetDesiredRoom(id string) {
	newID := domain.NormalizeConvID(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if newID == m.current {
		return
	}
	if m.current != "" {
		m.commander.LeaveConversation(m.current)
	}
	if newID != "" {
		m.commander.JoinConversation(newID)
		if m.marker != nil {
			m.marker.MarkAsRead(newID)
		}
	}
	m.logger.Debug("room transition", "from", m.current, "to", newID)
	m.current = newID
}

// Current returns the active room's conversation ID, or "" when unfocused.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close leaves the active room, if any. Called on sync-layer teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != "" {
		m.commander.LeaveConversation(m.current)
		m.current = ""
	}
}
