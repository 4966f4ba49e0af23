package activity

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/splax/teambuilder/internal/ws"
	"github.com/splax/teambuilder/pkg/logger"
)

// Event types published to streaming subscribers.
const (
	TeamCreated    = "team.created"
	TeamRenamed    = "team.renamed"
	TeamDeleted    = "team.deleted"
	ProfileCreated = "profile.created"
	ProfileDeleted = "profile.deleted"
)

// Event is one activity notification.
type Event struct {
	Type      string    `json:"type"`
	ProfileID string    `json:"profile_id"`
	TeamID    string    `json:"team_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block or fail the caller.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

// Service broadcasts activity to websocket and SSE subscribers.
type Service struct {
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs an activity service.
func New(hub *ws.Hub, log *slog.Logger) Service {
	return Service{hub: hub, logger: logger.OrDiscard(log)}
}

// Publish stamps and broadcasts the event on its profile topic.
func (s Service) Publish(event Event) {
	if s.hub == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal activity payload", "error", err)
		return
	}
	if !s.hub.Broadcast(event.ProfileID, data) {
		s.logger.Warn("activity event dropped", "type", event.Type, "profile_id", event.ProfileID)
	}
}

// Hub returns the subscription hub (used by streaming handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEvent formats an event for streaming payloads.
func MarshalEvent(event Event) ([]byte, error) {
	event.At = event.At.UTC()
	return json.Marshal(event)
}
