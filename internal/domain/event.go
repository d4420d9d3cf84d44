package domain

import "time"

type EventType string

const (
	EventParticipantActive   EventType = "participant_active"
	EventParticipantLeft     EventType = "participant_left"
	EventStreamPublished     EventType = "stream_published"
	EventStreamUnpublished   EventType = "stream_unpublished"
	EventStreamFailed        EventType = "stream_failed"
	EventSubscriptionRemoved EventType = "subscription_removed"
	EventDisplayNameChanged  EventType = "display_name_changed"
)

// Event is a room transition forwarded to gateways.
// Fields not relevant to Type are left zero.
type Event struct {
	Type        EventType     `json:"type"`
	Room        RoomID        `json:"room"`
	Participant ParticipantID `json:"participant"`
	DisplayName string        `json:"display_name,omitempty"`
	Stream      StreamID      `json:"stream,omitempty"`
	Kind        string        `json:"kind,omitempty"`
	At          time.Time     `json:"at"`
}
