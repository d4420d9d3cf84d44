package domain

import "time"

type ParticipantID string

type ParticipantState int

const (
	ParticipantJoining ParticipantState = iota
	ParticipantActive
	ParticipantLeaving
	ParticipantLeft
)

var participantStateNames = [...]string{"joining", "active", "leaving", "left"}

func (s ParticipantState) String() string {
	if int(s) < len(participantStateNames) {
		return participantStateNames[s]
	}
	return "unknown"
}

func (s ParticipantState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ParticipantState) UnmarshalText(b []byte) error {
	for i, n := range participantStateNames {
		if n == string(b) {
			*s = ParticipantState(i)
			return nil
		}
	}
	return ErrUnknownState
}

// Participant is one identity's membership in a room.
// No transport or lifecycle logic here.
type Participant struct {
	ID            ParticipantID    `json:"id"`
	DisplayName   string           `json:"display_name"`
	State         ParticipantState `json:"state"`
	Streams       []StreamEndpoint `json:"streams"`
	Subscriptions []StreamID       `json:"subscriptions"`
	JoinedAt      time.Time        `json:"joined_at"`
}

// Stream looks up one of the participant's own streams.
func (p Participant) Stream(id StreamID) (StreamEndpoint, bool) {
	for _, s := range p.Streams {
		if s.ID == id {
			return s, true
		}
	}
	return StreamEndpoint{}, false
}

func (p Participant) SubscribedTo(id StreamID) bool {
	for _, s := range p.Subscriptions {
		if s == id {
			return true
		}
	}
	return false
}

// Departure tells the caller whether a leave request had any effect.
type Departure int

const (
	Departed Departure = iota
	// NoOpDeparture is returned for unknown, leaving or already left
	// participants. Duplicate leaves are expected under client retries.
	NoOpDeparture
)

func (d Departure) String() string {
	if d == NoOpDeparture {
		return "noop"
	}
	return "departed"
}
