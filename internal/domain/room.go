package domain

import "time"

type RoomID string

type RoomState int

const (
	RoomCreating RoomState = iota
	RoomActive
	RoomClosing
	RoomClosed
)

var roomStateNames = [...]string{"creating", "active", "closing", "closed"}

func (s RoomState) String() string {
	if int(s) < len(roomStateNames) {
		return roomStateNames[s]
	}
	return "unknown"
}

func (s RoomState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RoomState) UnmarshalText(b []byte) error {
	for i, n := range roomStateNames {
		if n == string(b) {
			*s = RoomState(i)
			return nil
		}
	}
	return ErrUnknownState
}

// RoomSnapshot is a read-only copy of a room taken under its lock.
// Participants are listed in join order.
type RoomSnapshot struct {
	ID           RoomID        `json:"id"`
	State        RoomState     `json:"state"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Participant returns the snapshot entry for id.
func (s RoomSnapshot) Participant(id ParticipantID) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
