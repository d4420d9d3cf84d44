package core

type SessionID string

// MemberSession binds a gateway client to its transport endpoints.
// Room membership itself lives in the room, not here.
type MemberSession interface {
	ID() SessionID
	Signal() SignalConnection
	Media() MediaConnection
	UpdateSignal(SignalConnection) MemberSession
	UpdateMedia(MediaConnection) MemberSession
}
