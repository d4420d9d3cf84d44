package domain

import (
	"errors"
	"strings"
)

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomClosed           = errors.New("room closed")
	ErrDuplicateParticipant = errors.New("participant already in room")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrStreamNotFound       = errors.New("stream not found")
	ErrSelfSubscription     = errors.New("cannot subscribe to own stream")
	ErrNegotiationFailed    = errors.New("media negotiation failed")
	ErrTimeout              = errors.New("timeout")
	ErrInvalidExpectation   = errors.New("invalid expectation")
	ErrDisplayNameEmpty     = errors.New("display name empty")
	ErrDisplayNameTooLong   = errors.New("display name too long")
	ErrInvalidID            = errors.New("invalid id")
	ErrUnknownKind          = errors.New("unknown stream kind")
	ErrUnknownState         = errors.New("unknown state")
)

// OpError carries the ids a caller needs to retry or report a failure.
type OpError struct {
	Op          string
	Room        RoomID
	Participant ParticipantID
	Stream      StreamID
	Err         error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Room != "" {
		b.WriteString(" room=")
		b.WriteString(string(e.Room))
	}
	if e.Participant != "" {
		b.WriteString(" participant=")
		b.WriteString(string(e.Participant))
	}
	if e.Stream != "" {
		b.WriteString(" stream=")
		b.WriteString(string(e.Stream))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline expiry of a suspending call.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
