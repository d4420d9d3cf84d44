package app

import "github.com/dkeye/Rooms/internal/core"

type FailureAction int

const (
	KeepSession FailureAction = iota
	EvictParticipant
)

func (a FailureAction) String() string {
	if a == EvictParticipant {
		return "evict"
	}
	return "keep"
}

// Policy decides what happens to a participant after the media engine
// reported one of its streams as failed. The stream is already demoted.
type Policy interface {
	OnStreamFailure(f core.StreamFailure) FailureAction
}

// SimplePolicy keeps the session while any stream is still active.
type SimplePolicy struct{}

func (SimplePolicy) OnStreamFailure(f core.StreamFailure) FailureAction {
	if f.RemainingActive == 0 {
		return EvictParticipant
	}
	return KeepSession
}
