package core

import (
	"context"
	"time"

	"github.com/dkeye/Rooms/internal/domain"
)

// Expectation configures a barrier wait. Participants names the set that
// must reach Transition; when empty, Count transitions of any participant
// observed after registration release the barrier.
type Expectation struct {
	Transition   domain.ParticipantState
	Participants []domain.ParticipantID
	Count        int
	// Timeout bounds the wait in addition to the caller's context.
	Timeout time.Duration
}

// StreamFailure describes a media-engine reported failure after the room
// demoted the stream.
type StreamFailure struct {
	Ref             StreamRef
	RemainingActive int
	Subscribers     []domain.ParticipantID
}

// Notifier receives room transitions in the order the room applied them.
type Notifier interface {
	Notify(domain.Event)
}

type NotifierFunc func(domain.Event)

func (f NotifierFunc) Notify(ev domain.Event) { f(ev) }

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	ID() domain.RoomID
	State() domain.RoomState
	MemberCount() int
	Snapshot() domain.RoomSnapshot
	Participant(id domain.ParticipantID) (domain.Participant, bool)

	// Admit registers the participant as JOINING.
	Admit(ctx context.Context, id domain.ParticipantID, displayName string) (domain.Participant, error)
	Activate(id domain.ParticipantID) (domain.Participant, error)
	Depart(id domain.ParticipantID) (domain.Departure, error)
	UpdateDisplayName(id domain.ParticipantID, displayName string) error

	Publish(ctx context.Context, id domain.ParticipantID, kind domain.StreamKind) (domain.StreamEndpoint, error)
	Unpublish(id domain.ParticipantID, stream domain.StreamID) error
	Subscribe(id domain.ParticipantID, stream domain.StreamID) (domain.SubscriptionHandle, error)
	Unsubscribe(id domain.ParticipantID, stream domain.StreamID) error
	ActiveStreams(except domain.ParticipantID) []domain.StreamEndpoint
	OnStreamFailed(stream domain.StreamID) (StreamFailure, error)

	Await(ctx context.Context, exp Expectation) error

	// Hold marks a join in flight; the room cannot close until Release.
	Hold() bool
	Release()
	// TryClose closes the room when it is empty, unheld and has no waiters.
	TryClose() bool
}

type RoomInfo struct {
	ID               domain.RoomID    `json:"id"`
	State            domain.RoomState `json:"state"`
	ParticipantCount int              `json:"participant_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	// Acquire is GetOrCreate plus Hold, atomic with respect to removal.
	Acquire(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, error)
	RemoveRoomIfEmpty(id domain.RoomID) bool
	ScheduleRemoval(id domain.RoomID)
	List() []RoomInfo
	Shutdown()
}
