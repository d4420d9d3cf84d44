package core

import (
	"context"

	"github.com/dkeye/Rooms/internal/domain"
	"github.com/pion/webrtc/v4"
)

// StreamRef addresses a stream across rooms.
type StreamRef struct {
	Room        domain.RoomID
	Participant domain.ParticipantID
	Stream      domain.StreamID
	Kind        domain.StreamKind
}

// Key is unique across the whole server.
func (r StreamRef) Key() string { return string(r.Room) + "/" + string(r.Stream) }

// MediaEngine negotiates and tears down the media behind stream endpoints.
// Rooms call it outside their lock.
type MediaEngine interface {
	// ConfirmActive blocks until the stream's media is negotiated, ctx expires
	// or negotiation fails.
	ConfirmActive(ctx context.Context, ref StreamRef) bool
	// Destroy releases the media of a stream. Must not block on the room.
	Destroy(ref StreamRef)
	// OnStreamFailed sets the callback the engine invokes when an active
	// stream degrades.
	OnStreamFailed(func(ref StreamRef))
}

// SubscriptionSink is implemented by engines that forward media to
// subscribers.
type SubscriptionSink interface {
	Attach(ref StreamRef, sub domain.SubscriptionHandle) error
	Detach(ref StreamRef, sub domain.SubscriptionHandle)
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
