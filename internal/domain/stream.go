package domain

import (
	"strings"
	"time"
)

type StreamID string

type StreamKind int

const (
	KindAudio StreamKind = iota
	KindVideo
	KindScreen
)

var streamKindNames = [...]string{"audio", "video", "screen"}

func (k StreamKind) String() string {
	if int(k) < len(streamKindNames) {
		return streamKindNames[k]
	}
	return "unknown"
}

func ParseStreamKind(s string) (StreamKind, error) {
	for i, n := range streamKindNames {
		if strings.EqualFold(n, s) {
			return StreamKind(i), nil
		}
	}
	return 0, ErrUnknownKind
}

func (k StreamKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *StreamKind) UnmarshalText(b []byte) error {
	v, err := ParseStreamKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// StreamEndpoint is one published media track.
// Active only after the media engine confirmed negotiation.
type StreamEndpoint struct {
	ID          StreamID      `json:"id"`
	Owner       ParticipantID `json:"owner"`
	Kind        StreamKind    `json:"kind"`
	Active      bool          `json:"active"`
	PublishedAt time.Time     `json:"published_at"`
}

// SubscriptionHandle identifies a participant's reference to another
// participant's stream. The handle never owns the stream.
type SubscriptionHandle struct {
	ID         string        `json:"id"`
	Room       RoomID        `json:"room"`
	Subscriber ParticipantID `json:"subscriber"`
	Stream     StreamID      `json:"stream"`
}
