package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamKindText(t *testing.T) {
	for _, k := range []StreamKind{KindAudio, KindVideo, KindScreen} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got StreamKind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}

	k, err := ParseStreamKind("SCREEN")
	require.NoError(t, err)
	assert.Equal(t, KindScreen, k)

	_, err = ParseStreamKind("hologram")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "unknown", StreamKind(42).String())
}

func TestSnapshotJSON(t *testing.T) {
	in := RoomSnapshot{
		ID:    "r1",
		State: RoomActive,
		Participants: []Participant{{
			ID:    "A",
			State: ParticipantActive,
			Streams: []StreamEndpoint{
				{ID: "A_audio", Owner: "A", Kind: KindAudio, Active: true},
			},
		}},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"audio"`)

	var out RoomSnapshot
	require.NoError(t, json.Unmarshal(b, &out))
	p, ok := out.Participant("A")
	require.True(t, ok)
	assert.Equal(t, ParticipantActive, p.State)
	_, ok = p.Stream("A_audio")
	assert.True(t, ok)
}

func TestOpErrorWrapping(t *testing.T) {
	err := fmt.Errorf("join: %w", &OpError{Op: "publish", Room: "r1", Participant: "A", Err: ErrTimeout})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTimeout(err))

	var op *OpError
	require.True(t, errors.As(err, &op))
	assert.Equal(t, ParticipantID("A"), op.Participant)
	assert.Equal(t, "join: publish room=r1 participant=A: timeout", err.Error())
}

func TestValidation(t *testing.T) {
	assert.ErrorIs(t, ValidateDisplayName(""), ErrDisplayNameEmpty)
	assert.ErrorIs(t, ValidateDisplayName(strings.Repeat("я", MaxDisplayNameLen+1)), ErrDisplayNameTooLong)
	assert.NoError(t, ValidateDisplayName(strings.Repeat("я", MaxDisplayNameLen)))

	assert.ErrorIs(t, ValidateParticipantID(""), ErrInvalidID)
	assert.ErrorIs(t, ValidateRoomID(RoomID(strings.Repeat("r", 65))), ErrInvalidID)
	assert.NoError(t, ValidateRoomID("lobby"))
}

func TestDepartureString(t *testing.T) {
	assert.Equal(t, "departed", Departed.String())
	assert.Equal(t, "noop", NoOpDeparture.String())
}
