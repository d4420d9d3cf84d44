// Package domain contains entity without logic, just meta-data
package domain

import "unicode/utf8"

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
	DefaultDisplayName  = "guest"
	maxRoomIDLen        = 64
)

// ValidateDisplayName checks a human readable label.
func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

func ValidateParticipantID(id ParticipantID) error {
	if len(id) == 0 || len(id) > MaxParticipantIDLen {
		return ErrInvalidID
	}
	return nil
}

func ValidateRoomID(id RoomID) error {
	if len(id) == 0 || len(id) > maxRoomIDLen {
		return ErrInvalidID
	}
	return nil
}
