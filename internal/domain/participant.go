// Package domain contains entities and value types without orchestration logic.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
	MaxMetadataEntries  = 16
)

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrDisplayNameTooLong   = errors.New("display name too long")
	ErrTooManyAttributes    = errors.New("too many metadata attributes")
)

// ParticipantID is the stable identity of a participant. It survives reconnects,
// unlike the connection id.
type ParticipantID string

func (id ParticipantID) Validate() error {
	if len(strings.TrimSpace(string(id))) == 0 {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	return nil
}

// Metadata is display/user data supplied by the client or the auth layer.
type Metadata struct {
	DisplayName string            `json:"displayName,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (m Metadata) Validate() error {
	if len(m.DisplayName) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	if len(m.Attributes) > MaxMetadataEntries {
		return ErrTooManyAttributes
	}
	return nil
}

// SetDisplayName keeps the name within bounds.
func (m *Metadata) SetDisplayName(name string) error {
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	m.DisplayName = name
	return nil
}
