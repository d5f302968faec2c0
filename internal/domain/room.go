package domain

import (
	"errors"
	"strings"
)

const MaxRoomCodeLen = 36

var (
	ErrRoomCodeEmpty   = errors.New("room code empty")
	ErrRoomCodeTooLong = errors.New("room code too long")
)

type RoomCode string

func (c RoomCode) Validate() error {
	if len(strings.TrimSpace(string(c))) == 0 {
		return ErrRoomCodeEmpty
	}
	if len(c) > MaxRoomCodeLen {
		return ErrRoomCodeTooLong
	}
	return nil
}
