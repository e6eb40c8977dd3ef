// Package chat relays fixed-size chat datagrams between UDP peers.
//
// A frame is one byte of username length, the username, the message text,
// then zero padding up to FrameSize. Peers are learned from the datagrams
// they send; the relay has no join handshake.
package chat

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// FrameSize is the length of every frame on the wire.
	FrameSize = 4096
	// MaxUsernameLen is the largest username the length byte can describe.
	MaxUsernameLen = 255
)

var (
	ErrEmptyFrame       = errors.New("empty frame")
	ErrTruncatedFrame   = errors.New("frame shorter than its username")
	ErrUsernameTooLong  = errors.New("username too long")
	ErrMessageTooLong   = errors.New("message too long")
	ErrInvalidEncoding  = errors.New("frame is not valid UTF-8")
	ErrUsernameRequired = errors.New("username is required")
)

// Message is one decoded chat frame.
type Message struct {
	Username string
	Text     string
}

// Encode builds the padded frame for m.
func Encode(m Message) ([]byte, error) {
	if m.Username == "" {
		return nil, ErrUsernameRequired
	}
	if len(m.Username) > MaxUsernameLen {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrUsernameTooLong, len(m.Username), MaxUsernameLen)
	}
	if room := FrameSize - 1 - len(m.Username); len(m.Text) > room {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLong, len(m.Text), room)
	}

	frame := make([]byte, FrameSize)
	frame[0] = byte(len(m.Username))
	n := 1 + copy(frame[1:], m.Username)
	copy(frame[n:], m.Text)
	return frame, nil
}

// Decode parses a frame. Trailing zero padding is stripped from the text, and
// bytes past FrameSize are ignored. An unpadded frame is accepted.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, ErrEmptyFrame
	}
	if len(frame) > FrameSize {
		frame = frame[:FrameSize]
	}

	end := 1 + int(frame[0])
	if end > len(frame) {
		return Message{}, fmt.Errorf("%w: username needs %d bytes, frame has %d", ErrTruncatedFrame, end-1, len(frame)-1)
	}
	username := frame[1:end]
	text := bytes.TrimRight(frame[end:], "\x00")

	if !utf8.Valid(username) || !utf8.Valid(text) {
		return Message{}, ErrInvalidEncoding
	}
	return Message{Username: string(username), Text: string(text)}, nil
}
