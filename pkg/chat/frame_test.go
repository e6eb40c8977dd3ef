package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeLayout(t *testing.T) {
	frame, err := Encode(Message{Username: "bob", Text: "hi"})
	require.NoError(t, err)
	require.Len(t, frame, FrameSize)

	assert.Equal(t, byte(3), frame[0])
	assert.Equal(t, "bob", string(frame[1:4]))
	assert.Equal(t, "hi", string(frame[4:6]))
	assert.Equal(t, make([]byte, FrameSize-6), frame[6:], "rest is zero padding")
}

func TestEncodeLimits(t *testing.T) {
	_, err := Encode(Message{})
	assert.ErrorIs(t, err, ErrUsernameRequired)

	_, err = Encode(Message{Username: strings.Repeat("u", MaxUsernameLen)})
	assert.NoError(t, err)
	_, err = Encode(Message{Username: strings.Repeat("u", MaxUsernameLen+1)})
	assert.ErrorIs(t, err, ErrUsernameTooLong)

	// The username shares the frame with the text.
	full := strings.Repeat("m", FrameSize-1-len("ann"))
	_, err = Encode(Message{Username: "ann", Text: full})
	assert.NoError(t, err)
	_, err = Encode(Message{Username: "ann", Text: full + "m"})
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		want    Message
		wantErr error
	}{
		{name: "unpadded", frame: []byte("\x03bobhello"), want: Message{Username: "bob", Text: "hello"}},
		{name: "padded", frame: append([]byte("\x02jo hey"), make([]byte, 100)...), want: Message{Username: "jo", Text: " hey"}},
		{name: "empty text", frame: []byte("\x01x"), want: Message{Username: "x"}},
		{name: "empty username", frame: []byte("\x00text"), want: Message{Text: "text"}},
		{name: "multibyte", frame: []byte("\x06こんにちは"), want: Message{Username: "こん", Text: "にちは"}},
		{name: "empty", frame: nil, wantErr: ErrEmptyFrame},
		{name: "truncated username", frame: []byte("\x09bob"), wantErr: ErrTruncatedFrame},
		{name: "invalid utf8", frame: []byte("\x01a\xff\xfe"), wantErr: ErrInvalidEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.frame)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeIgnoresBytesPastFrame(t *testing.T) {
	frame, err := Encode(Message{Username: "a", Text: "b"})
	require.NoError(t, err)
	got, err := Decode(append(frame, "trailing"...))
	require.NoError(t, err)
	assert.Equal(t, Message{Username: "a", Text: "b"}, got)
}

func TestFrameProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		username := rapid.StringMatching(`[a-zA-Z0-9_]{1,32}`).Draw(t, "username")
		// Text ending in NUL would lose the NUL to padding.
		text := rapid.StringMatching(`[^\x00]{0,200}`).Draw(t, "text")

		frame, err := Encode(Message{Username: username, Text: text})
		require.NoError(t, err)
		assert.Len(t, frame, FrameSize)

		got, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, Message{Username: username, Text: text}, got)
	})
}
