package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "not found", err: NotFoundError("cube"), want: KindNotFound},
		{name: "invalid argument", err: InvalidArgumentf("floor", "bad %d", 1), want: KindInvalidArgument},
		{name: "permission denied", err: PermissionDeniedError("sort", ""), want: KindPermissionDenied},
		{name: "rate limited", err: RateLimitedError("sort"), want: KindRateLimited},
		{name: "malformed", err: MalformedRequestf("decode"), want: KindMalformedRequest},
		{name: "wrapped", err: fmt.Errorf("call: %w", NotFoundError("x")), want: KindNotFound},
		{name: "bare sentinel", err: fmt.Errorf("ctx: %w", ErrInvalidArgument), want: KindInvalidArgument},
		{name: "unclassified", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "operation not found: cube", NotFoundError("cube").Error())
	assert.Equal(t, "floor: x must be finite", InvalidArgumentf("floor", "x must be finite").Error())
	assert.Equal(t, "sort: denied by policy", PermissionDeniedError("sort", "").Error())
	assert.Equal(t, "sort: maintenance", PermissionDeniedError("sort", "maintenance").Error())
	assert.Equal(t, "Internal", (&Error{Kind: KindInternal}).Error())
}

func TestResponseRoundTrip(t *testing.T) {
	resp, err := NewResultResponse(json.RawMessage(`3`), "bool", false)
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":false,"result_type":"bool","id":3}`, string(data))

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	var value bool
	require.NoError(t, decoded.Decode(&value))
	assert.False(t, value)
	assert.NoError(t, decoded.Err())
}

func TestErrorResponseSurvivesTheWire(t *testing.T) {
	resp := NewErrorResponse(json.RawMessage(`"a"`), fmt.Errorf("wrapped: %w", NotFoundError("cube")))

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"result"`)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, KindNotFound, decoded.Error.Kind)

	err = decoded.Decode(new(any))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "cube")
}

func TestDecodeWithoutResult(t *testing.T) {
	err := Response{}.Decode(new(any))
	assert.ErrorContains(t, err, "no result")
}

func TestInternalErrorHasNoSentinel(t *testing.T) {
	err := (&Error{Kind: KindInternal, Message: "boom"})
	for _, sentinel := range []error{ErrNotFound, ErrInvalidArgument, ErrPermissionDenied, ErrMalformedRequest, ErrRateLimited} {
		assert.NotErrorIs(t, err, sentinel)
	}
}
