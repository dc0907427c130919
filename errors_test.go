package bowtie

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorMessage(t *testing.T) {
	err := &ClientError{
		Type:       ErrorTypeHTTPStatus,
		Message:    "Not Found",
		Method:     "users.get",
		RequestID:  "req-1",
		StatusCode: 404,
		Cause:      errors.New("boom"),
	}

	assert.Equal(t, "[req-1] users.get: HTTPStatus: Not Found (status 404): boom", err.Error())
	assert.Equal(t, "Transport: down", newError(ErrorTypeTransport, "down", nil).Error())

	var nilErr *ClientError
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}

func TestClientErrorIs(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("wrapped: %w", newError(ErrorTypeTransport, "GET /users", cause))

	assert.True(t, errors.Is(err, ErrTransport))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, cause))
}

func TestClientErrorDebugInfo(t *testing.T) {
	err := &ClientError{Type: ErrorTypeTimeout, Message: "slow", Group: "users", Command: "get", RequestID: "r"}
	info := err.DebugInfo()

	assert.Contains(t, info, "Error Type: Timeout")
	assert.Contains(t, info, "Command: users/get")
	assert.Contains(t, info, "Request ID: r")
}

func TestWithCall(t *testing.T) {
	d := mustCompile(t, getUserSpec())

	err := withCall(newError(ErrorTypeTransport, "down", nil), d, "req-9")
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "users.get", ce.Method)
	assert.Equal(t, "users", ce.Group)
	assert.Equal(t, "get", ce.Command)
	assert.Equal(t, "req-9", ce.RequestID)

	preset := &ClientError{Type: ErrorTypeTransport, Method: "other", RequestID: "keep"}
	require.True(t, errors.As(withCall(preset, d, "req-9"), &ce))
	assert.Equal(t, "other", ce.Method)
	assert.Equal(t, "keep", ce.RequestID)
	assert.Equal(t, "users", ce.Group)
	assert.Empty(t, preset.Group)

	cause := errors.New("reset by peer")
	wrapped := fmt.Errorf("send: %w", newError(ErrorTypeTransport, "down", cause))
	annotated := withCall(wrapped, d, "req-9")
	assert.True(t, errors.Is(annotated, ErrTransport))
	assert.True(t, errors.Is(annotated, cause))

	annotated = withCall(ErrCircuitOpen, d, "req-9")
	assert.True(t, errors.Is(annotated, ErrCircuitOpen))
	assert.Empty(t, ErrCircuitOpen.Method)
	assert.Empty(t, ErrCircuitOpen.RequestID)

	plain := errors.New("plain")
	assert.Same(t, plain, withCall(plain, d, "req-9"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{newError(ErrorTypeTransport, "", nil), true},
		{newError(ErrorTypeTimeout, "", nil), true},
		{newError(ErrorTypeCircuitOpen, "", nil), true},
		{newError(ErrorTypeBulkheadFull, "", nil), true},
		{&ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 429}, true},
		{&ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 400}, false},
		{newError(ErrorTypeArguments, "", nil), false},
		{context.Canceled, false},
		{newError(ErrorTypeTransport, "", context.Canceled), false},
		{newError(ErrorTypeTransport, "", context.DeadlineExceeded), false},
		{newError(ErrorTypeTimeout, "", context.DeadlineExceeded), true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}

func TestIsCallerFault(t *testing.T) {
	assert.True(t, isCallerFault(newError(ErrorTypeArguments, "", nil)))
	assert.True(t, isCallerFault(newError(ErrorTypeSerialization, "", nil)))
	assert.True(t, isCallerFault(&ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 404}))
	assert.False(t, isCallerFault(newError(ErrorTypeDeserialization, "", nil)))
	assert.False(t, isCallerFault(context.DeadlineExceeded))
}
